package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEntryNotFound   = errors.New("watchlist entry not found")
	ErrSessionNotFound = errors.New("stream session not found")
)

const sessionColumns = `stream_id, username, status, start_time, end_time,
	last_chunk_number, notification_sent, full_video_url`

// SessionTx is the locked view of the store inside one transaction.
// Rows read with the Lock* methods stay locked until the transaction ends.
type SessionTx interface {
	LockEntry(ctx context.Context, username string) (*WatchlistEntry, error)
	SetLive(ctx context.Context, username string, live bool) error
	LockSession(ctx context.Context, streamID string) (*StreamSession, error)
	LockActiveSessions(ctx context.Context, username string) ([]*StreamSession, error)
	InsertSession(ctx context.Context, s *StreamSession) error
	UpdateSession(ctx context.Context, s *StreamSession) error
	InsertNotification(ctx context.Context, n *Notification) error
}

// StreamRepository handles watchlist, session and notification persistence.
type StreamRepository struct {
	db *DB
}

// NewStreamRepository creates a new stream repository.
func NewStreamRepository(db *DB) *StreamRepository {
	return &StreamRepository{db: db}
}

// InTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func (r *StreamRepository) InTx(ctx context.Context, fn func(SessionTx) error) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer rollback(tx)

	if err := fn(&sessionTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListWatchlist returns every tracked account ordered by id.
func (r *StreamRepository) ListWatchlist(ctx context.Context) ([]*WatchlistEntry, error) {
	query := `
		SELECT id, user_handle, is_live, display_image_url
		FROM watchlist_entries
		ORDER BY id
	`

	rows, err := r.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	defer rows.Close()

	var entries []*WatchlistEntry
	for rows.Next() {
		e := &WatchlistEntry{}
		if err := rows.Scan(&e.ID, &e.UserHandle, &e.IsLive, &e.DisplayImageURL); err != nil {
			return nil, fmt.Errorf("scan watchlist entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watchlist: %w", err)
	}

	return entries, nil
}

// GetSession retrieves a session by stream id without locking it.
func (r *StreamRepository) GetSession(ctx context.Context, streamID string) (*StreamSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM stream_sessions WHERE stream_id = $1`

	s, err := scanSession(r.db.conn.QueryRowContext(ctx, query, streamID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// LastChunkNumber returns the capture cursor of a session.
func (r *StreamRepository) LastChunkNumber(ctx context.Context, streamID string) (int, error) {
	query := `SELECT last_chunk_number FROM stream_sessions WHERE stream_id = $1`

	var n int
	if err := r.db.conn.QueryRowContext(ctx, query, streamID).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrSessionNotFound
		}
		return 0, fmt.Errorf("get last chunk number: %w", err)
	}
	return n, nil
}

// AdvanceChunkCursor moves the capture cursor forward. The cursor never
// moves backwards; a lower chunk number leaves the row unchanged.
func (r *StreamRepository) AdvanceChunkCursor(ctx context.Context, streamID string, chunkNumber int) error {
	query := `
		UPDATE stream_sessions
		SET last_chunk_number = $2
		WHERE stream_id = $1 AND last_chunk_number < $2
	`

	if _, err := r.db.conn.ExecContext(ctx, query, streamID, chunkNumber); err != nil {
		return fmt.Errorf("advance chunk cursor: %w", err)
	}
	return nil
}

// SetFullVideoURL records the final video url while the session is active.
// It reports whether the session was updated.
func (r *StreamRepository) SetFullVideoURL(ctx context.Context, streamID, url string) (bool, error) {
	query := `
		UPDATE stream_sessions
		SET full_video_url = $2
		WHERE stream_id = $1 AND status = $3
	`

	result, err := r.db.conn.ExecContext(ctx, query, streamID, url, string(StatusActive))
	if err != nil {
		return false, fmt.Errorf("set full video url: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set full video url: %w", err)
	}
	return affected > 0, nil
}

// ListNotifications returns the most recent notifications, newest first.
func (r *StreamRepository) ListNotifications(ctx context.Context, limit int) ([]*Notification, error) {
	query := `
		SELECT id, account_id, account_name, status, link, stream_id, created_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n := &Notification{}
		if err := rows.Scan(&n.ID, &n.AccountID, &n.AccountName, &n.Status, &n.Link, &n.StreamID, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}

	return notifications, nil
}

type sessionTx struct {
	tx *sql.Tx
}

func (t *sessionTx) LockEntry(ctx context.Context, username string) (*WatchlistEntry, error) {
	query := `
		SELECT id, user_handle, is_live, display_image_url
		FROM watchlist_entries
		WHERE user_handle = $1
		FOR UPDATE
	`

	e := &WatchlistEntry{}
	err := t.tx.QueryRowContext(ctx, query, username).Scan(&e.ID, &e.UserHandle, &e.IsLive, &e.DisplayImageURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("lock watchlist entry: %w", err)
	}
	return e, nil
}

func (t *sessionTx) SetLive(ctx context.Context, username string, live bool) error {
	query := `
		UPDATE watchlist_entries
		SET is_live = $2, updated_at = NOW()
		WHERE user_handle = $1
	`

	result, err := t.tx.ExecContext(ctx, query, username, live)
	if err != nil {
		return fmt.Errorf("set live: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set live: %w", err)
	}
	if affected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (t *sessionTx) LockSession(ctx context.Context, streamID string) (*StreamSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM stream_sessions WHERE stream_id = $1 FOR UPDATE`

	s, err := scanSession(t.tx.QueryRowContext(ctx, query, streamID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lock session: %w", err)
	}
	return s, nil
}

func (t *sessionTx) LockActiveSessions(ctx context.Context, username string) ([]*StreamSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM stream_sessions
		WHERE username = $1 AND status = $2
		ORDER BY start_time DESC
		FOR UPDATE`

	rows, err := t.tx.QueryContext(ctx, query, username, string(StatusActive))
	if err != nil {
		return nil, fmt.Errorf("lock active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*StreamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active sessions: %w", err)
	}
	return sessions, nil
}

func (t *sessionTx) InsertSession(ctx context.Context, s *StreamSession) error {
	query := `
		INSERT INTO stream_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := t.tx.ExecContext(ctx, query,
		s.StreamID, s.Username, string(s.Status), s.StartTime, nullTime(s.EndTime),
		s.LastChunkNumber, s.NotificationSent, nullString(s.FullVideoURL),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSession writes the lifecycle-owned columns. The chunk cursor and
// the final video url belong to the capture task and are left untouched.
func (t *sessionTx) UpdateSession(ctx context.Context, s *StreamSession) error {
	query := `
		UPDATE stream_sessions
		SET status = $2, start_time = $3, end_time = $4, notification_sent = $5
		WHERE stream_id = $1
	`

	result, err := t.tx.ExecContext(ctx, query,
		s.StreamID, string(s.Status), s.StartTime, nullTime(s.EndTime), s.NotificationSent,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (t *sessionTx) InsertNotification(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (id, account_id, account_name, status, link, stream_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := t.tx.ExecContext(ctx, query,
		n.ID, n.AccountID, n.AccountName, n.Status, n.Link, n.StreamID, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*StreamSession, error) {
	s := &StreamSession{}
	var (
		status       string
		endTime      sql.NullTime
		fullVideoURL sql.NullString
	)

	err := row.Scan(
		&s.StreamID, &s.Username, &status, &s.StartTime, &endTime,
		&s.LastChunkNumber, &s.NotificationSent, &fullVideoURL,
	)
	if err != nil {
		return nil, err
	}

	s.Status = SessionStatus(status)
	if endTime.Valid {
		t := endTime.Time
		s.EndTime = &t
	}
	s.FullVideoURL = fullVideoURL.String
	return s, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
