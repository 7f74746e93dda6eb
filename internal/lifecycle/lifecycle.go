package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/watchlist-supervisor/internal/db"
	"github.com/xpadev-net/watchlist-supervisor/internal/ids"
	"github.com/xpadev-net/watchlist-supervisor/internal/log"
	"github.com/xpadev-net/watchlist-supervisor/internal/metrics"
	"github.com/xpadev-net/watchlist-supervisor/internal/notify"
	"github.com/xpadev-net/watchlist-supervisor/internal/supervisor"
)

// cancelTimeout bounds how long a transition waits for a capture task to
// return after cancelling it.
const cancelTimeout = 30 * time.Second

// Outcome describes what a start transition did.
type Outcome string

const (
	OutcomeStarted   Outcome = "started"
	OutcomeRestarted Outcome = "restarted"
)

// StartResult is returned by HandleStreamStart.
type StartResult struct {
	StreamID string
	Outcome  Outcome
}

// EndResult is returned by HandleStreamEnd. Ended is false when the
// account had no active session.
type EndResult struct {
	StreamID string
	Ended    bool
}

// Store runs locked read-modify-write steps.
type Store interface {
	InTx(ctx context.Context, fn func(db.SessionTx) error) error
}

// Tasks is the registry of capture tasks.
type Tasks interface {
	Spawn(name string, fn supervisor.TaskFunc)
	CancelAndAwait(ctx context.Context, name string) error
}

// VideoStopper stops upstream live-video capture.
type VideoStopper interface {
	StopRecording(ctx context.Context, username string) error
}

// CommentRecorder controls the side-channel recorder.
type CommentRecorder interface {
	StartRecording(ctx context.Context, username, streamID string) error
	StopRecording(ctx context.Context, username string) error
}

// Publisher delivers notifications.
type Publisher interface {
	Publish(ev notify.Event)
}

// CaptureFactory builds the capture task body for a session.
type CaptureFactory func(username, streamID string) supervisor.TaskFunc

// Config holds the identifiers used by transitions.
type Config struct {
	OwnerUserID         string
	StreamDetailBaseURL string
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Store      Store
	Tasks      Tasks
	Video      VideoStopper
	Comments   CommentRecorder
	Publisher  Publisher
	NewCapture CaptureFactory
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Machine applies start and end transitions for watched accounts.
type Machine struct {
	cfg        Config
	store      Store
	tasks      Tasks
	video      VideoStopper
	comments   CommentRecorder
	publisher  Publisher
	newCapture CaptureFactory
	metrics    *metrics.Metrics
	now        func() time.Time
	locks      *keyedMutex
}

// New creates a lifecycle state machine.
func New(cfg Config, deps Deps) *Machine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		cfg:        cfg,
		store:      deps.Store,
		tasks:      deps.Tasks,
		video:      deps.Video,
		comments:   deps.Comments,
		publisher:  deps.Publisher,
		newCapture: deps.NewCapture,
		metrics:    deps.Metrics,
		now:        now,
		locks:      newKeyedMutex(),
	}
}

// StreamLink returns the detail link of a stream.
func (m *Machine) StreamLink(streamID string) string {
	return fmt.Sprintf("%s/streams/%s", m.cfg.StreamDetailBaseURL, streamID)
}

// HandleStreamStart records that username went live in roomID. An empty
// roomID yields a synthesized stream id. Repeating the call for an active
// session restarts its capture task.
func (m *Machine) HandleStreamStart(ctx context.Context, username, roomID string) (StartResult, error) {
	unlock := m.locks.Lock(username)
	defer unlock()

	now := m.now()
	streamID := ids.StreamID(roomID, m.cfg.OwnerUserID, now)
	logger := log.Stream(username, streamID)

	var (
		entry   *db.WatchlistEntry
		session *db.StreamSession
		outcome Outcome
	)

	err := m.store.InTx(ctx, func(tx db.SessionTx) error {
		var err error
		entry, err = tx.LockEntry(ctx, username)
		if err != nil {
			return err
		}
		if !entry.IsLive {
			if err := tx.SetLive(ctx, username, true); err != nil {
				return err
			}
		}

		existing, err := tx.LockSession(ctx, streamID)
		if err != nil && !errors.Is(err, db.ErrSessionNotFound) {
			return err
		}

		if err := m.supersede(ctx, tx, username, streamID, now); err != nil {
			return err
		}

		switch {
		case existing != nil && existing.Status.IsActive():
			logger.Info("restarting active session")
			m.stopUpstream(ctx, logger, username)
			m.cancelTask(ctx, logger, streamID)
			existing.EndTime = nil
			if err := tx.UpdateSession(ctx, existing); err != nil {
				return err
			}
			session, outcome = existing, OutcomeRestarted

		case existing != nil:
			logger.Info("reopening ended session")
			existing.Status = db.StatusActive
			existing.EndTime = nil
			existing.NotificationSent = false
			if err := tx.UpdateSession(ctx, existing); err != nil {
				return err
			}
			session, outcome = existing, OutcomeStarted

		default:
			session = &db.StreamSession{
				StreamID:  streamID,
				Username:  username,
				Status:    db.StatusActive,
				StartTime: now,
			}
			if err := tx.InsertSession(ctx, session); err != nil {
				return err
			}
			outcome = OutcomeStarted
		}
		return nil
	})
	if err != nil {
		m.metrics.IncTransitionErrors()
		return StartResult{}, fmt.Errorf("handle stream start for %s: %w", username, err)
	}

	if !session.NotificationSent {
		m.publisher.Publish(notify.StreamStarted(username, streamID, entry.DisplayImageURL, now))
		if err := m.markNotificationSent(ctx, streamID); err != nil {
			logger.Warn("failed to mark start notification as sent", zap.Error(err))
		}
	}

	if err := m.comments.StartRecording(ctx, username, streamID); err != nil {
		logger.Warn("failed to start comment recorder", zap.Error(err))
	}

	m.tasks.Spawn(ids.TaskName(streamID), m.newCapture(username, streamID))

	if outcome == OutcomeRestarted {
		m.metrics.IncTransition(metrics.TransitionRestarted)
	} else {
		m.metrics.IncTransition(metrics.TransitionStarted)
	}
	logger.Info("stream start handled", zap.String("outcome", string(outcome)))

	return StartResult{StreamID: streamID, Outcome: outcome}, nil
}

// supersede ends every other active session of username so that a live
// account has exactly one active session.
func (m *Machine) supersede(ctx context.Context, tx db.SessionTx, username, streamID string, now time.Time) error {
	actives, err := tx.LockActiveSessions(ctx, username)
	if err != nil {
		return err
	}
	for _, s := range actives {
		if s.StreamID == streamID {
			continue
		}
		logger := log.Stream(username, s.StreamID)
		logger.Info("superseding active session", zap.String("new_stream_id", streamID))
		m.cancelTask(ctx, logger, s.StreamID)

		endTime := now
		s.Status = db.StatusEnded
		s.EndTime = &endTime
		if err := tx.UpdateSession(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) markNotificationSent(ctx context.Context, streamID string) error {
	return m.store.InTx(ctx, func(tx db.SessionTx) error {
		s, err := tx.LockSession(ctx, streamID)
		if err != nil {
			return err
		}
		if s.NotificationSent {
			return nil
		}
		s.NotificationSent = true
		return tx.UpdateSession(ctx, s)
	})
}

// HandleStreamEnd records that username stopped broadcasting. Without an
// active session only the live flag is cleared.
func (m *Machine) HandleStreamEnd(ctx context.Context, username string) (EndResult, error) {
	unlock := m.locks.Lock(username)
	defer unlock()

	now := m.now()

	var (
		entry *db.WatchlistEntry
		ended *db.StreamSession
	)

	err := m.store.InTx(ctx, func(tx db.SessionTx) error {
		var err error
		entry, err = tx.LockEntry(ctx, username)
		if err != nil {
			return err
		}
		if err := tx.SetLive(ctx, username, false); err != nil {
			return err
		}

		actives, err := tx.LockActiveSessions(ctx, username)
		if err != nil {
			return err
		}
		if len(actives) == 0 {
			log.Warn("stream end without active session", zap.String("username", username))
			return nil
		}

		s := actives[0]
		logger := log.Stream(username, s.StreamID)

		endTime := now
		s.Status = db.StatusEnded
		s.EndTime = &endTime
		s.NotificationSent = false
		if err := tx.UpdateSession(ctx, s); err != nil {
			return err
		}
		if s.FullVideoURL == "" {
			logger.Warn("stream ended without full video url")
		}

		m.stopUpstream(ctx, logger, username)
		m.cancelTask(ctx, logger, s.StreamID)

		if err := tx.InsertNotification(ctx, &db.Notification{
			ID:          ids.NewNotificationID(),
			AccountID:   entry.ID,
			AccountName: entry.UserHandle,
			Status:      db.NotificationStatusEnded,
			Link:        m.StreamLink(s.StreamID),
			StreamID:    s.StreamID,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		ended = s
		return nil
	})
	if err != nil {
		m.metrics.IncTransitionErrors()
		return EndResult{}, fmt.Errorf("handle stream end for %s: %w", username, err)
	}
	if ended == nil {
		return EndResult{}, nil
	}

	m.publisher.Publish(notify.StreamEnded(username, ended.StreamID, entry.DisplayImageURL, ended.FullVideoURL, now))
	m.metrics.IncTransition(metrics.TransitionEnded)
	log.Stream(username, ended.StreamID).Info("stream end handled")

	return EndResult{StreamID: ended.StreamID, Ended: true}, nil
}

// stopUpstream asks the upstream collaborators to stop. Failures are
// logged only.
func (m *Machine) stopUpstream(ctx context.Context, logger *zap.Logger, username string) {
	if err := m.video.StopRecording(ctx, username); err != nil {
		logger.Warn("failed to stop upstream video capture", zap.Error(err))
	}
	if err := m.comments.StopRecording(ctx, username); err != nil {
		logger.Warn("failed to stop comment recorder", zap.Error(err))
	}
}

func (m *Machine) cancelTask(ctx context.Context, logger *zap.Logger, streamID string) {
	ctx, cancel := context.WithTimeout(ctx, cancelTimeout)
	defer cancel()

	if err := m.tasks.CancelAndAwait(ctx, ids.TaskName(streamID)); err != nil {
		logger.Error("capture task did not stop in time", zap.Error(err))
	}
}
