package lifecycle

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/xpadev-net/watchlist-supervisor/internal/db"
	"github.com/xpadev-net/watchlist-supervisor/internal/notify"
)

// memStore serialises transactions with one mutex, which stands in for the
// row locks taken by the real repository.
type memStore struct {
	mu            sync.Mutex
	entries       map[string]*db.WatchlistEntry
	sessions      map[string]*db.StreamSession
	notifications []*db.Notification
	failInsert    error
}

func newMemStore(entries ...*db.WatchlistEntry) *memStore {
	s := &memStore{
		entries:  make(map[string]*db.WatchlistEntry),
		sessions: make(map[string]*db.StreamSession),
	}
	for _, e := range entries {
		s.entries[e.UserHandle] = e
	}
	return s
}

type memSnapshot struct {
	entries       map[string]db.WatchlistEntry
	sessions      map[string]db.StreamSession
	notifications int
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		entries:       make(map[string]db.WatchlistEntry, len(s.entries)),
		sessions:      make(map[string]db.StreamSession, len(s.sessions)),
		notifications: len(s.notifications),
	}
	for k, v := range s.entries {
		snap.entries[k] = *v
	}
	for k, v := range s.sessions {
		snap.sessions[k] = *v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.entries = make(map[string]*db.WatchlistEntry, len(snap.entries))
	for k, v := range snap.entries {
		e := v
		s.entries[k] = &e
	}
	s.sessions = make(map[string]*db.StreamSession, len(snap.sessions))
	for k, v := range snap.sessions {
		sess := v
		s.sessions[k] = &sess
	}
	s.notifications = s.notifications[:snap.notifications]
}

func (s *memStore) InTx(ctx context.Context, fn func(db.SessionTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) entry(username string) db.WatchlistEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.entries[username]
}

func (s *memStore) session(streamID string) (db.StreamSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[streamID]
	if !ok {
		return db.StreamSession{}, false
	}
	return *sess, true
}

func (s *memStore) activeCount(username string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Username == username && sess.Status.IsActive() {
			n++
		}
	}
	return n
}

func (s *memStore) notificationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications)
}

type memTx struct {
	s *memStore
}

func (t *memTx) LockEntry(ctx context.Context, username string) (*db.WatchlistEntry, error) {
	e, ok := t.s.entries[username]
	if !ok {
		return nil, db.ErrEntryNotFound
	}
	c := *e
	return &c, nil
}

func (t *memTx) SetLive(ctx context.Context, username string, live bool) error {
	e, ok := t.s.entries[username]
	if !ok {
		return db.ErrEntryNotFound
	}
	e.IsLive = live
	return nil
}

func (t *memTx) LockSession(ctx context.Context, streamID string) (*db.StreamSession, error) {
	sess, ok := t.s.sessions[streamID]
	if !ok {
		return nil, db.ErrSessionNotFound
	}
	c := *sess
	return &c, nil
}

func (t *memTx) LockActiveSessions(ctx context.Context, username string) ([]*db.StreamSession, error) {
	var out []*db.StreamSession
	for _, sess := range t.s.sessions {
		if sess.Username == username && sess.Status.IsActive() {
			c := *sess
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (t *memTx) InsertSession(ctx context.Context, sess *db.StreamSession) error {
	if t.s.failInsert != nil {
		return t.s.failInsert
	}
	if _, ok := t.s.sessions[sess.StreamID]; ok {
		return errors.New("duplicate stream id")
	}
	c := *sess
	t.s.sessions[sess.StreamID] = &c
	return nil
}

func (t *memTx) UpdateSession(ctx context.Context, sess *db.StreamSession) error {
	cur, ok := t.s.sessions[sess.StreamID]
	if !ok {
		return db.ErrSessionNotFound
	}
	cur.Status = sess.Status
	cur.StartTime = sess.StartTime
	cur.EndTime = sess.EndTime
	cur.NotificationSent = sess.NotificationSent
	return nil
}

func (t *memTx) InsertNotification(ctx context.Context, n *db.Notification) error {
	c := *n
	t.s.notifications = append(t.s.notifications, &c)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(ev notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) byType() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	counts := map[string]int{}
	for _, ev := range p.events {
		counts[string(ev.Type)]++
	}
	return counts
}

type stubUpstream struct {
	mu            sync.Mutex
	videoStops    int
	commentStarts []string
	commentStops  int
	stopErr       error
}

func (u *stubUpstream) StopRecording(ctx context.Context, username string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.videoStops++
	return u.stopErr
}

type stubComments struct {
	u *stubUpstream
}

func (c stubComments) StartRecording(ctx context.Context, username, streamID string) error {
	c.u.mu.Lock()
	defer c.u.mu.Unlock()
	c.u.commentStarts = append(c.u.commentStarts, streamID)
	return nil
}

func (c stubComments) StopRecording(ctx context.Context, username string) error {
	c.u.mu.Lock()
	defer c.u.mu.Unlock()
	c.u.commentStops++
	return c.u.stopErr
}
