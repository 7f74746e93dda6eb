package watcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xpadev-net/watchlist-supervisor/internal/db"
	"github.com/xpadev-net/watchlist-supervisor/internal/ids"
	"github.com/xpadev-net/watchlist-supervisor/internal/lifecycle"
	"github.com/xpadev-net/watchlist-supervisor/internal/livestatus"
	"github.com/xpadev-net/watchlist-supervisor/internal/log"
	"github.com/xpadev-net/watchlist-supervisor/internal/metrics"
)

// Lister returns the accounts to poll.
type Lister interface {
	ListWatchlist(ctx context.Context) ([]*db.WatchlistEntry, error)
}

// Prober reports whether an account is broadcasting.
type Prober interface {
	IsStreamLive(ctx context.Context, username string) (bool, *livestatus.StatusInfo, error)
}

// Transitions applies observed live-state changes.
type Transitions interface {
	HandleStreamStart(ctx context.Context, username, roomID string) (lifecycle.StartResult, error)
	HandleStreamEnd(ctx context.Context, username string) (lifecycle.EndResult, error)
}

// TaskChecker reports whether a capture task is registered.
type TaskChecker interface {
	Has(name string) bool
}

// Config controls polling cadence and probe fan-out.
type Config struct {
	PollInterval     time.Duration
	ProbeTimeout     time.Duration
	ProbeConcurrency int
	ProbeRatePerSec  float64
}

// Summary describes one poll iteration.
type Summary struct {
	Checked       int
	Started       int
	Restarted     int
	Ended         int
	Recovered     int
	ProbeFailures int
	Errors        int
	StartTime     time.Time
	EndTime       time.Time
}

// tally guards a Summary shared by concurrent probes.
type tally struct {
	mu sync.Mutex
	s  Summary
}

func (t *tally) add(f func(*Summary)) {
	t.mu.Lock()
	f(&t.s)
	t.mu.Unlock()
}

// Loop polls the watchlist and turns live-state edges into lifecycle calls.
type Loop struct {
	cfg         Config
	lister      Lister
	prober      Prober
	transitions Transitions
	tasks       TaskChecker
	metrics     *metrics.Metrics
	limiter     *rate.Limiter
}

// New creates a new poll loop.
func New(cfg Config, lister Lister, prober Prober, transitions Transitions, tasks TaskChecker, m *metrics.Metrics) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = 1
	}

	limit := rate.Inf
	if cfg.ProbeRatePerSec > 0 {
		limit = rate.Limit(cfg.ProbeRatePerSec)
	}

	return &Loop{
		cfg:         cfg,
		lister:      lister,
		prober:      prober,
		transitions: transitions,
		tasks:       tasks,
		metrics:     m,
		limiter:     rate.NewLimiter(limit, 1),
	}
}

// Run polls until ctx is cancelled. Cancellation is the normal way to stop
// it and returns nil.
func (l *Loop) Run(ctx context.Context) error {
	log.Info("starting watchlist poll loop",
		zap.Duration("interval", l.cfg.PollInterval),
		zap.Int("concurrency", l.cfg.ProbeConcurrency),
	)

	for {
		if ctx.Err() != nil {
			log.Info("watchlist poll loop stopped")
			return nil
		}

		summary := l.RunOnce(ctx)
		if summary.Started > 0 || summary.Restarted > 0 || summary.Ended > 0 || summary.Errors > 0 {
			log.Info("poll iteration finished",
				zap.Int("checked", summary.Checked),
				zap.Int("started", summary.Started),
				zap.Int("restarted", summary.Restarted),
				zap.Int("ended", summary.Ended),
				zap.Int("recovered", summary.Recovered),
				zap.Int("probe_failures", summary.ProbeFailures),
				zap.Int("errors", summary.Errors),
			)
		}

		select {
		case <-ctx.Done():
			log.Info("watchlist poll loop stopped")
			return nil
		case <-time.After(l.cfg.PollInterval):
		}
	}
}

// RunOnce performs a single poll iteration over the whole watchlist.
func (l *Loop) RunOnce(ctx context.Context) Summary {
	t := &tally{s: Summary{StartTime: time.Now()}}
	defer func() {
		l.metrics.ObservePoll(time.Since(t.s.StartTime))
	}()

	entries, err := l.lister.ListWatchlist(ctx)
	if err != nil {
		log.Error("failed to list watchlist", zap.Error(err))
		t.s.Errors++
		t.s.EndTime = time.Now()
		return t.s
	}

	g := new(errgroup.Group)
	g.SetLimit(l.cfg.ProbeConcurrency)

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		entry := entry
		g.Go(func() error {
			l.check(ctx, entry, t)
			return nil
		})
	}
	_ = g.Wait()

	t.s.EndTime = time.Now()
	return t.s
}

// check probes one account and applies the resulting edge, if any.
func (l *Loop) check(ctx context.Context, entry *db.WatchlistEntry, t *tally) {
	if err := l.limiter.Wait(ctx); err != nil {
		return
	}

	alive, info, err := l.probe(ctx, entry.UserHandle)
	t.add(func(s *Summary) { s.Checked++ })
	if err != nil {
		// A failed probe never starts a recording and never ends one.
		log.Warn("live status probe failed",
			zap.String("username", entry.UserHandle),
			zap.Error(err),
		)
		l.metrics.IncProbeFailures()
		t.add(func(s *Summary) { s.ProbeFailures++ })
		return
	}

	roomID := ""
	if info != nil {
		roomID = string(info.RoomID)
	}

	switch {
	case alive && !entry.IsLive:
		l.start(ctx, entry.UserHandle, roomID, false, t)

	case alive && entry.IsLive:
		if roomID != "" && !l.tasks.Has(ids.TaskName(roomID)) {
			log.Info("live account has no capture task, recovering",
				zap.String("username", entry.UserHandle),
				zap.String("stream_id", roomID),
			)
			l.start(ctx, entry.UserHandle, roomID, true, t)
		}

	case !alive && entry.IsLive:
		res, err := l.transitions.HandleStreamEnd(ctx, entry.UserHandle)
		if err != nil {
			log.Error("failed to handle stream end",
				zap.String("username", entry.UserHandle),
				zap.Error(err),
			)
			t.add(func(s *Summary) { s.Errors++ })
			return
		}
		if res.Ended {
			t.add(func(s *Summary) { s.Ended++ })
		}
	}
}

func (l *Loop) start(ctx context.Context, username, roomID string, recovery bool, t *tally) {
	res, err := l.transitions.HandleStreamStart(ctx, username, roomID)
	if err != nil {
		log.Error("failed to handle stream start",
			zap.String("username", username),
			zap.String("room_id", roomID),
			zap.Error(err),
		)
		t.add(func(s *Summary) { s.Errors++ })
		return
	}

	t.add(func(s *Summary) {
		if recovery {
			s.Recovered++
		}
		if res.Outcome == lifecycle.OutcomeRestarted {
			s.Restarted++
		} else {
			s.Started++
		}
	})
}

func (l *Loop) probe(ctx context.Context, username string) (bool, *livestatus.StatusInfo, error) {
	probeCtx, cancel := context.WithTimeout(ctx, l.cfg.ProbeTimeout)
	defer cancel()
	return l.prober.IsStreamLive(probeCtx, username)
}
