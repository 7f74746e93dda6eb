package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xpadev-net/watchlist-supervisor/internal/log"
)

// TaskFunc is the body of a supervised task. It must return promptly once
// ctx is cancelled.
type TaskFunc func(ctx context.Context) error

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor is a registry of named, cancellable background tasks. At most
// one task runs per name.
type Supervisor struct {
	mu       sync.Mutex
	tasks    map[string]*task
	closed   bool
	onChange func(active int)

	base   context.Context
	cancel context.CancelFunc
}

// New creates an empty supervisor.
func New() *Supervisor {
	base, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		tasks:  make(map[string]*task),
		base:   base,
		cancel: cancel,
	}
}

// OnChange registers a hook called with the number of registered tasks
// whenever a task is added or removed.
func (s *Supervisor) OnChange(fn func(active int)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Spawn starts fn under name. A task already registered under the same
// name is cancelled and awaited before the new one is registered.
func (s *Supervisor) Spawn(name string, fn TaskFunc) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			log.Warn("supervisor is shut down, task not started", zap.String("task", name))
			return
		}
		prev, ok := s.tasks[name]
		if !ok {
			break
		}
		s.mu.Unlock()

		log.Info("replacing running task", zap.String("task", name))
		prev.cancel()
		<-prev.done
	}

	ctx, cancel := context.WithCancel(s.base)
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.tasks[name] = t
	hook, active := s.onChange, len(s.tasks)
	s.mu.Unlock()

	if hook != nil {
		hook(active)
	}

	go s.run(ctx, name, t, fn)
}

func (s *Supervisor) run(ctx context.Context, name string, t *task, fn TaskFunc) {
	defer close(t.done)
	defer s.deregister(name, t)
	defer t.cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked",
				zap.String("task", name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	if err := fn(ctx); err != nil {
		log.Warn("task returned error", zap.String("task", name), zap.Error(err))
		return
	}
	log.Debug("task finished", zap.String("task", name))
}

func (s *Supervisor) deregister(name string, t *task) {
	s.mu.Lock()
	if s.tasks[name] != t {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, name)
	hook, active := s.onChange, len(s.tasks)
	s.mu.Unlock()

	if hook != nil {
		hook(active)
	}
}

// CancelAndAwait cancels the task registered under name and blocks until
// it returned. It is a no-op when no such task exists. If ctx expires
// first, ctx.Err() is returned and the task is left cancelled.
func (s *Supervisor) CancelAndAwait(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	t.cancel()
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("await task %s: %w", name, ctx.Err())
	}
}

// Has reports whether a task is registered under name.
func (s *Supervisor) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Names returns the registered task names in sorted order.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	s.mu.Unlock()

	sort.Strings(names)
	return names
}

// Len returns the number of registered tasks.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown cancels every task and waits for them to return. No new tasks
// are accepted afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	pending := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		pending = append(pending, t)
	}
	s.mu.Unlock()

	s.cancel()
	for _, t := range pending {
		select {
		case <-t.done:
		case <-ctx.Done():
			return fmt.Errorf("shutdown tasks: %w", ctx.Err())
		}
	}
	return nil
}
