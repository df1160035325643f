// Package actor runs work in per-key lanes: tasks with the same key run one at
// a time in submission order, tasks with different keys run concurrently.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrLaneBusy = errors.New("lane busy")
	ErrStopped  = errors.New("lane system stopped")
)

type request struct {
	ctx  context.Context
	task func(ctx context.Context) error
	resp chan error
}

type lane struct {
	key      string
	mailbox  chan request
	pending  int
	lastSeen time.Time
	closed   chan struct{}
}

type System struct {
	mu         sync.Mutex
	lanes      map[string]*lane
	mailboxCap int
	idleTTL    time.Duration
	stopped    bool
	stop       chan struct{}
	once       sync.Once
	wg         sync.WaitGroup
	onStart    func()
	onStop     func()
}

// NewSystem creates lanes that hold the running task plus up to mailboxCap
// queued ones. With a capacity of zero a busy lane rejects new work.
func NewSystem(mailboxCap int, idleTTL time.Duration) *System {
	if mailboxCap < 0 {
		mailboxCap = 0
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	s := &System{
		lanes:      make(map[string]*lane),
		mailboxCap: mailboxCap,
		idleTTL:    idleTTL,
		stop:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.reaper()
	return s
}

func (s *System) SetLaneHooks(onStart, onStop func()) {
	s.onStart = onStart
	s.onStop = onStop
}

// Stop rejects new work and waits for running and queued tasks to finish.
func (s *System) Stop() error {
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()

		s.mu.Lock()
		s.stopped = true
		lanes := s.lanes
		s.lanes = map[string]*lane{}
		s.mu.Unlock()

		for _, l := range lanes {
			close(l.mailbox)
			<-l.closed
		}
	})
	return nil
}

// Submit queues task on the lane for key. With wait set it blocks until the
// task returns and reports its error.
func (s *System) Submit(ctx context.Context, key string, task func(ctx context.Context) error, wait bool) error {
	req := request{ctx: ctx, task: task}
	if wait {
		req.resp = make(chan error, 1)
	}
	if err := s.enqueue(key, req); err != nil {
		return err
	}
	if !wait {
		return nil
	}
	select {
	case err := <-req.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *System) enqueue(key string, req request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	l, ok := s.lanes[key]
	if !ok {
		l = &lane{
			key:     key,
			mailbox: make(chan request, s.mailboxCap+1),
			closed:  make(chan struct{}),
		}
		s.lanes[key] = l
		go s.run(l)
	}
	if l.pending > s.mailboxCap {
		return fmt.Errorf("%w: %s", ErrLaneBusy, key)
	}
	l.pending++
	l.lastSeen = time.Now()
	l.mailbox <- req
	return nil
}

func (s *System) LaneCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}

func (s *System) run(l *lane) {
	defer close(l.closed)
	if s.onStart != nil {
		s.onStart()
	}
	if s.onStop != nil {
		defer s.onStop()
	}

	for req := range l.mailbox {
		err := handle(req)
		s.mu.Lock()
		l.pending--
		l.lastSeen = time.Now()
		s.mu.Unlock()
		if req.resp != nil {
			req.resp <- err
		}
	}
}

func handle(req request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("lane panic: %v", rec)
		}
	}()
	return req.task(req.ctx)
}

func (s *System) reaper() {
	defer s.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictIdle(time.Now())
		}
	}
}

func (s *System) evictIdle(now time.Time) {
	var candidates []*lane

	s.mu.Lock()
	for key, l := range s.lanes {
		if l.pending == 0 && now.Sub(l.lastSeen) > s.idleTTL {
			delete(s.lanes, key)
			candidates = append(candidates, l)
		}
	}
	s.mu.Unlock()

	for _, l := range candidates {
		close(l.mailbox)
		<-l.closed
	}
}
