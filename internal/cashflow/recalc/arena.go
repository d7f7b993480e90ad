package recalc

import (
	"context"
	"sync"
	"time"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

type pass struct {
	changes []change
	done    chan struct{}
	result  passResult
	err     error
}

func newPass() *pass {
	return &pass{done: make(chan struct{})}
}

type slot struct {
	// running is non-nil while an owner goroutine holds the key.
	running *pass
	// next collects changes that arrived after running started.
	next *pass
}

type runFunc func(ctx context.Context, key cashflow.Key, changes []change) (passResult, error)

// arena serializes passes per key. Changes arriving while a pass runs coalesce into
// a single trailing pass; every caller returns once the pass covering its change is
// done.
type arena struct {
	mu     sync.Mutex
	slots  map[cashflow.Key]*slot
	window time.Duration
	run    runFunc
	// onCoalesce is called for every change that joined an already queued pass.
	onCoalesce func()
}

func newArena(run runFunc, window time.Duration) *arena {
	return &arena{slots: make(map[cashflow.Key]*slot), window: window, run: run}
}

func (a *arena) do(ctx context.Context, key cashflow.Key, c change) (passResult, error) {
	a.mu.Lock()
	s, ok := a.slots[key]
	if !ok {
		s = &slot{}
		a.slots[key] = s
	}
	var p *pass
	if s.running == nil {
		p = newPass()
		p.changes = append(p.changes, c)
		s.running = p
		a.mu.Unlock()
		go a.drive(context.WithoutCancel(ctx), key, s, p)
	} else {
		joined := s.next != nil
		if s.next == nil {
			s.next = newPass()
		}
		p = s.next
		p.changes = append(p.changes, c)
		a.mu.Unlock()
		if joined && a.onCoalesce != nil {
			a.onCoalesce()
		}
	}

	select {
	case <-ctx.Done():
		return passResult{}, ctx.Err()
	case <-p.done:
		return p.result, p.err
	}
}

func (a *arena) drive(ctx context.Context, key cashflow.Key, s *slot, p *pass) {
	for {
		p.result, p.err = a.run(ctx, key, p.changes)
		close(p.done)

		a.mu.Lock()
		if s.next == nil {
			s.running = nil
			delete(a.slots, key)
			a.mu.Unlock()
			return
		}
		a.mu.Unlock()

		if a.window > 0 {
			timer := time.NewTimer(a.window)
			<-timer.C
		}

		a.mu.Lock()
		p = s.next
		s.next = nil
		s.running = p
		a.mu.Unlock()
	}
}

// busy reports whether any key is held.
func (a *arena) busy() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots)
}
