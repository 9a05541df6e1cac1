package common

import "sync"

// Serial runs functions one at a time on a background goroutine, in the
// order they were queued. Queueing never blocks, so Serial is how work that
// talks to other processes leaves the state service worker.
type Serial struct {
	mu      sync.Mutex
	idle    *sync.Cond
	items   []func()
	running bool
}

// NewSerial creates an idle Serial. No goroutine runs while nothing is
// queued.
func NewSerial() *Serial {
	s := &Serial{}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Go queues f.
func (s *Serial) Go(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, f)
	if !s.running {
		s.running = true
		go s.run()
	}
}

func (s *Serial) run() {
	for {
		s.mu.Lock()
		if len(s.items) == 0 {
			s.running = false
			s.idle.Broadcast()
			s.mu.Unlock()
			return
		}
		f := s.items[0]
		s.items[0] = nil
		s.items = s.items[1:]
		s.mu.Unlock()

		f()
	}
}

// Wait blocks until everything queued has run.
func (s *Serial) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.running {
		s.idle.Wait()
	}
}
