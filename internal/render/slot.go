package render

import (
	"context"
	"sync"
	"sync/atomic"
)

// Slot holds the current Renderer. One writer (startup or the bundle watcher)
// stores renderers; request handlers load the current one on every call, so a
// swap is visible to the next request.
type Slot struct {
	current atomic.Pointer[holder]
	ready   chan struct{}
	once    sync.Once
}

type holder struct {
	r Renderer
}

func NewSlot() *Slot {
	return &Slot{ready: make(chan struct{})}
}

// Store replaces the current renderer. The first Store marks the slot ready.
// A nil renderer is ignored.
func (s *Slot) Store(r Renderer) {
	if r == nil {
		return
	}
	s.current.Store(&holder{r: r})
	s.once.Do(func() { close(s.ready) })
}

// Load returns the current renderer, or nil before the first Store.
func (s *Slot) Load() Renderer {
	if h := s.current.Load(); h != nil {
		return h.r
	}
	return nil
}

// Ready is closed once a renderer has been stored.
func (s *Slot) Ready() <-chan struct{} {
	return s.ready
}

// Wait blocks until the slot is ready or ctx is done.
func (s *Slot) Wait(ctx context.Context) (Renderer, error) {
	select {
	case <-s.ready:
		return s.Load(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
