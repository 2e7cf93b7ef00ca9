package stt

import (
	"context"
	"sync"
	"time"
)

// ScriptedRecognizer replays a fixed result sequence at a fixed pace.
// Test double for caption plumbing.
type ScriptedRecognizer struct {
	Script []Result
	Pace   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (s *ScriptedRecognizer) Start(ctx context.Context) (<-chan Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	out := make(chan Result, len(s.Script))
	go func() {
		defer close(out)
		for _, r := range s.Script {
			if s.Pace > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.Pace):
				}
			} else if ctx.Err() != nil {
				return
			}
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *ScriptedRecognizer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
