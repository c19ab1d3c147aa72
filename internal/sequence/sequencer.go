// Package sequence hands out reading IDs.
package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Sequencer issues increasing reading IDs starting from whatever the warm
// store remembers, or 0 on a cold boot.
type Sequencer struct {
	mu     sync.Mutex
	next   int64
	store  WarmStore
	logger *slog.Logger
}

func New(ctx context.Context, store WarmStore, logger *slog.Logger) (*Sequencer, error) {
	next, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if next < 0 {
		return nil, fmt.Errorf("warm store holds negative counter %d", next)
	}
	if next == 0 {
		logger.Info("sequencer cold start")
	} else {
		logger.Info("sequencer resumed", "next_id", next)
	}
	return &Sequencer{next: next, store: store, logger: logger}, nil
}

// Next returns the current counter and advances it. A failed save is logged
// and the in-memory counter still advances.
func (s *Sequencer) Next(ctx context.Context) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	if err := s.store.Save(ctx, s.next); err != nil {
		s.logger.Warn("warm store save failed", "next_id", s.next, "err", err)
	}
	return id
}

// Peek returns the ID the next call to Next will hand out.
func (s *Sequencer) Peek() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
