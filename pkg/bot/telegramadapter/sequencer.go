package telegramadapter

import (
	"context"
	"sync"

	"calendarbot/pkg/ports/botport"
)

// TurnFunc handles one activity to completion.
type TurnFunc func(ctx context.Context, activity botport.Activity)

// Sequencer runs activities of one conversation strictly in arrival order while different
// conversations proceed in parallel. Each busy conversation has a single worker goroutine
// that exits as soon as its queue is drained.
type Sequencer struct {
	handle TurnFunc

	mu     sync.Mutex
	queues map[string][]botport.Activity
	wg     sync.WaitGroup
}

func NewSequencer(handle TurnFunc) *Sequencer {
	return &Sequencer{
		handle: handle,
		queues: make(map[string][]botport.Activity),
	}
}

// Submit queues activity behind any earlier activity of the same conversation.
func (s *Sequencer) Submit(ctx context.Context, activity botport.Activity) {
	key := activity.Conversation.ID

	s.mu.Lock()
	pending, busy := s.queues[key]
	s.queues[key] = append(pending, activity)
	s.mu.Unlock()

	if busy {
		return
	}
	s.wg.Add(1)
	go s.drain(ctx, key)
}

// Wait blocks until every submitted activity has been handled.
func (s *Sequencer) Wait() {
	s.wg.Wait()
}

func (s *Sequencer) drain(ctx context.Context, key string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		queue := s.queues[key]
		if len(queue) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		next := queue[0]
		s.queues[key] = queue[1:]
		s.mu.Unlock()

		s.handle(ctx, next)
	}
}
