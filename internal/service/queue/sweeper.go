package queue

import (
	"context"
	"log/slog"
	"time"

	"cloudemu/internal/engine"
	"cloudemu/internal/logging"
	"cloudemu/internal/store"
)

// Sweeper periodically walks every queue and dead-letters messages
// whose deliveries are exhausted, so they stop counting against queue
// stats even when nobody is receiving. Regular expiry needs no sweep,
// receives handle it lazily.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper builds a sweeper over svc. interval <= 0 disables it.
func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	return &Sweeper{
		svc:      svc,
		interval: interval,
		logger:   logging.For("queue-sweeper"),
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(); err != nil {
				s.logger.Warn("sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one pass over all queues.
func (s *Sweeper) Sweep() error {
	queues, err := s.svc.ListQueues()
	if err != nil {
		return err
	}
	for _, q := range queues {
		if q.MaxReceiveCount == 0 || q.DeadLetterQueue == "" {
			continue
		}
		// One broken queue must not stall the rest of the pass.
		if err := s.sweepQueue(q.Name); err != nil {
			s.logger.Warn("queue sweep failed", "queue", q.Name, "error", err)
		}
	}
	return nil
}

func (s *Sweeper) sweepQueue(name string) error {
	return s.svc.engine.Update(func(tx store.Txn) error {
		q, err := s.svc.engine.GetQueue(tx, name)
		if err != nil {
			return err
		}
		ok, err := s.svc.deadLetterExists(tx, q)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		now := s.svc.now().UTC()
		var dead []engine.MessageRecord
		err = s.svc.engine.ScanMessages(tx, name, func(rec engine.MessageRecord) (bool, error) {
			if !rec.VisibleAt.After(now) && s.svc.exhausted(q, rec) {
				dead = append(dead, rec)
			}
			return true, nil
		})
		if err != nil {
			return err
		}
		for _, rec := range dead {
			if err := s.svc.moveToDeadLetter(tx, q, rec); err != nil {
				return err
			}
		}
		return nil
	})
}
