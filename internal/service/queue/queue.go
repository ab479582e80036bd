// Package queue implements the message queue service: FIFO delivery,
// visibility timeouts, receipt handles and dead-lettering. Expiry is
// lazy: any receive that encounters an in-flight message whose
// visibility has lapsed treats it as available again. An optional
// Sweeper does the same eagerly for listing accuracy.
package queue

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cloudemu/internal/engine"
	"cloudemu/internal/logging"
	"cloudemu/internal/store"
	"cloudemu/pkg/api"
)

// DefaultVisibilityTimeout applies when a queue is created without one.
const DefaultVisibilityTimeout = 30 * time.Second

// Service handles queue operations on the engine.
type Service struct {
	engine *engine.Engine
	logger *slog.Logger
	now    func() time.Time
}

// New creates the service.
func New(e *engine.Engine) *Service {
	return &Service{
		engine: e,
		logger: logging.For("queue"),
		now:    time.Now,
	}
}

// CreateQueue registers a queue. visibilityTimeout <= 0 takes the
// default; maxReceiveCount 0 means unlimited redelivery. A dead-letter
// queue must already exist.
func (s *Service) CreateQueue(name string, visibilityTimeout time.Duration, maxReceiveCount int, deadLetterQueue string) error {
	if name == "" {
		return api.InvalidArgumentf("queue name must not be empty")
	}
	if maxReceiveCount < 0 {
		return api.InvalidArgumentf("max receive count must not be negative")
	}
	if deadLetterQueue == name {
		return api.InvalidArgumentf("queue cannot dead-letter to itself")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = DefaultVisibilityTimeout
	}
	return s.engine.Update(func(tx store.Txn) error {
		if deadLetterQueue != "" {
			if _, err := s.engine.GetQueue(tx, deadLetterQueue); err != nil {
				if api.IsNotFound(err) {
					return api.InvalidArgumentf("dead-letter queue %q does not exist", deadLetterQueue)
				}
				return err
			}
		}
		return s.engine.CreateQueue(tx, engine.QueueRecord{
			Name:              name,
			VisibilityTimeout: int(visibilityTimeout / time.Second),
			MaxReceiveCount:   maxReceiveCount,
			DeadLetterQueue:   deadLetterQueue,
			CreatedAt:         s.now().UTC(),
		})
	})
}

// DeleteQueue removes a queue and whatever messages it still holds.
func (s *Service) DeleteQueue(name string) error {
	return s.engine.Update(func(tx store.Txn) error {
		return s.engine.DeleteQueue(tx, name)
	})
}

// ListQueues returns all queues ordered by name.
func (s *Service) ListQueues() ([]engine.QueueRecord, error) {
	var out []engine.QueueRecord
	err := s.engine.View(func(tx store.Txn) error {
		var err error
		out, err = s.engine.ListQueues(tx)
		return err
	})
	return out, err
}

// SendMessage enqueues body at the tail of the queue.
func (s *Service) SendMessage(queue string, body []byte) (engine.MessageRecord, error) {
	var rec engine.MessageRecord
	err := s.engine.Update(func(tx store.Txn) error {
		if _, err := s.engine.GetQueue(tx, queue); err != nil {
			return err
		}
		now := s.now().UTC()
		var err error
		rec, err = s.engine.AppendMessage(tx, engine.MessageRecord{
			Queue:      queue,
			MessageID:  uuid.NewString(),
			Body:       body,
			EnqueuedAt: now,
			VisibleAt:  now,
		})
		return err
	})
	if err != nil {
		return engine.MessageRecord{}, err
	}
	return rec, nil
}

// ReceiveMessage returns up to count available messages in FIFO enqueue
// order, flipping each to in-flight under a fresh receipt handle. A
// message whose previous receive has not timed out is never handed to a
// second receiver. A message that has already been delivered the
// maximum number of times is moved to the dead-letter queue instead of
// being delivered again.
func (s *Service) ReceiveMessage(queue string, count int, visibilityOverride time.Duration) ([]engine.MessageRecord, error) {
	if count <= 0 {
		count = 1
	}
	var out []engine.MessageRecord
	err := s.engine.Update(func(tx store.Txn) error {
		q, err := s.engine.GetQueue(tx, queue)
		if err != nil {
			return err
		}
		timeout := time.Duration(q.VisibilityTimeout) * time.Second
		if visibilityOverride > 0 {
			timeout = visibilityOverride
		}
		now := s.now().UTC()

		// A dead-letter target deleted after this queue was created
		// counts as no target at all: the message keeps redelivering
		// rather than wedging every receive on the missing queue.
		canDeadLetter, err := s.deadLetterExists(tx, q)
		if err != nil {
			return err
		}

		// Collect first: mutating rows inside the scan would disturb
		// the cursor.
		var deliver, deadLetter []engine.MessageRecord
		err = s.engine.ScanMessages(tx, queue, func(rec engine.MessageRecord) (bool, error) {
			if rec.VisibleAt.After(now) {
				return true, nil // in flight
			}
			if canDeadLetter && s.exhausted(q, rec) {
				deadLetter = append(deadLetter, rec)
				return true, nil
			}
			deliver = append(deliver, rec)
			return len(deliver) < count, nil
		})
		if err != nil {
			return err
		}

		for _, rec := range deadLetter {
			if err := s.moveToDeadLetter(tx, q, rec); err != nil {
				return err
			}
		}
		for _, rec := range deliver {
			oldHandle := rec.ReceiptHandle
			rec.ReceiveCount++
			rec.VisibleAt = now.Add(timeout)
			rec.ReceiptHandle = uuid.NewString()
			if err := s.engine.UpdateMessage(tx, rec); err != nil {
				return err
			}
			if err := s.engine.SetReceipt(tx, queue, oldHandle, rec.ReceiptHandle, rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// exhausted reports whether rec has used up its deliveries and must be
// dead-lettered rather than delivered. A queue without a dead-letter
// target redelivers forever.
func (s *Service) exhausted(q engine.QueueRecord, rec engine.MessageRecord) bool {
	return q.MaxReceiveCount > 0 && q.DeadLetterQueue != "" && rec.ReceiveCount >= q.MaxReceiveCount
}

// deadLetterExists reports whether q's dead-letter target still exists.
func (s *Service) deadLetterExists(tx store.Txn, q engine.QueueRecord) (bool, error) {
	if q.DeadLetterQueue == "" {
		return false, nil
	}
	if _, err := s.engine.GetQueue(tx, q.DeadLetterQueue); err != nil {
		if api.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// moveToDeadLetter relocates rec to the queue's dead-letter target,
// keeping its identity, body and receive count. Callers check the
// target exists first, in the same transaction.
func (s *Service) moveToDeadLetter(tx store.Txn, q engine.QueueRecord, rec engine.MessageRecord) error {
	if rec.ReceiptHandle != "" {
		if err := s.engine.DeleteReceipt(tx, q.Name, rec.ReceiptHandle); err != nil {
			return err
		}
	}
	if err := s.engine.DeleteMessage(tx, rec); err != nil {
		return err
	}
	moved := rec
	moved.Queue = q.DeadLetterQueue
	moved.VisibleAt = s.now().UTC()
	moved.ReceiptHandle = ""
	if _, err := s.engine.AppendMessage(tx, moved); err != nil {
		return err
	}
	s.logger.Info("message dead-lettered",
		"queue", q.Name, "dead_letter_queue", q.DeadLetterQueue,
		"message_id", rec.MessageID, "receive_count", rec.ReceiveCount)
	return nil
}

// DeleteMessage acknowledges one in-flight receive. Only the handle
// from the message's most recent receive is accepted; anything older is
// a late ack after redelivery and fails with InvalidReceiptHandle.
func (s *Service) DeleteMessage(queue, receiptHandle string) error {
	if receiptHandle == "" {
		return api.InvalidArgumentf("receipt handle must not be empty")
	}
	return s.engine.Update(func(tx store.Txn) error {
		if _, err := s.engine.GetQueue(tx, queue); err != nil {
			return err
		}
		rec, err := s.engine.GetMessageByReceipt(tx, queue, receiptHandle)
		if err != nil {
			return err
		}
		if err := s.engine.DeleteReceipt(tx, queue, receiptHandle); err != nil {
			return err
		}
		return s.engine.DeleteMessage(tx, rec)
	})
}

// ChangeMessageVisibility moves an in-flight message's visibility
// deadline, by its current receipt handle. A zero timeout returns the
// message to the queue immediately.
func (s *Service) ChangeMessageVisibility(queue, receiptHandle string, timeout time.Duration) error {
	if timeout < 0 {
		return api.InvalidArgumentf("visibility timeout must not be negative")
	}
	return s.engine.Update(func(tx store.Txn) error {
		if _, err := s.engine.GetQueue(tx, queue); err != nil {
			return err
		}
		rec, err := s.engine.GetMessageByReceipt(tx, queue, receiptHandle)
		if err != nil {
			return err
		}
		rec.VisibleAt = s.now().UTC().Add(timeout)
		return s.engine.UpdateMessage(tx, rec)
	})
}

// Stats is a point-in-time message census for one queue.
type Stats struct {
	Visible  int
	InFlight int
}

// QueueStats counts messages, applying lazy expiry semantics: an
// in-flight message past its deadline counts as visible.
func (s *Service) QueueStats(queue string) (Stats, error) {
	var st Stats
	err := s.engine.View(func(tx store.Txn) error {
		if _, err := s.engine.GetQueue(tx, queue); err != nil {
			return err
		}
		now := s.now().UTC()
		return s.engine.ScanMessages(tx, queue, func(rec engine.MessageRecord) (bool, error) {
			if rec.VisibleAt.After(now) {
				st.InFlight++
			} else {
				st.Visible++
			}
			return true, nil
		})
	})
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}
