package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"cloudemu/internal/dispatch"
	"cloudemu/pkg/api"
)

// Register installs the service's operations on the dispatcher for each
// provider. Visibility parameters travel as whole seconds, matching the
// granularity every provider wire format uses.
func (s *Service) Register(d *dispatch.Dispatcher, providers ...api.Provider) error {
	ops := map[string]dispatch.HandlerFunc{
		"CreateQueue":             s.handleCreateQueue,
		"DeleteQueue":             s.handleDeleteQueue,
		"ListQueues":              s.handleListQueues,
		"SendMessage":             s.handleSendMessage,
		"ReceiveMessage":          s.handleReceiveMessage,
		"DeleteMessage":           s.handleDeleteMessage,
		"ChangeMessageVisibility": s.handleChangeMessageVisibility,
		"QueueStats":              s.handleQueueStats,
	}
	for _, p := range providers {
		for name, h := range ops {
			if err := d.Register(p, api.ServiceQueue, name, h); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) handleCreateQueue(_ context.Context, op api.Operation) api.Result {
	name, err := op.Params.String("queue")
	if err != nil {
		return api.Fail(err)
	}
	visibility, err := op.Params.IntDefault("visibility_timeout", 0)
	if err != nil {
		return api.Fail(err)
	}
	maxReceive, err := op.Params.IntDefault("max_receive_count", 0)
	if err != nil {
		return api.Fail(err)
	}
	err = s.CreateQueue(name,
		time.Duration(visibility)*time.Second,
		maxReceive,
		op.Params.StringDefault("dead_letter_queue", ""))
	if err != nil {
		return api.Fail(err)
	}
	return api.OK(api.KeyedMap{"queue": name})
}

func (s *Service) handleDeleteQueue(_ context.Context, op api.Operation) api.Result {
	name, err := op.Params.String("queue")
	if err != nil {
		return api.Fail(err)
	}
	if err := s.DeleteQueue(name); err != nil {
		return api.Fail(err)
	}
	return api.OK(nil)
}

func (s *Service) handleListQueues(_ context.Context, op api.Operation) api.Result {
	queues, err := s.ListQueues()
	if err != nil {
		return api.Fail(err)
	}
	body, err := json.Marshal(queues)
	if err != nil {
		return api.Fail(api.IOErrorf(err, "encoding queue list"))
	}
	return api.OKBody(api.KeyedMap{"count": strconv.Itoa(len(queues))}, body)
}

func (s *Service) handleSendMessage(_ context.Context, op api.Operation) api.Result {
	name, err := op.Params.String("queue")
	if err != nil {
		return api.Fail(err)
	}
	rec, err := s.SendMessage(name, op.Body)
	if err != nil {
		return api.Fail(err)
	}
	return api.OK(api.KeyedMap{"message_id": rec.MessageID})
}

func (s *Service) handleReceiveMessage(_ context.Context, op api.Operation) api.Result {
	name, err := op.Params.String("queue")
	if err != nil {
		return api.Fail(err)
	}
	count, err := op.Params.IntDefault("count", 1)
	if err != nil {
		return api.Fail(err)
	}
	visibility, err := op.Params.IntDefault("visibility_timeout", 0)
	if err != nil {
		return api.Fail(err)
	}
	msgs, err := s.ReceiveMessage(name, count, time.Duration(visibility)*time.Second)
	if err != nil {
		return api.Fail(err)
	}
	body, err := json.Marshal(msgs)
	if err != nil {
		return api.Fail(api.IOErrorf(err, "encoding received messages"))
	}
	return api.OKBody(api.KeyedMap{"count": strconv.Itoa(len(msgs))}, body)
}

func (s *Service) handleDeleteMessage(_ context.Context, op api.Operation) api.Result {
	name, err := op.Params.String("queue")
	if err != nil {
		return api.Fail(err)
	}
	handle, err := op.Params.String("receipt_handle")
	if err != nil {
		return api.Fail(err)
	}
	if err := s.DeleteMessage(name, handle); err != nil {
		return api.Fail(err)
	}
	return api.OK(nil)
}

func (s *Service) handleChangeMessageVisibility(_ context.Context, op api.Operation) api.Result {
	name, err := op.Params.String("queue")
	if err != nil {
		return api.Fail(err)
	}
	handle, err := op.Params.String("receipt_handle")
	if err != nil {
		return api.Fail(err)
	}
	visibility, err := op.Params.Int("visibility_timeout")
	if err != nil {
		return api.Fail(err)
	}
	if err := s.ChangeMessageVisibility(name, handle, time.Duration(visibility)*time.Second); err != nil {
		return api.Fail(err)
	}
	return api.OK(nil)
}

func (s *Service) handleQueueStats(_ context.Context, op api.Operation) api.Result {
	name, err := op.Params.String("queue")
	if err != nil {
		return api.Fail(err)
	}
	st, err := s.QueueStats(name)
	if err != nil {
		return api.Fail(err)
	}
	return api.OK(api.KeyedMap{
		"visible":   strconv.Itoa(st.Visible),
		"in_flight": strconv.Itoa(st.InFlight),
	})
}
