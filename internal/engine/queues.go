package engine

import (
	"cloudemu/internal/store"
	"cloudemu/pkg/api"
)

// CreateQueue inserts a queue record; Conflict if the name is taken.
func (e *Engine) CreateQueue(tx store.Txn, rec QueueRecord) error {
	b, err := tx.Bucket(queuesBucket)
	if err != nil {
		return err
	}
	if b.Get([]byte(rec.Name)) != nil {
		return api.Conflictf("queue %q already exists", rec.Name)
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.Name), data)
}

// GetQueue returns the queue record for name.
func (e *Engine) GetQueue(tx store.Txn, name string) (QueueRecord, error) {
	b, err := tx.Bucket(queuesBucket)
	if err != nil {
		return QueueRecord{}, err
	}
	data := b.Get([]byte(name))
	if data == nil {
		return QueueRecord{}, api.NotFoundf("queue %q not found", name)
	}
	var rec QueueRecord
	if err := decode(data, &rec); err != nil {
		return QueueRecord{}, err
	}
	return rec, nil
}

// DeleteQueue removes a queue along with any remaining messages,
// matching provider behavior for queue deletion.
func (e *Engine) DeleteQueue(tx store.Txn, name string) error {
	b, err := tx.Bucket(queuesBucket)
	if err != nil {
		return err
	}
	if b.Get([]byte(name)) == nil {
		return api.NotFoundf("queue %q not found", name)
	}
	if err := tx.DeleteBucket(messagesBucket(name)); err != nil {
		return err
	}
	if err := tx.DeleteBucket(receiptsBucket(name)); err != nil {
		return err
	}
	return b.Delete([]byte(name))
}

// ListQueues returns every queue record, ordered by name.
func (e *Engine) ListQueues(tx store.Txn) ([]QueueRecord, error) {
	b, err := tx.Bucket(queuesBucket)
	if err != nil {
		return nil, err
	}
	var out []QueueRecord
	err = b.ForEach(func(k, v []byte) error {
		var rec QueueRecord
		if err := decode(v, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// AppendMessage inserts a message at the tail of the queue, assigning
// its enqueue sequence.
func (e *Engine) AppendMessage(tx store.Txn, rec MessageRecord) (MessageRecord, error) {
	b, err := tx.Bucket(messagesBucket(rec.Queue))
	if err != nil {
		return MessageRecord{}, err
	}
	seq, err := b.NextSequence()
	if err != nil {
		return MessageRecord{}, err
	}
	rec.Seq = seq
	data, err := encode(rec)
	if err != nil {
		return MessageRecord{}, err
	}
	if err := b.Put(messageKey(rec.Seq, rec.MessageID), data); err != nil {
		return MessageRecord{}, err
	}
	return rec, nil
}

// UpdateMessage rewrites a message row in place.
func (e *Engine) UpdateMessage(tx store.Txn, rec MessageRecord) error {
	b, err := tx.Bucket(messagesBucket(rec.Queue))
	if err != nil {
		return err
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return b.Put(messageKey(rec.Seq, rec.MessageID), data)
}

// DeleteMessage removes a message row.
func (e *Engine) DeleteMessage(tx store.Txn, rec MessageRecord) error {
	b, err := tx.Bucket(messagesBucket(rec.Queue))
	if err != nil {
		return err
	}
	return b.Delete(messageKey(rec.Seq, rec.MessageID))
}

// ScanMessages visits messages in FIFO enqueue order (ties broken by
// message ID).
func (e *Engine) ScanMessages(tx store.Txn, queue string, fn func(MessageRecord) (bool, error)) error {
	b, err := tx.Bucket(messagesBucket(queue))
	if err != nil {
		return err
	}
	return b.Scan(nil, func(k, v []byte) (bool, error) {
		var rec MessageRecord
		if err := decode(v, &rec); err != nil {
			return false, err
		}
		return fn(rec)
	})
}

// SetReceipt indexes a receipt handle to its message row key, replacing
// oldHandle's entry if one exists. Only the handle in the index is ever
// valid for DeleteMessage; older handles are stale by construction.
func (e *Engine) SetReceipt(tx store.Txn, queue, oldHandle, newHandle string, rec MessageRecord) error {
	b, err := tx.Bucket(receiptsBucket(queue))
	if err != nil {
		return err
	}
	if oldHandle != "" {
		if err := b.Delete([]byte(oldHandle)); err != nil {
			return err
		}
	}
	return b.Put([]byte(newHandle), messageKey(rec.Seq, rec.MessageID))
}

// DeleteReceipt removes a receipt-handle index entry.
func (e *Engine) DeleteReceipt(tx store.Txn, queue, handle string) error {
	b, err := tx.Bucket(receiptsBucket(queue))
	if err != nil {
		return err
	}
	return b.Delete([]byte(handle))
}

// GetMessageByReceipt resolves a receipt handle to its message. A handle
// missing from the index is stale or fabricated: InvalidReceiptHandle.
func (e *Engine) GetMessageByReceipt(tx store.Txn, queue, handle string) (MessageRecord, error) {
	rb, err := tx.Bucket(receiptsBucket(queue))
	if err != nil {
		return MessageRecord{}, err
	}
	msgKey := rb.Get([]byte(handle))
	if msgKey == nil {
		return MessageRecord{}, api.InvalidReceiptHandlef("receipt handle is not current for queue %q", queue)
	}
	mb, err := tx.Bucket(messagesBucket(queue))
	if err != nil {
		return MessageRecord{}, err
	}
	data := mb.Get(msgKey)
	if data == nil {
		// Index pointed at a deleted row; treat as stale.
		return MessageRecord{}, api.InvalidReceiptHandlef("receipt handle is not current for queue %q", queue)
	}
	var rec MessageRecord
	if err := decode(data, &rec); err != nil {
		return MessageRecord{}, err
	}
	return rec, nil
}
