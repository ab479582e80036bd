package queue

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"cloudemu/internal/blob"
	"cloudemu/internal/engine"
	"cloudemu/internal/logging"
	boltstore "cloudemu/internal/store/bolt"
	"cloudemu/pkg/api"
)

// clock is an adjustable time source for exercising visibility expiry
// without sleeping.
type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func tempService(t *testing.T) (*Service, *clock) {
	t.Helper()
	dir := t.TempDir()
	meta, err := boltstore.Open(filepath.Join(dir, "metadata.db"))
	if err != nil {
		t.Fatal(err)
	}
	blobs, err := blob.Open(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatal(err)
	}
	e := engine.New(meta, blobs)
	t.Cleanup(func() { e.Close() })

	s := New(e)
	c := &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	s.now = c.now
	return s, c
}

func mustCreate(t *testing.T, s *Service, name string, visibility time.Duration, maxReceive int, dlq string) {
	t.Helper()
	if err := s.CreateQueue(name, visibility, maxReceive, dlq); err != nil {
		t.Fatal(err)
	}
}

func receiveOne(t *testing.T, s *Service, queue string) engine.MessageRecord {
	t.Helper()
	msgs, err := s.ReceiveMessage(queue, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("received %d messages, want 1", len(msgs))
	}
	return msgs[0]
}

func TestSendReceiveFIFO(t *testing.T) {
	s, _ := tempService(t)
	mustCreate(t, s, "q", 30*time.Second, 0, "")

	for _, body := range []string{"first", "second", "third"} {
		if _, err := s.SendMessage("q", []byte(body)); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.ReceiveMessage("q", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("received %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if string(msgs[i].Body) != want {
			t.Fatalf("message %d body = %q, want %q", i, msgs[i].Body, want)
		}
		if msgs[i].ReceiveCount != 1 {
			t.Fatalf("message %d receive count = %d, want 1", i, msgs[i].ReceiveCount)
		}
		if msgs[i].ReceiptHandle == "" {
			t.Fatalf("message %d missing receipt handle", i)
		}
	}
}

func TestSequentialSingleReceives(t *testing.T) {
	s, _ := tempService(t)
	mustCreate(t, s, "q", 30*time.Second, 0, "")
	for _, body := range []string{"a", "b", "c"} {
		if _, err := s.SendMessage("q", []byte(body)); err != nil {
			t.Fatal(err)
		}
	}

	// Without deleting, each receive leapfrogs the in-flight head.
	for _, want := range []string{"a", "b", "c"} {
		msg := receiveOne(t, s, "q")
		if string(msg.Body) != want {
			t.Fatalf("received %q, want %q", msg.Body, want)
		}
	}
}

func TestInFlightHiddenFromSecondReceiver(t *testing.T) {
	s, _ := tempService(t)
	mustCreate(t, s, "q", 30*time.Second, 0, "")
	if _, err := s.SendMessage("q", []byte("solo")); err != nil {
		t.Fatal(err)
	}

	receiveOne(t, s, "q")

	msgs, err := s.ReceiveMessage("q", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("in-flight message redelivered before timeout")
	}
}

func TestRedeliveryAfterExpiry(t *testing.T) {
	s, c := tempService(t)
	mustCreate(t, s, "q", 30*time.Second, 0, "")
	if _, err := s.SendMessage("q", []byte("retry me")); err != nil {
		t.Fatal(err)
	}

	first := receiveOne(t, s, "q")
	c.advance(31 * time.Second)
	second := receiveOne(t, s, "q")

	if second.MessageID != first.MessageID {
		t.Fatal("redelivery returned a different message")
	}
	if second.ReceiveCount != 2 {
		t.Fatalf("receive count = %d, want 2", second.ReceiveCount)
	}
	if second.ReceiptHandle == first.ReceiptHandle {
		t.Fatal("redelivery reused the old receipt handle")
	}
}

func TestDeleteAcknowledges(t *testing.T) {
	s, c := tempService(t)
	mustCreate(t, s, "q", 30*time.Second, 0, "")
	if _, err := s.SendMessage("q", []byte("done")); err != nil {
		t.Fatal(err)
	}

	msg := receiveOne(t, s, "q")
	if err := s.DeleteMessage("q", msg.ReceiptHandle); err != nil {
		t.Fatal(err)
	}

	c.advance(time.Minute)
	msgs, err := s.ReceiveMessage("q", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatal("deleted message came back")
	}
}

func TestStaleReceiptHandleRejected(t *testing.T) {
	s, c := tempService(t)
	mustCreate(t, s, "q", 30*time.Second, 0, "")
	if _, err := s.SendMessage("q", []byte("contested")); err != nil {
		t.Fatal(err)
	}

	first := receiveOne(t, s, "q")
	c.advance(31 * time.Second)
	second := receiveOne(t, s, "q")

	err := s.DeleteMessage("q", first.ReceiptHandle)
	if !api.IsInvalidReceiptHandle(err) {
		t.Fatalf("late ack with superseded handle: %v, want invalid receipt handle", err)
	}

	// The current handle still works.
	if err := s.DeleteMessage("q", second.ReceiptHandle); err != nil {
		t.Fatal(err)
	}
}

func TestFabricatedReceiptHandleRejected(t *testing.T) {
	s, _ := tempService(t)
	mustCreate(t, s, "q", 30*time.Second, 0, "")

	err := s.DeleteMessage("q", "no-such-handle")
	if !api.IsInvalidReceiptHandle(err) {
		t.Fatalf("got %v, want invalid receipt handle", err)
	}
}

func TestDeadLetterAfterMaxReceives(t *testing.T) {
	s, c := tempService(t)
	mustCreate(t, s, "dlq", 30*time.Second, 0, "")
	mustCreate(t, s, "q", 10*time.Second, 2, "dlq")
	if _, err := s.SendMessage("q", []byte("poison")); err != nil {
		t.Fatal(err)
	}

	// Deliver exactly maxReceiveCount times.
	for i := 0; i < 2; i++ {
		msg := receiveOne(t, s, "q")
		if msg.ReceiveCount != i+1 {
			t.Fatalf("receive %d count = %d", i+1, msg.ReceiveCount)
		}
		c.advance(11 * time.Second)
	}

	// The third attempt moves it aside instead of delivering.
	msgs, err := s.ReceiveMessage("q", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("message delivered %d times past its maximum", msgs[0].ReceiveCount)
	}

	dead := receiveOne(t, s, "dlq")
	if string(dead.Body) != "poison" {
		t.Fatalf("dead-letter body = %q", dead.Body)
	}
	if dead.ReceiveCount != 3 {
		t.Fatalf("dead-letter receive count = %d, want 3", dead.ReceiveCount)
	}

	st, err := s.QueueStats("q")
	if err != nil {
		t.Fatal(err)
	}
	if st.Visible != 0 || st.InFlight != 0 {
		t.Fatalf("source queue stats after dead-letter = %+v", st)
	}
}

func TestDeletedDeadLetterTargetKeepsRedelivering(t *testing.T) {
	s, c := tempService(t)
	mustCreate(t, s, "dlq", 30*time.Second, 0, "")
	mustCreate(t, s, "q", 5*time.Second, 1, "dlq")
	if err := s.DeleteQueue("dlq"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SendMessage("q", []byte("orphaned target")); err != nil {
		t.Fatal(err)
	}

	// With the target gone the cap stops applying; receives must keep
	// working and redelivering past max_receive_count.
	for i := 0; i < 3; i++ {
		msg := receiveOne(t, s, "q")
		if msg.ReceiveCount != i+1 {
			t.Fatalf("receive %d count = %d", i+1, msg.ReceiveCount)
		}
		c.advance(6 * time.Second)
	}

	// The sweeper skips the queue instead of failing its pass.
	if err := NewSweeper(s, time.Second).Sweep(); err != nil {
		t.Fatal(err)
	}
	st, err := s.QueueStats("q")
	if err != nil {
		t.Fatal(err)
	}
	if st.Visible != 1 {
		t.Fatalf("stats after sweep = %+v, want the message still queued", st)
	}
}

func TestNoDeadLetterWithoutTarget(t *testing.T) {
	s, c := tempService(t)
	mustCreate(t, s, "q", 10*time.Second, 1, "")
	if _, err := s.SendMessage("q", []byte("forever")); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		msg := receiveOne(t, s, "q")
		if msg.ReceiveCount != i+1 {
			t.Fatalf("receive %d count = %d", i+1, msg.ReceiveCount)
		}
		c.advance(11 * time.Second)
	}
}

func TestChangeMessageVisibility(t *testing.T) {
	s, c := tempService(t)
	mustCreate(t, s, "q", time.Hour, 0, "")
	if _, err := s.SendMessage("q", []byte("flexible")); err != nil {
		t.Fatal(err)
	}

	msg := receiveOne(t, s, "q")

	// Shorten the long default; the message resurfaces after 5s.
	if err := s.ChangeMessageVisibility("q", msg.ReceiptHandle, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	c.advance(6 * time.Second)
	again := receiveOne(t, s, "q")
	if again.MessageID != msg.MessageID {
		t.Fatal("wrong message resurfaced")
	}

	// Zero returns it immediately.
	if err := s.ChangeMessageVisibility("q", again.ReceiptHandle, 0); err != nil {
		t.Fatal(err)
	}
	receiveOne(t, s, "q")
}

func TestReceiveVisibilityOverride(t *testing.T) {
	s, c := tempService(t)
	mustCreate(t, s, "q", time.Hour, 0, "")
	if _, err := s.SendMessage("q", []byte("short lease")); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.ReceiveMessage("q", 1, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatal("no message received")
	}

	c.advance(3 * time.Second)
	receiveOne(t, s, "q")
}

func TestQueueStats(t *testing.T) {
	s, _ := tempService(t)
	mustCreate(t, s, "q", 30*time.Second, 0, "")
	for i := 0; i < 3; i++ {
		if _, err := s.SendMessage("q", []byte("m")); err != nil {
			t.Fatal(err)
		}
	}
	receiveOne(t, s, "q")

	st, err := s.QueueStats("q")
	if err != nil {
		t.Fatal(err)
	}
	if st.Visible != 2 || st.InFlight != 1 {
		t.Fatalf("stats = %+v, want 2 visible 1 in flight", st)
	}
}

func TestCreateQueueValidation(t *testing.T) {
	s, _ := tempService(t)

	if err := s.CreateQueue("q", 0, 3, "missing-dlq"); !api.IsInvalidArgument(err) {
		t.Fatalf("absent dead-letter queue: %v", err)
	}
	if err := s.CreateQueue("q", 0, 0, "q"); !api.IsInvalidArgument(err) {
		t.Fatalf("self dead-letter: %v", err)
	}
	if err := s.CreateQueue("", 0, 0, ""); !api.IsInvalidArgument(err) {
		t.Fatalf("empty name: %v", err)
	}

	mustCreate(t, s, "q", 0, 0, "")
	if err := s.CreateQueue("q", 0, 0, ""); !api.IsConflict(err) {
		t.Fatalf("duplicate queue: %v", err)
	}
}

func TestDeleteQueueDropsMessages(t *testing.T) {
	s, _ := tempService(t)
	mustCreate(t, s, "q", 30*time.Second, 0, "")
	if _, err := s.SendMessage("q", []byte("doomed")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteQueue("q"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.SendMessage("q", []byte("late")); !api.IsNotFound(err) {
		t.Fatalf("send to deleted queue: %v", err)
	}

	// Re-creating starts empty.
	mustCreate(t, s, "q", 30*time.Second, 0, "")
	st, err := s.QueueStats("q")
	if err != nil {
		t.Fatal(err)
	}
	if st.Visible != 0 || st.InFlight != 0 {
		t.Fatalf("recreated queue stats = %+v, want empty", st)
	}
}

func TestDeadLetterLogged(t *testing.T) {
	capture := logging.CaptureForTest()
	defer capture.Restore()

	s, c := tempService(t)
	mustCreate(t, s, "dlq", 30*time.Second, 0, "")
	mustCreate(t, s, "q", 5*time.Second, 1, "dlq")
	if _, err := s.SendMessage("q", []byte("noisy")); err != nil {
		t.Fatal(err)
	}

	receiveOne(t, s, "q")
	c.advance(6 * time.Second)
	if _, err := s.ReceiveMessage("q", 1, 0); err != nil {
		t.Fatal(err)
	}

	if !capture.Has(slog.LevelInfo, "dead-lettered") {
		t.Fatal("dead-letter move not logged")
	}
}

func TestSweeperDeadLetters(t *testing.T) {
	s, c := tempService(t)
	mustCreate(t, s, "dlq", 30*time.Second, 0, "")
	mustCreate(t, s, "q", 5*time.Second, 1, "dlq")
	if _, err := s.SendMessage("q", []byte("swept")); err != nil {
		t.Fatal(err)
	}

	receiveOne(t, s, "q")
	c.advance(6 * time.Second)

	sw := NewSweeper(s, time.Second)
	if err := sw.Sweep(); err != nil {
		t.Fatal(err)
	}

	st, err := s.QueueStats("q")
	if err != nil {
		t.Fatal(err)
	}
	if st.Visible != 0 || st.InFlight != 0 {
		t.Fatalf("source queue stats after sweep = %+v", st)
	}
	dead := receiveOne(t, s, "dlq")
	if string(dead.Body) != "swept" {
		t.Fatalf("dead-letter body = %q", dead.Body)
	}
}
