package notify

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Notify(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func TestMulti_DeliversToEverySink(t *testing.T) {
	boom := errors.New("boom")
	a, b := &recorder{}, &recorder{err: boom}
	m := Multi{a, nil, b}

	err := m.Notify(context.Background(), Event{Kind: RequestCreated, RequestID: "req_1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both sinks to receive the event: %d %d", len(a.events), len(b.events))
	}
}

type fakeSender struct {
	sent []*messaging.Message
}

func (f *fakeSender) Send(ctx context.Context, m *messaging.Message) (string, error) {
	f.sent = append(f.sent, m)
	return "msg-1", nil
}

func TestFCM_PushesOperatorFacingEvents(t *testing.T) {
	sender := &fakeSender{}
	f := NewFCM(sender, "")
	ctx := context.Background()

	_ = f.Notify(ctx, Event{Kind: RequestCreated, RequestID: "req_1", At: 1})
	_ = f.Notify(ctx, Event{Kind: RidePickedUp, RideID: "ride_1"})
	_ = f.Notify(ctx, Event{Kind: RequestClosed, RequestID: "req_1", Status: "rejected", Reason: "timeout"})

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 pushes, got %d", len(sender.sent))
	}
	first := sender.sent[0]
	if first.Topic != "operators" || first.Notification == nil || first.Data["request_id"] != "req_1" {
		t.Fatalf("unexpected created push: %+v", first)
	}
	if sender.sent[1].Data["reason"] != "timeout" {
		t.Fatalf("expected closure reason in data, got %v", sender.sent[1].Data)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafka_KeysByRequest(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafka(w)
	if err := k.Notify(context.Background(), Event{Kind: RequestAccepted, RequestID: "req_9", OperatorID: "op_1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "req_9" {
		t.Fatalf("unexpected messages: %+v", w.msgs)
	}
	var got Event
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != RequestAccepted || got.OperatorID != "op_1" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestSignalHub_FiltersByRequest(t *testing.T) {
	hub := NewSignalHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	all, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer all.Close()
	one, _, err := websocket.DefaultDialer.Dial(wsURL+"?request_id=req_2", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer one.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Connected() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Connected() != 2 {
		t.Fatalf("expected 2 sessions, got %d", hub.Connected())
	}

	ctx := context.Background()
	_ = hub.Notify(ctx, Event{Kind: RequestAccepted, RequestID: "req_1", SignalState: "waiting"})
	_ = hub.Notify(ctx, Event{Kind: RequestClosed, RequestID: "req_2", SignalState: "rejected"})

	var m SignalMessage
	_ = all.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := all.ReadJSON(&m); err != nil || m.RequestID != "req_1" {
		t.Fatalf("unfiltered session: %+v %v", m, err)
	}
	if err := all.ReadJSON(&m); err != nil || m.RequestID != "req_2" {
		t.Fatalf("unfiltered session second message: %+v %v", m, err)
	}

	_ = one.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := one.ReadJSON(&m); err != nil {
		t.Fatalf("filtered session: %v", err)
	}
	if m.RequestID != "req_2" || m.SignalState != "rejected" {
		t.Fatalf("filtered session got %+v", m)
	}
}

func TestSignalHub_LaggingSessionDoesNotBlock(t *testing.T) {
	hub := NewSignalHub(nil)
	// A session with no writer running never drains its queue.
	stalled := &signalSession{send: make(chan SignalMessage, signalBuffer)}
	hub.mu.Lock()
	hub.sessions[stalled] = struct{}{}
	hub.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < signalBuffer+5; i++ {
			_ = hub.Notify(context.Background(), Event{Kind: RequestAccepted, RequestID: "req_1", SignalState: "waiting", At: int64(i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notify blocked on a stalled session")
	}

	if got := len(stalled.send); got != signalBuffer {
		t.Fatalf("queued %d messages, want %d", got, signalBuffer)
	}
	if first := <-stalled.send; first.At != 0 {
		t.Fatalf("oldest queued message should be kept, got %+v", first)
	}
}

func TestSignalHub_PingsAndDropsClosedSessions(t *testing.T) {
	hub := NewSignalHub(nil)
	hub.pingPeriod = 20 * time.Millisecond
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Connected() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := hub.Connected(); n != 0 {
		t.Fatalf("expected closed session to be removed, %d left", n)
	}
}
