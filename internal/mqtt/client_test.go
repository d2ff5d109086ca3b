package mqtt

import (
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeBroker stands in for the paho client. Only Subscribe is used; a
// reconnect with a clean session drops every route.
type fakeBroker struct {
	paho.Client

	mu     sync.Mutex
	routes map[string]paho.MessageHandler
	calls  int
}

func (b *fakeBroker) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.routes[topic] = cb
	return doneToken{}
}

func (b *fakeBroker) dropSession() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes = map[string]paho.MessageHandler{}
}

func (b *fakeBroker) deliver(topic string, payload []byte) bool {
	b.mu.Lock()
	cb := b.routes[topic]
	b.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(b, fakeMessage{topic: topic, payload: payload})
	return true
}

func TestClient_ResubscribesAfterReconnect(t *testing.T) {
	broker := &fakeBroker{routes: map[string]paho.MessageHandler{}}
	c := &Client{c: broker, subs: map[string]func(string, []byte){}}

	var got []string
	record := func(topic string, payload []byte) { got = append(got, topic+"="+string(payload)) }
	for _, topic := range []string{"cam/pose", "cam/gyro/result"} {
		if err := c.Subscribe(topic, record); err != nil {
			t.Fatalf("Subscribe %s: %v", topic, err)
		}
	}

	broker.dropSession()
	if broker.deliver("cam/pose", []byte("1")) {
		t.Fatalf("route survived a clean reconnect")
	}

	// paho's on-connect hook.
	c.resubscribe()
	if broker.calls != 4 {
		t.Fatalf("subscribe calls=%d want 4", broker.calls)
	}
	if !broker.deliver("cam/pose", []byte("2")) || !broker.deliver("cam/gyro/result", []byte("3")) {
		t.Fatalf("routes not restored")
	}
	if len(got) != 2 || got[0] != "cam/pose=2" || got[1] != "cam/gyro/result=3" {
		t.Fatalf("delivered=%q", got)
	}
}

func TestClient_NilIsError(t *testing.T) {
	var c *Client
	if err := c.Subscribe("x", func(string, []byte) {}); err == nil {
		t.Fatalf("expected error from nil client")
	}
	if err := c.Publish("x", false, nil); err == nil {
		t.Fatalf("expected error from nil client")
	}
}
