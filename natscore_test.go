package natscore

import (
	"testing"
	"time"
)

func TestConnectRequiresAtLeastOneServer(t *testing.T) {
	_, err := Connect(nil, nil)
	if err == nil {
		t.Fatal("expected an error when no servers are configured")
	}
}

func TestConnectAppliesFunctionalOptions(t *testing.T) {
	c, err := Connect([]string{"127.0.0.1:34222"}, nil,
		WithAllowReconnect(false),
		WithMaxPingsOut(5),
		WithName("test-client"),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if c.machine == nil {
		t.Fatal("expected a connfsm.Machine to be built")
	}
}

func TestConnectDefaultsToNoopObserverWhenNil(t *testing.T) {
	c, err := Connect([]string{"127.0.0.1:34222"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.observer == nil {
		t.Fatal("expected a default observer")
	}
}

type recordingObserver struct {
	NoopObserver
	closed chan struct{}
}

func (r *recordingObserver) OnClose() { close(r.closed) }

func TestCloseIsIdempotentAndSynchronous(t *testing.T) {
	obs := &recordingObserver{closed: make(chan struct{})}
	c, err := Connect([]string{"127.0.0.1:1"}, obs, WithAllowReconnect(false), WithDialTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	c.Close()
	c.Close() // must not panic or block
}

func TestSubscribeReturnsHandleWithSidAndSubject(t *testing.T) {
	c, err := Connect([]string{"127.0.0.1:34222"}, nil, WithAllowReconnect(false))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	sub, err := c.Subscribe("orders.>", func(msg *Msg) {})
	if err != nil {
		t.Fatal(err)
	}
	if sub.Subject != "orders.>" || sub.Sid == 0 {
		t.Fatalf("sub = %+v", sub)
	}
}

func TestQueueSubscribeRecordsQueueGroup(t *testing.T) {
	c, err := Connect([]string{"127.0.0.1:34222"}, nil, WithAllowReconnect(false))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	sub, err := c.QueueSubscribe("work", "workers", func(msg *Msg) {})
	if err != nil {
		t.Fatal(err)
	}
	if sub.Queue != "workers" {
		t.Fatalf("sub.Queue = %q", sub.Queue)
	}
}

func TestPublishAfterCloseReturnsConnClosed(t *testing.T) {
	c, err := Connect([]string{"127.0.0.1:34222"}, nil, WithAllowReconnect(false))
	if err != nil {
		t.Fatal(err)
	}
	c.Close()
	if err := c.Publish("foo", []byte("x")); err == nil {
		t.Fatal("expected publish on a closed connection to fail")
	}
}

func TestFlushTimesOutWithoutAConnection(t *testing.T) {
	c, err := Connect([]string{"127.0.0.1:1"}, nil, WithAllowReconnect(false), WithDialTimeout(5*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Flush(30 * time.Millisecond); err == nil {
		t.Fatal("expected Flush to time out with no live connection")
	}
}
