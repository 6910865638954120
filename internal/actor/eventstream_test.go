package actor

import (
	"sync"
	"testing"
	"time"
)

func TestEventStreamPublishSubscribeDelivers(t *testing.T) {
	es := NewEventStream(nil)
	defer es.Close()

	received := make(chan any, 1)
	es.Subscribe(TopicMemberJoined, func(event any) {
		received <- event
	}, nil)

	time.Sleep(10 * time.Millisecond)
	es.Publish(TopicMemberJoined, "node-1")

	select {
	case ev := <-received:
		if ev != "node-1" {
			t.Fatalf("expected node-1, got %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventStreamPreservesPerSubscriberOrder(t *testing.T) {
	es := NewEventStream(nil)
	defer es.Close()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	es.Subscribe(TopicMemberJoined, func(event any) {
		mu.Lock()
		order = append(order, event.(int))
		n := len(order)
		mu.Unlock()
		if n == 20 {
			close(done)
		}
	}, nil)

	time.Sleep(10 * time.Millisecond)
	for i := 0; i < 20; i++ {
		es.Publish(TopicMemberJoined, i)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for all events")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("expected order to match publish order, got %v", order)
		}
	}
}

func TestEventStreamUnsubscribeStopsDelivery(t *testing.T) {
	es := NewEventStream(nil)
	defer es.Close()

	count := 0
	var mu sync.Mutex
	tok := es.Subscribe(TopicMemberLeft, func(event any) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)

	time.Sleep(10 * time.Millisecond)
	es.Publish(TopicMemberLeft, "a")
	time.Sleep(20 * time.Millisecond)

	es.Unsubscribe(tok)
	es.Unsubscribe(tok) // idempotent
	es.Publish(TopicMemberLeft, "b")
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly 1 delivery before unsubscribe, got %d", count)
	}
}

func TestEventStreamSubscriberPanicIsSwallowed(t *testing.T) {
	es := NewEventStream(nil)
	defer es.Close()

	secondCalled := make(chan struct{}, 1)
	es.Subscribe(TopicDeadLetter, func(event any) {
		panic("boom")
	}, nil)
	es.Subscribe(TopicDeadLetter, func(event any) {
		secondCalled <- struct{}{}
	}, nil)

	time.Sleep(10 * time.Millisecond)
	es.Publish(TopicDeadLetter, "x")

	select {
	case <-secondCalled:
	case <-time.After(time.Second):
		t.Fatal("expected the non-panicking subscriber to still run")
	}
}
