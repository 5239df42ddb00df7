package broadcast

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/tournament-vote-backend/internal/events"
)

// helper: receive one envelope with a timeout so tests never hang
func recvEnvelope(t *testing.T, ch <-chan events.Envelope, within time.Duration) events.Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		if !ok {
			t.Fatalf("subscriber channel closed unexpectedly")
		}
		return env
	case <-time.After(within):
		t.Fatalf("timed out waiting for envelope")
		return events.Envelope{}
	}
}

func waitClosed(t *testing.T, ch <-chan events.Envelope, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("channel not closed within %v", within)
		}
	}
}

func TestSubscribe_SnapshotFirstThenLiveEvents(t *testing.T) {
	h := NewHub(WithBuffer(8))
	topic := h.Open("ABC123")
	topic.Publish(events.GameStarted{TotalRounds: 2})

	sub := topic.Subscribe("p1", events.Snapshot{Code: "ABC123"})

	first := recvEnvelope(t, sub.C(), 100*time.Millisecond)
	if _, ok := first.Event.(events.Snapshot); !ok || first.Seq != 1 {
		t.Fatalf("expected snapshot at seq 1, got %+v", first)
	}

	topic.Publish(events.PlayerLeft{PlayerID: "x"})
	next := recvEnvelope(t, sub.C(), 100*time.Millisecond)
	if next.Seq != 2 || next.Event.Kind() != events.KindPlayerLeft {
		t.Fatalf("expected player_left at seq 2, got %+v", next)
	}
}

func TestPublish_OrderIsSameForAllSubscribers(t *testing.T) {
	h := NewHub(WithBuffer(128))
	topic := h.Open("ORDER1")

	subs := make([]*Subscriber, 5)
	for i := range subs {
		subs[i] = topic.Subscribe(fmt.Sprintf("p%d", i), nil)
	}
	for i := 0; i < 100; i++ {
		topic.Publish(events.PlayerLeft{PlayerID: fmt.Sprint(i)})
	}

	for _, sub := range subs {
		for i := 0; i < 100; i++ {
			env := recvEnvelope(t, sub.C(), 100*time.Millisecond)
			if env.Seq != uint64(i+1) || env.Event.(events.PlayerLeft).PlayerID != fmt.Sprint(i) {
				t.Fatalf("subscriber %s: out of order at %d: %+v", sub.ID, i, env)
			}
		}
	}
}

func TestPublish_DropsSlowSubscriberWithoutBlocking(t *testing.T) {
	h := NewHub(WithBuffer(2))
	topic := h.Open("SLOW01")
	slow := topic.Subscribe("slow", nil)
	fast := topic.Subscribe("fast", nil)

	for i := 0; i < 3; i++ {
		topic.Publish(events.PlayerLeft{PlayerID: fmt.Sprint(i)})
		recvEnvelope(t, fast.C(), 100*time.Millisecond)
	}

	if topic.Len() != 1 {
		t.Fatalf("expected slow subscriber dropped, have %d subscribers", topic.Len())
	}
	waitClosed(t, slow.C(), 100*time.Millisecond)
}

func TestPublish_TerminalEventClosesTopic(t *testing.T) {
	h := NewHub()
	topic := h.Open("DONE01")
	sub := topic.Subscribe("p1", nil)

	topic.Publish(events.GameComplete{Winner: events.ItemView{ID: "A"}})
	if seq := topic.Publish(events.PlayerLeft{PlayerID: "p1"}); seq != 0 {
		t.Fatalf("publish after game_complete must be discarded, got seq %d", seq)
	}

	env := recvEnvelope(t, sub.C(), 100*time.Millisecond)
	if env.Event.Kind() != events.KindGameComplete {
		t.Fatalf("expected game_complete, got %s", env.Event.Kind())
	}
	waitClosed(t, sub.C(), 100*time.Millisecond)

	late := topic.Subscribe("late", events.Snapshot{Status: "complete"})
	if recvEnvelope(t, late.C(), 100*time.Millisecond).Event.Kind() != events.KindSnapshot {
		t.Fatalf("late subscriber should still get a snapshot")
	}
	waitClosed(t, late.C(), 100*time.Millisecond)
}

func TestUnsubscribe_IsIdempotent(t *testing.T) {
	h := NewHub()
	topic := h.Open("UNSUB1")
	sub := topic.Subscribe("p1", nil)
	if !topic.Unsubscribe(sub.ID) {
		t.Fatalf("first unsubscribe should remove")
	}
	if topic.Unsubscribe(sub.ID) {
		t.Fatalf("second unsubscribe should be a no-op")
	}
	waitClosed(t, sub.C(), 100*time.Millisecond)
}

func TestHub_UnknownCode(t *testing.T) {
	h := NewHub()
	if _, ok := h.Topic("NOPE00"); ok {
		t.Fatalf("unknown code should have no topic")
	}
}

func TestHub_RemoveClosesSubscribers(t *testing.T) {
	h := NewHub()
	sub := h.Open("GONE01").Subscribe("", nil)
	h.Remove("GONE01")

	waitClosed(t, sub.C(), 100*time.Millisecond)
	if _, ok := h.Topic("GONE01"); ok {
		t.Fatalf("topic should be forgotten")
	}
}

func TestConcurrentSubscribePublish(t *testing.T) {
	h := NewHub(WithBuffer(1024))
	topic := h.Open("RACE01")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := topic.Subscribe("", nil)
			topic.Unsubscribe(sub.ID)
		}()
		go func(i int) {
			defer wg.Done()
			topic.Publish(events.PlayerLeft{PlayerID: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()

	if seq := topic.Publish(events.GameStarted{}); seq != 21 {
		t.Fatalf("expected 20 published events before this one, got seq %d", seq)
	}
}
