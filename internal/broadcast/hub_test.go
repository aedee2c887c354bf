package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/spine/internal/model"
)

func testDelta(tenantID, activityID string) *model.Delta {
	return model.NewActivityDelta(model.ActionCreated, &model.Activity{ID: activityID, TenantID: tenantID}, time.Now())
}

func TestHub_DeliversToTenantOnly(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("t1")
	b := hub.Subscribe("t2")
	defer hub.Unsubscribe(a)
	defer hub.Unsubscribe(b)

	if n := hub.Deliver(testDelta("t1", "act-1")); n != 1 {
		t.Fatalf("Deliver returned %d, want 1", n)
	}

	select {
	case d := <-a.Deltas():
		if d.Activity.ID != "act-1" {
			t.Errorf("got activity %q, want act-1", d.Activity.ID)
		}
	default:
		t.Fatal("t1 subscriber got nothing")
	}
	select {
	case d := <-b.Deltas():
		t.Fatalf("t2 subscriber got %+v", d)
	default:
	}
}

func TestHub_MultipleSubscribersSameTenant(t *testing.T) {
	hub := NewHub()
	subs := []*Subscription{hub.Subscribe("t1"), hub.Subscribe("t1"), hub.Subscribe("t1")}
	if got := hub.Count("t1"); got != 3 {
		t.Fatalf("Count = %d, want 3", got)
	}
	if n := hub.Deliver(testDelta("t1", "act-1")); n != 3 {
		t.Fatalf("Deliver returned %d, want 3", n)
	}
	ids := map[string]bool{}
	for _, s := range subs {
		if ids[s.ID] {
			t.Errorf("duplicate subscription id %q", s.ID)
		}
		ids[s.ID] = true
		if len(s.Deltas()) != 1 {
			t.Errorf("subscription %s has %d deltas, want 1", s.ID, len(s.Deltas()))
		}
	}
}

func TestHub_UnsubscribeDropsTenant(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("t1")
	b := hub.Subscribe("t1")

	hub.Unsubscribe(a)
	if hub.Tenants() != 1 || hub.Count("t1") != 1 {
		t.Fatalf("after first unsubscribe: tenants=%d count=%d", hub.Tenants(), hub.Count("t1"))
	}
	hub.Unsubscribe(b)
	if hub.Tenants() != 0 {
		t.Fatalf("tenant entry not dropped: tenants=%d", hub.Tenants())
	}

	// Channels are closed, and a second unsubscribe is harmless.
	if _, ok := <-a.Deltas(); ok {
		t.Error("expected closed channel")
	}
	hub.Unsubscribe(a)
}

func TestHub_DropsWhenFull(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("t1")
	defer hub.Unsubscribe(sub)

	for i := 0; i < SubscriptionBuffer; i++ {
		if n := hub.Deliver(testDelta("t1", "act")); n != 1 {
			t.Fatalf("delivery %d returned %d", i, n)
		}
	}
	if n := hub.Deliver(testDelta("t1", "overflow")); n != 0 {
		t.Fatalf("Deliver on full channel returned %d, want 0", n)
	}
	if len(sub.Deltas()) != SubscriptionBuffer {
		t.Errorf("buffered %d, want %d", len(sub.Deltas()), SubscriptionBuffer)
	}
}

func TestHub_DeliverIgnoresEmpty(t *testing.T) {
	hub := NewHub()
	if n := hub.Deliver(nil); n != 0 {
		t.Errorf("Deliver(nil) = %d", n)
	}
	if n := hub.Deliver(&model.Delta{Action: model.ActionCreated}); n != 0 {
		t.Errorf("Deliver without tenant = %d", n)
	}
	if n := hub.Deliver(testDelta("nobody", "act-1")); n != 0 {
		t.Errorf("Deliver to tenant without subscribers = %d", n)
	}
}

func TestHub_ConcurrentSubscribeDeliver(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe("t1")
			hub.Unsubscribe(sub)
		}()
		go func() {
			defer wg.Done()
			hub.Deliver(testDelta("t1", "act-1"))
		}()
	}
	wg.Wait()
	if hub.Tenants() != 0 {
		t.Errorf("tenants = %d, want 0", hub.Tenants())
	}
}
