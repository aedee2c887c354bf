// Package broadcast pushes activity deltas to the live subscribers of each
// tenant. Delivery is best-effort: a slow subscriber loses deltas instead of
// stalling the writer.
package broadcast

import (
	"sync"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/spine/internal/metrics"
	"github.com/alfredjeanlab/spine/internal/model"
)

// SubscriptionBuffer is the capacity of each subscription channel.
const SubscriptionBuffer = 64

// Subscription is one live consumer registered for a tenant.
type Subscription struct {
	ID       string
	TenantID string
	ch       chan *model.Delta
}

// Deltas returns the channel deltas arrive on. It is closed by Unsubscribe.
func (s *Subscription) Deltas() <-chan *model.Delta {
	return s.ch
}

// Hub is the per-tenant subscriber registry.
type Hub struct {
	mu      sync.RWMutex
	tenants map[string]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{tenants: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a new subscription for tenantID. Call Unsubscribe
// when done.
func (h *Hub) Subscribe(tenantID string) *Subscription {
	sub := &Subscription{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		ch:       make(chan *model.Delta, SubscriptionBuffer),
	}
	h.mu.Lock()
	subs, ok := h.tenants[tenantID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.tenants[tenantID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()
	metrics.LiveSubscribers.Inc()
	return sub
}

// Unsubscribe removes sub and closes its channel. The tenant entry is
// dropped once its last subscription leaves. Unsubscribing twice is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.tenants[sub.TenantID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.tenants, sub.TenantID)
	}
	close(sub.ch)
	metrics.LiveSubscribers.Dec()
}

// Deliver pushes d to every subscription of d.TenantID and returns how many
// accepted it.
func (h *Hub) Deliver(d *model.Delta) int {
	if d == nil || d.TenantID == "" {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for sub := range h.tenants[d.TenantID] {
		select {
		case sub.ch <- d:
			n++
			metrics.DeltasDelivered.Inc()
		default:
			metrics.DeltasDropped.Inc()
		}
	}
	return n
}

// Count returns the number of live subscriptions for tenantID.
func (h *Hub) Count(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants[tenantID])
}

// Tenants returns the number of tenants with at least one subscription.
func (h *Hub) Tenants() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants)
}
