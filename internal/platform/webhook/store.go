package webhook

import (
	"context"
	"sync"

	"github.com/healthmate/healthmate/internal/platform/apperr"
)

// Store persists endpoints and delivery attempts.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	// ListEndpoints filters by owner; an empty ownerID lists all endpoints.
	ListEndpoints(ctx context.Context, ownerID string, limit, offset int) ([]*Endpoint, int, error)
	ListActive(ctx context.Context) ([]*Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
	ListDeliveries(ctx context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error)
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu             sync.RWMutex
	endpoints      map[string]*Endpoint
	deliveries     map[string]*Delivery
	endpointOrder  []string
	deliveryOrder  []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		endpoints:  make(map[string]*Endpoint),
		deliveries: make(map[string]*Delivery),
	}
}

func (s *MemoryStore) CreateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; ok {
		return apperr.Conflict("webhook endpoint already exists")
	}
	cp := *ep
	s.endpoints[ep.ID] = &cp
	s.endpointOrder = append(s.endpointOrder, ep.ID)
	return nil
}

func (s *MemoryStore) GetEndpoint(_ context.Context, id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, apperr.NotFound("webhook endpoint", id)
	}
	cp := *ep
	return &cp, nil
}

func (s *MemoryStore) ListEndpoints(_ context.Context, ownerID string, limit, offset int) ([]*Endpoint, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var filtered []*Endpoint
	for _, id := range s.endpointOrder {
		ep := s.endpoints[id]
		if ownerID == "" || ep.OwnerID == ownerID {
			cp := *ep
			filtered = append(filtered, &cp)
		}
	}
	return page(filtered, limit, offset), len(filtered), nil
}

func (s *MemoryStore) ListActive(_ context.Context) ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Endpoint
	for _, id := range s.endpointOrder {
		if ep := s.endpoints[id]; ep.Active {
			cp := *ep
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; !ok {
		return apperr.NotFound("webhook endpoint", ep.ID)
	}
	cp := *ep
	s.endpoints[ep.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteEndpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return apperr.NotFound("webhook endpoint", id)
	}
	delete(s.endpoints, id)
	for i, eid := range s.endpointOrder {
		if eid == id {
			s.endpointOrder = append(s.endpointOrder[:i], s.endpointOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) RecordDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deliveries[d.ID] = &cp
	s.deliveryOrder = append(s.deliveryOrder, d.ID)
	return nil
}

func (s *MemoryStore) GetDelivery(_ context.Context, id string) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, apperr.NotFound("webhook delivery", id)
	}
	cp := *d
	return &cp, nil
}

// ListDeliveries returns the newest attempts first.
func (s *MemoryStore) ListDeliveries(_ context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var filtered []*Delivery
	for i := len(s.deliveryOrder) - 1; i >= 0; i-- {
		d := s.deliveries[s.deliveryOrder[i]]
		if d.EndpointID == endpointID {
			cp := *d
			filtered = append(filtered, &cp)
		}
	}
	return page(filtered, limit, offset), len(filtered), nil
}

func page[T any](items []T, limit, offset int) []T {
	total := len(items)
	if offset >= total {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return items[offset:end]
}
