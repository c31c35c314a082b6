// Package memory is an in-process order store used by tests and by local runs
// without Postgres. Mutations of one order are serialized by a per-order mutex.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dmehra2102/order-saga/internal/order/application"
	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/google/uuid"
)

var ErrAlreadyPlaced = errors.New("order already placed")

// Event is a lifecycle event recorded alongside a committed mutation.
type Event struct {
	Type    string
	Payload domain.OrderEvent
}

type record struct {
	mu      sync.Mutex
	order   domain.Order
	placed  bool
	deleted bool
}

type Store struct {
	mu       sync.RWMutex
	orders   map[string]*record
	byNumber map[string]string
	byCode   map[string]string
	events   []Event
}

var _ application.OrderRepository = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		orders:   make(map[string]*record),
		byNumber: make(map[string]string),
		byCode:   make(map[string]string),
	}
}

func notFound(key string) error {
	return domain.Errorf(domain.KindOrderNotFound, "order %s not found", key)
}

func (s *Store) ExistsByNumber(_ context.Context, number string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byNumber[number]
	return ok, nil
}

func (s *Store) Create(_ context.Context, o domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byNumber[o.OrderNumber]; taken {
		return domain.Order{}, application.ErrDuplicateOrderNumber
	}
	o = o.Clone()
	o.ID = uuid.NewString()
	o.Version = 1
	s.orders[o.ID] = &record{order: o}
	s.byNumber[o.OrderNumber] = o.ID
	return o.Clone(), nil
}

func (s *Store) Finalize(_ context.Context, o domain.Order) (domain.Order, error) {
	rec, err := s.lookup(o.ID, true)
	if err != nil {
		return domain.Order{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return domain.Order{}, notFound(o.ID)
	}
	if rec.placed {
		return domain.Order{}, ErrAlreadyPlaced
	}

	next := rec.order.Clone()
	next.Status = o.Status
	next.Payment = o.Payment
	next.UpdatedAt = o.UpdatedAt
	next.Version++
	rec.order = next
	rec.placed = true

	if code := next.Payment.ProviderOrderCode; code != "" {
		s.mu.Lock()
		s.byCode[code] = next.ID
		s.mu.Unlock()
	}
	s.record(domain.EventOrderPlaced, next)
	return next.Clone(), nil
}

func (s *Store) Discard(_ context.Context, id string) error {
	s.mu.Lock()
	rec, ok := s.orders[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.placed {
		return ErrAlreadyPlaced
	}
	rec.deleted = true

	// The number stays reserved: the provider may already have seen it.
	s.mu.Lock()
	delete(s.orders, id)
	s.byNumber[rec.order.OrderNumber] = ""
	s.mu.Unlock()
	return nil
}

func (s *Store) Mutate(_ context.Context, id string, fn application.MutateFunc) (domain.Order, error) {
	rec, err := s.lookup(id, false)
	if err != nil {
		return domain.Order{}, err
	}
	return s.mutate(rec, id, fn)
}

func (s *Store) MutateByProviderCode(_ context.Context, code string, fn application.MutateFunc) (domain.Order, error) {
	s.mu.RLock()
	id, ok := s.byCode[code]
	s.mu.RUnlock()
	if !ok {
		return domain.Order{}, notFound("with provider code " + code)
	}
	rec, err := s.lookup(id, false)
	if err != nil {
		return domain.Order{}, err
	}
	return s.mutate(rec, id, fn)
}

func (s *Store) mutate(rec *record, id string, fn application.MutateFunc) (domain.Order, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted || !rec.placed {
		return domain.Order{}, notFound(id)
	}

	next := rec.order.Clone()
	changed, err := fn(&next)
	if err != nil {
		return domain.Order{}, err
	}
	if !changed {
		return rec.order.Clone(), nil
	}
	next.Version = rec.order.Version + 1
	rec.order = next
	s.record(domain.EventTypeFor(next), next)
	return next.Clone(), nil
}

func (s *Store) Get(_ context.Context, id string) (domain.Order, error) {
	rec, err := s.lookup(id, false)
	if err != nil {
		return domain.Order{}, err
	}
	return s.read(rec, id)
}

func (s *Store) GetByNumber(_ context.Context, number string) (domain.Order, error) {
	s.mu.RLock()
	id, ok := s.byNumber[number]
	s.mu.RUnlock()
	if !ok || id == "" {
		return domain.Order{}, notFound(number)
	}
	rec, err := s.lookup(id, false)
	if err != nil {
		return domain.Order{}, err
	}
	return s.read(rec, number)
}

func (s *Store) ListByUser(_ context.Context, userID string, q application.ListQuery) (application.Page, error) {
	return s.list(q, func(o domain.Order) bool {
		if o.UserID != userID {
			return false
		}
		if q.From != nil && o.CreatedAt.Before(*q.From) {
			return false
		}
		if q.To != nil && o.CreatedAt.After(*q.To) {
			return false
		}
		return true
	}), nil
}

func (s *Store) ListByStatus(_ context.Context, status domain.OrderStatus, q application.ListQuery) (application.Page, error) {
	return s.list(q, func(o domain.Order) bool { return o.Status == status }), nil
}

// Events returns the lifecycle events recorded so far, oldest first.
func (s *Store) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}

func (s *Store) list(q application.ListQuery, keep func(domain.Order) bool) application.Page {
	q = q.Normalize()

	s.mu.RLock()
	recs := make([]*record, 0, len(s.orders))
	for _, rec := range s.orders {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	var matched []domain.Order
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.placed && !rec.deleted && keep(rec.order) {
			matched = append(matched, rec.order.Clone())
		}
		rec.mu.Unlock()
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].OrderNumber > matched[j].OrderNumber
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := application.Page{Total: len(matched), Page: q.Page, Size: q.Size}
	start := q.Offset()
	if start >= len(matched) {
		return page
	}
	end := min(start+q.Size, len(matched))
	page.Orders = matched[start:end]
	return page
}

func (s *Store) lookup(id string, includeUnplaced bool) (*record, error) {
	s.mu.RLock()
	rec, ok := s.orders[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	if !includeUnplaced {
		rec.mu.Lock()
		placed := rec.placed
		rec.mu.Unlock()
		if !placed {
			return nil, notFound(id)
		}
	}
	return rec, nil
}

func (s *Store) read(rec *record, key string) (domain.Order, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted || !rec.placed {
		return domain.Order{}, notFound(key)
	}
	return rec.order.Clone(), nil
}

// record is called with the order's lock held, so events of one order keep commit order.
func (s *Store) record(eventType string, o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{Type: eventType, Payload: domain.NewOrderEvent(o, time.Now().UTC())})
}
