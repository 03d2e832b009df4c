// Package subscription persists the set of subscribed conference instances
// as one JSON list under the "subscriptions" key.
package subscription

import (
	"context"
	"strings"
	"sync"
	"time"

	"confwatch/internal/conference"
	"confwatch/internal/eventbus"
	"confwatch/internal/host"
	"confwatch/internal/storage"
	logx "confwatch/pkg/logx"
)

// Store is CRUD over subscriptions, unique by id.
//
// Reads degrade to an empty list on storage or decode failures. Mutations
// are serialized within the process and write both the list and lastUpdated.
type Store struct {
	kv    storage.KV
	clock host.Clock
	bus   eventbus.Bus
	log   logx.Logger

	mu sync.Mutex
}

func New(kv storage.KV, clock host.Clock, bus eventbus.Bus, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = host.SystemClock{}
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Store{kv: kv, clock: clock, bus: bus, log: log.With(logx.String("comp", "subscriptions"))}
}

func (s *Store) List(ctx context.Context) []conference.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(ctx)
}

func (s *Store) Get(ctx context.Context, id string) (conference.Subscription, bool) {
	for _, sub := range s.List(ctx) {
		if sub.ID == id {
			return sub, true
		}
	}
	return conference.Subscription{}, false
}

func (s *Store) Has(ctx context.Context, id string) bool {
	_, ok := s.Get(ctx, id)
	return ok
}

// Add replaces a subscription with the same id in place or appends it.
// A failed write is returned: the subscription was not durably saved.
func (s *Store) Add(ctx context.Context, sub conference.Subscription) error {
	sub.ID = strings.TrimSpace(sub.ID)
	if sub.ID == "" {
		sub.ID = conference.SubscriptionID(sub.Title, conference.Instance{Year: sub.Year})
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.readLocked(ctx)
	replaced := false
	for i := range list {
		if list[i].ID == sub.ID {
			list[i] = sub
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, sub)
	}
	if err := s.writeLocked(ctx, list); err != nil {
		return err
	}
	s.log.Info("subscription saved", logx.String("id", sub.ID), logx.Bool("replaced", replaced))
	s.bus.Publish(eventbus.Event{Type: eventbus.Subscribed, Data: sub.ID})
	return nil
}

// Remove deletes id. Absent ids are a no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.readLocked(ctx)
	out := list[:0]
	for _, sub := range list {
		if sub.ID != id {
			out = append(out, sub)
		}
	}
	if len(out) == len(list) {
		return nil
	}
	if err := s.writeLocked(ctx, out); err != nil {
		return err
	}
	s.log.Info("subscription removed", logx.String("id", id))
	s.bus.Publish(eventbus.Event{Type: eventbus.Unsubscribed, Data: id})
	return nil
}

// LastUpdated returns the time of the last successful mutation.
func (s *Store) LastUpdated(ctx context.Context) (time.Time, bool) {
	b, ok, err := s.kv.Get(ctx, storage.KeyLastUpdated)
	if err != nil || !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, strings.Trim(string(b), `"`))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (s *Store) readLocked(ctx context.Context) []conference.Subscription {
	var list []conference.Subscription
	ok, err := storage.GetJSON(ctx, s.kv, storage.KeySubscriptions, &list)
	if err != nil {
		s.log.Warn("subscriptions unreadable; using empty list", logx.Err(err))
		return []conference.Subscription{}
	}
	if !ok || list == nil {
		return []conference.Subscription{}
	}
	return list
}

func (s *Store) writeLocked(ctx context.Context, list []conference.Subscription) error {
	if err := storage.SetJSON(ctx, s.kv, storage.KeySubscriptions, list); err != nil {
		s.log.Warn("subscriptions write failed", logx.Err(err))
		return err
	}
	stamp := s.clock.Now().UTC().Format(time.RFC3339Nano)
	if err := storage.SetJSON(ctx, s.kv, storage.KeyLastUpdated, stamp); err != nil {
		s.log.Warn("lastUpdated write failed", logx.Err(err))
	}
	return nil
}
