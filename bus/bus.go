// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package bus is the durable event log with push fan-out. An event is
// persisted before any subscriber sees it; a slow subscriber loses
// events rather than stalling the publisher.
package bus

import (
	"context"
	"sync"

	"github.com/inconshreveable/log15"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/syncfleet/syncfleet/model"
	"github.com/syncfleet/syncfleet/syncdb"
)

var log = log15.New("pkg", "bus")

// DefaultBuffer is the per-subscription channel depth.
const DefaultBuffer = 256

// Subscription is one registered listener. Events arrive on C until
// Unsubscribe; the bus closes the channel on unsubscribe.
type Subscription struct {
	id    string
	kinds map[model.EventKind]bool // empty means all kinds
	// events originated by this node are not delivered here
	suppressNode string
	ch           chan *model.Event
	dropped      int
}

// C returns the delivery channel.
func (s *Subscription) C() <-chan *model.Event { return s.ch }

// ID returns the subscription id.
func (s *Subscription) ID() string { return s.id }

// Bus serializes publishes and fans events out to subscribers.
type Bus struct {
	db *syncdb.SyncDB

	mu        sync.Mutex
	subs      map[string]*Subscription
	onPublish func(*model.Event)
	closed    bool
}

// New create a bus over the durable log.
func New(db *syncdb.SyncDB) *Bus {
	return &Bus{
		db:   db,
		subs: make(map[string]*Subscription),
	}
}

// Subscribe registers a listener for the given kinds (nil means all).
// Subscribing again with the same id replaces the filter without
// losing the channel. suppressNode mutes events originated by that node.
func (b *Bus) Subscribe(id string, kinds []model.EventKind, suppressNode string) *Subscription {
	if id == "" {
		id = uuid.New()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.subs[id]; ok {
		existing.kinds = kindSet(kinds)
		existing.suppressNode = suppressNode
		return existing
	}
	sub := &Subscription{
		id:           id,
		kinds:        kindSet(kinds),
		suppressNode: suppressNode,
		ch:           make(chan *model.Event, DefaultBuffer),
	}
	if !b.closed {
		b.subs[id] = sub
	}
	return sub
}

// OnPublish installs a hook invoked after every durable append. The
// hook runs on the publisher's goroutine and must not block.
func (b *Bus) OnPublish(fn func(*model.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = fn
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish validates, durably appends, then fans the event out. The
// append happening first is what makes the log authoritative: a
// subscriber that missed the push can always re-read it.
func (b *Bus) Publish(ctx context.Context, ev *model.Event) error {
	if _, err := model.ParseEventKind(string(ev.Kind)); err != nil {
		return err
	}
	if ev.EventID == "" {
		ev.EventID = uuid.New()
	}

	if err := b.db.AppendEvent(ctx, ev); err != nil {
		return errors.WithMessage(err, "publish")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.onPublish != nil {
		b.onPublish(ev)
	}
	for _, sub := range b.subs {
		if len(sub.kinds) > 0 && !sub.kinds[ev.Kind] {
			continue
		}
		if sub.suppressNode != "" && sub.suppressNode == ev.NodeID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			log.Warn("subscriber buffer full, event dropped",
				"subscription", sub.id, "kind", ev.Kind)
		}
	}
	return nil
}

// Events reads back the newest events from the log.
func (b *Bus) Events(ctx context.Context, limit int) ([]*model.Event, error) {
	return b.db.Events(ctx, limit)
}

// CausalEvents reads back the newest events in causal order.
func (b *Bus) CausalEvents(ctx context.Context, limit int) ([]*model.Event, error) {
	events, err := b.db.Events(ctx, limit)
	if err != nil {
		return nil, err
	}
	model.SortCausal(events)
	return events, nil
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many events a subscription lost to a full buffer.
func (b *Bus) Dropped(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		return sub.dropped
	}
	return 0
}

// Close detaches and closes every subscription. Publishing afterwards
// still appends to the log but reaches nobody.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

func kindSet(kinds []model.EventKind) map[model.EventKind]bool {
	set := make(map[model.EventKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}
