// Package events fans sync and cache notifications out to SSE subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fruitsalade/drivecms/internal/metrics"
	"github.com/fruitsalade/drivecms/internal/routes"
)

const (
	EventSyncStarted      = "sync.started"
	EventSyncCompleted    = "sync.completed"
	EventSyncFailed       = "sync.failed"
	EventCacheInvalidated = "cache.invalidated"
)

// subscriberBuffer is how many events a subscriber may lag behind before
// further events are dropped for it.
const subscriberBuffer = 64

// Event is one sync or cache change. Route is empty for events that concern
// every route, such as a full invalidation or a TTL sweep.
type Event struct {
	Type       string `json:"type"`
	Route      string `json:"route,omitempty"`
	Mode       string `json:"mode,omitempty"`
	TotalItems int    `json:"total_items,omitempty"`
	Removed    int    `json:"removed,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// Publisher is the write side of a broadcaster.
type Publisher interface {
	Publish(event Event)
}

// Broadcaster delivers published events to subscribers without blocking.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[chan Event]string // channel -> route filter, "" for all
	now  func() time.Time
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]string), now: time.Now}
}

// Subscribe receives every event. Call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	return b.SubscribeRoute("")
}

// SubscribeRoute receives events for route, the routes below it and events
// that concern every route. An empty route receives everything.
func (b *Broadcaster) SubscribeRoute(route string) chan Event {
	if route != "" {
		route = routes.NormalizeKey(route)
	}
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = route
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
	return ch
}

// Unsubscribe removes ch and closes it. Repeated calls are no-ops.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
}

// Publish stamps event and offers it to each matching subscriber. A full
// subscriber misses the event.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = b.now().Unix()
	}
	b.mu.RLock()
	for ch, filter := range b.subs {
		if !matches(filter, event.Route) {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
	b.mu.RUnlock()
	metrics.RecordSSEEvent(event.Type)
}

// Count returns the number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func matches(filter, route string) bool {
	if filter == "" || route == "" {
		return true
	}
	route = routes.NormalizeKey(route)
	return route == filter || routes.IsDescendant(route, filter)
}

// MarshalEvent encodes an event for the SSE data line.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
