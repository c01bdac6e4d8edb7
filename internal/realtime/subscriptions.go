package realtime

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/practice-insights/internal/model"
	"github.com/yourorg/practice-insights/internal/telemetry"
)

// MetricCallback receives metric updates for a subscribed id.
type MetricCallback func(model.MetricEvent)

// Subscription is a handle on one registered callback. The zero value is inert.
type Subscription struct {
	set *subscriberSet
	key string
	id  uint64
}

// Unsubscribe removes this callback only. Safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.set == nil {
		return
	}
	s.set.remove(s.key, s.id)
}

type subscriber struct {
	id uint64
	fn MetricCallback
}

// subscriberSet fans updates out to every callback registered under a key.
type subscriberSet struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[string][]subscriber
	metrics *telemetry.Metrics
}

func newSubscriberSet(metrics *telemetry.Metrics) *subscriberSet {
	return &subscriberSet{
		subs:    make(map[string][]subscriber),
		metrics: metrics,
	}
}

func (s *subscriberSet) add(key string, fn MetricCallback) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.subs[key] = append(s.subs[key], subscriber{id: s.nextID, fn: fn})
	return Subscription{set: s, key: key, id: s.nextID}
}

func (s *subscriberSet) remove(key string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.subs[key]
	for i, sub := range list {
		if sub.id == id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.subs, key)
		return
	}
	s.subs[key] = list
}

func (s *subscriberSet) removeAll(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, key)
}

func (s *subscriberSet) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = make(map[string][]subscriber)
}

func (s *subscriberSet) count(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[key])
}

// notify invokes the callbacks of every key in registration order. Callbacks
// run on the caller's goroutine without any lock held.
func (s *subscriberSet) notify(event model.MetricEvent, keys ...string) {
	s.mu.RLock()
	var targets []subscriber
	for _, key := range keys {
		targets = append(targets, s.subs[key]...)
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		s.invoke(sub, event)
	}
}

func (s *subscriberSet) invoke(sub subscriber, event model.MetricEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.CallbackPanic("metric")
			logrus.WithFields(logrus.Fields{
				"metric": event.Name,
				"panic":  r,
			}).Error("Metric subscriber panicked")
		}
	}()
	sub.fn(event)
}
