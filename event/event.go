// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package event

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	EventQueueSize = 64
)

type EventType string

type EventSubscriberId int

type EventHandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	Data      any
	Type      EventType
}

func NewEvent(eventType EventType, eventData any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      eventData,
	}
}

// Subscriber is a delivery abstraction that lets the EventBus hand events to
// in-memory channels and to other adapters through the same interface.
// Implementations must make Close idempotent.
type Subscriber interface {
	Deliver(Event) error
	Close()
}

type EventBus struct {
	subscribers  map[EventType]map[EventSubscriberId]Subscriber
	metrics      *eventMetrics
	logger       *slog.Logger
	lastSubId    EventSubscriberId
	subscriberWg sync.WaitGroup
	mu           sync.RWMutex
	stopMu       sync.RWMutex
	stopped      bool
}

func NewEventBus(
	promRegistry prometheus.Registerer,
	logger *slog.Logger,
) *EventBus {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	e := &EventBus{
		subscribers: make(map[EventType]map[EventSubscriberId]Subscriber),
		logger:      logger,
		metrics:     newEventMetrics(promRegistry),
	}
	return e
}

// channelSubscriber is the in-memory subscriber adapter. Deliver never
// blocks: when the buffer is full the event is dropped and counted.
type channelSubscriber struct {
	ch        chan Event
	metrics   *eventMetrics
	eventType EventType
	mu        sync.RWMutex
	closed    bool
}

func newChannelSubscriber(
	eventType EventType,
	buffer int,
	metrics *eventMetrics,
) *channelSubscriber {
	return &channelSubscriber{
		ch:        make(chan Event, buffer),
		eventType: eventType,
		metrics:   metrics,
	}
}

func (c *channelSubscriber) Deliver(evt Event) error {
	// Hold the read lock so Close waits for in-flight sends
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}
	select {
	case c.ch <- evt:
	default:
		if c.metrics != nil {
			c.metrics.deliveryErrors.WithLabelValues(string(c.eventType), "dropped").
				Inc()
		}
	}
	return nil
}

func (c *channelSubscriber) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// queueSubscriber feeds a SubscribeFunc handler. Deliver appends to an
// unbounded queue and never blocks, so a slow handler delays events but never
// loses them. Events queued before Close are still handed to the handler.
type queueSubscriber struct {
	queue  []Event
	wake   chan struct{}
	mu     sync.Mutex
	closed bool
}

func newQueueSubscriber() *queueSubscriber {
	return &queueSubscriber{
		wake: make(chan struct{}, 1),
	}
}

func (q *queueSubscriber) Deliver(evt Event) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.queue = append(q.queue, evt)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *queueSubscriber) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *queueSubscriber) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next blocks until an event is queued. It returns false once the
// subscriber is closed and the queue is empty.
func (q *queueSubscriber) next() (Event, bool) {
	for {
		q.mu.Lock()
		if len(q.queue) > 0 {
			evt := q.queue[0]
			q.queue[0] = Event{}
			q.queue = q.queue[1:]
			q.mu.Unlock()
			return evt, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Event{}, false
		}
		<-q.wake
	}
}

// Subscribe allows a consumer to receive events of a particular type via a
// channel. The channel is closed on Unsubscribe or Stop.
func (e *EventBus) Subscribe(
	eventType EventType,
) (EventSubscriberId, <-chan Event) {
	e.stopMu.RLock()
	defer e.stopMu.RUnlock()
	return e.subscribe(eventType)
}

// subscribe must be called with stopMu held for reading
func (e *EventBus) subscribe(
	eventType EventType,
) (EventSubscriberId, <-chan Event) {
	chSub := newChannelSubscriber(eventType, EventQueueSize, e.metrics)
	if e.stopped {
		chSub.Close()
		return 0, chSub.ch
	}
	return e.register(eventType, chSub), chSub.ch
}

// SubscribeFunc allows a consumer to receive events of a particular type via
// a callback function. Handlers for one subscription run sequentially on
// their own goroutine, and events are queued without limit while a handler
// is busy. It returns 0 if the bus has been stopped.
func (e *EventBus) SubscribeFunc(
	eventType EventType,
	handlerFunc EventHandlerFunc,
) EventSubscriberId {
	// Hold stopMu through Add so Stop cannot begin waiting first
	e.stopMu.RLock()
	defer e.stopMu.RUnlock()
	if e.stopped {
		return 0
	}
	sub := newQueueSubscriber()
	subId := e.register(eventType, sub)
	e.subscriberWg.Add(1)
	go func() {
		defer e.subscriberWg.Done()
		for {
			evt, ok := sub.next()
			if !ok {
				return
			}
			e.runHandler(eventType, handlerFunc, evt)
		}
	}()
	return subId
}

func (e *EventBus) runHandler(
	eventType EventType,
	handlerFunc EventHandlerFunc,
	evt Event,
) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(
				fmt.Sprintf("event handler panic: %v", r),
				"component", "event",
				"type", eventType,
			)
		}
	}()
	handlerFunc(evt)
}

func (e *EventBus) register(
	eventType EventType,
	sub Subscriber,
) EventSubscriberId {
	e.mu.Lock()
	defer e.mu.Unlock()
	subId := e.lastSubId + 1
	e.lastSubId = subId
	if _, ok := e.subscribers[eventType]; !ok {
		e.subscribers[eventType] = make(map[EventSubscriberId]Subscriber)
	}
	e.subscribers[eventType][subId] = sub
	e.metrics.subscribers.WithLabelValues(string(eventType), subscriberKind(sub)).
		Inc()
	return subId
}

// Unsubscribe stops delivery of events for a particular type for an existing subscriber
func (e *EventBus) Unsubscribe(eventType EventType, subId EventSubscriberId) {
	e.mu.Lock()
	var subToClose Subscriber
	if evtTypeSubs, ok := e.subscribers[eventType]; ok {
		if sub, ok2 := evtTypeSubs[subId]; ok2 {
			subToClose = sub
			delete(evtTypeSubs, subId)
			if len(evtTypeSubs) == 0 {
				delete(e.subscribers, eventType)
			}
			e.metrics.subscribers.WithLabelValues(string(eventType), subscriberKind(sub)).
				Dec()
		}
	}
	e.mu.Unlock()

	if subToClose != nil {
		subToClose.Close()
	}
}

// Publish allows a producer to send an event of a particular type to all subscribers
func (e *EventBus) Publish(eventType EventType, evt Event) {
	// Build list of subscribers inside read lock to avoid map race condition
	type subItem struct {
		sub Subscriber
		id  EventSubscriberId
	}
	e.mu.RLock()
	subs := e.subscribers[eventType]
	subList := make([]subItem, 0, len(subs))
	for id, sub := range subs {
		subList = append(subList, subItem{id: id, sub: sub})
	}
	e.mu.RUnlock()
	for _, item := range subList {
		var deliverErr error
		func() {
			// Protect against panics inside subscriber Deliver implementations
			defer func() {
				if r := recover(); r != nil {
					deliverErr = fmt.Errorf("subscriber deliver panic: %v", r)
				}
			}()
			deliverErr = item.sub.Deliver(evt)
		}()
		if deliverErr != nil {
			// Unregister the failing subscriber
			e.Unsubscribe(eventType, item.id)
			e.metrics.deliveryErrors.WithLabelValues(string(eventType), subscriberKind(item.sub)).
				Inc()
			e.logger.Debug(
				"event delivery error",
				"component", "event",
				"type", eventType,
				"error", deliverErr,
			)
		}
	}
	e.metrics.eventsTotal.WithLabelValues(string(eventType)).Inc()
}

// Stop closes all subscribers and waits for SubscribeFunc handlers to finish
// the events already queued for them. A stopped bus drops further publishes.
func (e *EventBus) Stop() {
	e.stopMu.Lock()
	if e.stopped {
		e.stopMu.Unlock()
		return
	}
	e.stopped = true
	e.stopMu.Unlock()

	e.mu.Lock()
	subsCopy := e.subscribers
	e.subscribers = make(map[EventType]map[EventSubscriberId]Subscriber)
	e.mu.Unlock()
	// Close subscribers outside of lock
	for _, evtTypeSubs := range subsCopy {
		for _, sub := range evtTypeSubs {
			sub.Close()
		}
	}
	e.metrics.subscribers.Reset()
	e.subscriberWg.Wait()
}

func subscriberKind(sub Subscriber) string {
	switch sub.(type) {
	case *channelSubscriber:
		return "in-memory"
	case *queueSubscriber:
		return "func"
	default:
		return "custom"
	}
}
