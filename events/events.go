// Package events provides a typed publish/subscribe event system for server
// lifecycle and operation events.
//
// External consumers subscribe to topics with strongly typed handlers;
// published events are delivered asynchronously to every subscriber whose
// event type matches. A bounded replay buffer lets late subscribers observe
// recent events on a topic.
package events

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"sync"
)

// ErrCompleted is returned by Publish after the subject has been completed.
var ErrCompleted = errors.New("events: subject completed")

// Subject is the hub connecting publishers to subscribers.
type Subject struct {
	mu         sync.RWMutex
	logger     *slog.Logger
	bufferSize int
	replay     int
	subs       map[string][]*subscriber
	history    map[string][]interface{}
	completed  bool
}

// SubjectOption configures a Subject.
type SubjectOption func(*Subject)

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *slog.Logger) SubjectOption {
	return func(s *Subject) {
		s.logger = logger
	}
}

// WithBufferSize sets the per-subscriber delivery buffer size.
func WithBufferSize(size int) SubjectOption {
	return func(s *Subject) {
		if size > 0 {
			s.bufferSize = size
		}
	}
}

// WithReplay sets how many recent events per topic are replayed to new
// subscribers. Zero disables replay.
func WithReplay(n int) SubjectOption {
	return func(s *Subject) {
		if n >= 0 {
			s.replay = n
		}
	}
}

// NewSubject creates a new event subject.
func NewSubject(options ...SubjectOption) *Subject {
	s := &Subject{
		bufferSize: 64,
		replay:     0,
		subs:       make(map[string][]*subscriber),
		history:    make(map[string][]interface{}),
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return s
}

type subscriber struct {
	topic     string
	eventType reflect.Type
	ch        chan interface{}
	closeOnce sync.Once
}

func (sub *subscriber) close() {
	sub.closeOnce.Do(func() {
		close(sub.ch)
	})
}

// Subscription represents an active subscription and allows cancelling it.
type Subscription struct {
	subject *Subject
	sub     *subscriber
}

// Unsubscribe removes the subscription from its subject. Events already
// queued may still be delivered.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.subject == nil {
		return
	}
	s.subject.remove(s.sub)
}

// Subscribe registers a typed handler for a topic. Events published to the
// topic whose dynamic type is T are delivered to the handler on a dedicated
// goroutine, in publish order. Handler errors are logged, not propagated.
func Subscribe[T any](s *Subject, topic string, handler func(ctx context.Context, evt T) error) *Subscription {
	eventType := reflect.TypeOf((*T)(nil)).Elem()
	sub := &subscriber{
		topic:     topic,
		eventType: eventType,
		ch:        make(chan interface{}, s.bufferSize),
	}

	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		sub.close()
		return &Subscription{subject: s, sub: sub}
	}
	s.subs[topic] = append(s.subs[topic], sub)

	// Queue replayed history before any new publishes can be observed.
	for _, evt := range s.history[topic] {
		if reflect.TypeOf(evt) == eventType {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
	s.mu.Unlock()

	go func() {
		for evt := range sub.ch {
			typed, ok := evt.(T)
			if !ok {
				continue
			}
			if err := handler(context.Background(), typed); err != nil {
				s.logger.Error("event handler failed", "topic", topic, "error", err)
			}
		}
	}()

	return &Subscription{subject: s, sub: sub}
}

// Publish delivers an event to all subscribers of the topic whose event type
// matches. Delivery is asynchronous; a subscriber whose buffer is full has
// the event dropped rather than blocking the publisher.
func Publish[T any](s *Subject, topic string, evt T) error {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return ErrCompleted
	}

	if s.replay > 0 {
		h := append(s.history[topic], evt)
		if len(h) > s.replay {
			h = h[len(h)-s.replay:]
		}
		s.history[topic] = h
	}

	// Sends stay under the lock so a concurrent Unsubscribe or Complete
	// cannot close a channel mid-send; they are non-blocking, so the lock
	// is held only briefly.
	eventType := reflect.TypeOf(evt)
	for _, sub := range s.subs[topic] {
		if sub.eventType != eventType {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			s.logger.Warn("event dropped, subscriber buffer full", "topic", topic)
		}
	}
	s.mu.Unlock()
	return nil
}

// Complete shuts down the subject. Pending events drain to their handlers;
// subsequent publishes fail with ErrCompleted.
func Complete(s *Subject) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	s.completed = true
	for _, topicSubs := range s.subs {
		for _, sub := range topicSubs {
			sub.close()
		}
	}
	s.subs = make(map[string][]*subscriber)
	s.history = make(map[string][]interface{})
	s.mu.Unlock()
}

// remove drops a subscriber from the subject and closes its channel.
func (s *Subject) remove(target *subscriber) {
	s.mu.Lock()
	topicSubs := s.subs[target.topic]
	for i, sub := range topicSubs {
		if sub == target {
			s.subs[target.topic] = append(topicSubs[:i], topicSubs[i+1:]...)
			break
		}
	}
	target.close()
	s.mu.Unlock()
}
