package events

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher writes records keyed by negotiation id, so every record for one
// negotiation lands on the same partition in the order it was written.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			// Publishes happen on the send path; do not wait for a batch to fill.
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish announces a negotiation transition.
func (p *Publisher) Publish(ctx context.Context, ev NegotiationEvent) error {
	return p.write(ctx, string(ev.NegotiationID), ev, ev.OccurredAt)
}

// PublishMessage relays a committed chat message to the other gateways.
func (p *Publisher) PublishMessage(ctx context.Context, ev MessageEvent) error {
	return p.write(ctx, string(ev.Message.NegotiationID), ev, ev.Message.CreatedAt)
}

func (p *Publisher) write(ctx context.Context, key string, v any, at time.Time) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  at,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Handler receives decoded records. A nil field skips that kind.
type Handler struct {
	Negotiation func(NegotiationEvent)
	Message     func(MessageEvent)
}

// Topics names where each kind of record lives. An empty MessageTopic
// subscribes to negotiation events only.
type Topics struct {
	Negotiation string
	Message     string
}

func (t Topics) list() []string {
	if t.Message == "" {
		return []string{t.Negotiation}
	}
	return []string{t.Negotiation, t.Message}
}

// Subscriber reads negotiation events and relayed messages through one
// consumer group.
type Subscriber struct {
	reader *kafka.Reader
	topics Topics
}

// NewSubscriber starts at the newest offset. Each gateway passes its own
// group so that all gateways see all records.
func NewSubscriber(brokers []string, topics Topics, groupID string) *Subscriber {
	return newSubscriber(brokers, topics, groupID, kafka.LastOffset)
}

// NewDurableSubscriber joins a shared group that starts from the oldest
// retained record the first time it runs and resumes from its committed
// offset afterwards.
func NewDurableSubscriber(brokers []string, topics Topics, groupID string) *Subscriber {
	return newSubscriber(brokers, topics, groupID, kafka.FirstOffset)
}

func newSubscriber(brokers []string, topics Topics, groupID string, startOffset int64) *Subscriber {
	return &Subscriber{
		topics: topics,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			GroupTopics: topics.list(),
			GroupID:     groupID,
			StartOffset: startOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     500 * time.Millisecond,
		}),
	}
}

// Run delivers decoded records to h until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context, h Handler) error {
	for {
		m, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			log.Printf("[events] read failed: %v. Retrying in 1s...", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		s.dispatch(m, h)
	}
}

func (s *Subscriber) dispatch(m kafka.Message, h Handler) {
	switch m.Topic {
	case s.topics.Negotiation:
		ev, err := Decode(m.Value)
		if err != nil {
			log.Printf("[events] skipping record at %s/%d: %v", m.Topic, m.Offset, err)
			return
		}
		if h.Negotiation != nil {
			h.Negotiation(ev)
		}
	case s.topics.Message:
		ev, err := DecodeMessage(m.Value)
		if err != nil {
			log.Printf("[events] skipping record at %s/%d: %v", m.Topic, m.Offset, err)
			return
		}
		if h.Message != nil {
			h.Message(ev)
		}
	default:
		log.Printf("[events] skipping record from unexpected topic %q", m.Topic)
	}
}

func (s *Subscriber) Close() error {
	return s.reader.Close()
}
