package main

import (
	"context"
	"log"
	"time"

	"github.com/waste2worth/negotiation-realtime/pkg/events"
)

const recordTimeout = 10 * time.Second

// EventRecorder appends negotiation events to durable storage.
type EventRecorder interface {
	RecordEvent(ctx context.Context, ev events.NegotiationEvent) (bool, error)
}

// EventSource streams records until ctx ends.
type EventSource interface {
	Run(ctx context.Context, h events.Handler) error
	Close() error
}

// Consumer writes every negotiation event into the audit log.
type Consumer struct {
	source   EventSource
	recorder EventRecorder
	ctx      context.Context
}

func NewConsumer(source EventSource, recorder EventRecorder) *Consumer {
	return &Consumer{source: source, recorder: recorder, ctx: context.Background()}
}

func (c *Consumer) Consume(ctx context.Context) error {
	c.ctx = ctx
	return c.source.Run(ctx, events.Handler{Negotiation: c.handle})
}

func (c *Consumer) handle(ev events.NegotiationEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), recordTimeout)
	defer cancel()

	recorded, err := c.recorder.RecordEvent(ctx, ev)
	if err != nil {
		log.Printf("[audit] failed to record %s %s for negotiation %s: %v", ev.Type, ev.ID, ev.NegotiationID, err)
		return
	}
	if !recorded {
		log.Printf("[audit] skipping duplicate event %s", ev.ID)
		return
	}
	log.Printf("[audit] recorded %s for negotiation %s by %s", ev.Type, ev.NegotiationID, ev.ActorID)
}

func (c *Consumer) Close() error {
	return c.source.Close()
}
