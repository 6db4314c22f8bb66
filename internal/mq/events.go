package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType names an exchange lifecycle transition.
type EventType string

const (
	EventSwapRequested EventType = "swap_requested"
	EventSwapAccepted  EventType = "swap_accepted"
	EventSwapDeclined  EventType = "swap_declined"
	EventSwapCancelled EventType = "swap_cancelled"
	EventItemRedeemed  EventType = "item_redeemed"
)

const eventTypeAttr = "event_type"

// ExchangeEvent is published after an exchange operation commits.
type ExchangeEvent struct {
	Type        EventType `json:"type"`
	RequestID   string    `json:"requestId"`
	ItemID      string    `json:"itemId"`
	ItemTitle   string    `json:"itemTitle,omitempty"`
	RequesterID string    `json:"requesterId"`
	UploaderID  string    `json:"uploaderId"`
	ActorID     string    `json:"actorId"`
	Points      int       `json:"points,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// EncodeEvent serializes an event together with its routing attributes.
func EncodeEvent(event ExchangeEvent) ([]byte, map[string]string, error) {
	if event.Type == "" {
		return nil, nil, errors.New("event type is required")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, nil, err
	}
	return data, map[string]string{eventTypeAttr: string(event.Type)}, nil
}

// DecodeEvent parses a message produced by EncodeEvent.
func DecodeEvent(msg Message) (ExchangeEvent, error) {
	var event ExchangeEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return ExchangeEvent{}, fmt.Errorf("decode exchange event: %w", err)
	}
	if event.Type == "" {
		event.Type = EventType(msg.Attributes[eventTypeAttr])
	}
	if event.Type == "" {
		return ExchangeEvent{}, errors.New("decode exchange event: missing type")
	}
	return event, nil
}

// EventPublisher publishes exchange events to a single channel.
type EventPublisher struct {
	mq      *MQ
	channel string
}

func NewEventPublisher(m *MQ, channel string) *EventPublisher {
	return &EventPublisher{mq: m, channel: strings.TrimSpace(channel)}
}

func (p *EventPublisher) PublishExchangeEvent(ctx context.Context, event ExchangeEvent) error {
	data, attrs, err := EncodeEvent(event)
	if err != nil {
		return err
	}
	_, err = p.mq.Publish(ctx, p.channel, data, attrs)
	return err
}

// SubscribeEvents decodes each message on the channel and hands it to fn.
// Messages that fail to decode are dropped.
func (p *EventPublisher) SubscribeEvents(ctx context.Context, fn func(context.Context, ExchangeEvent) error) error {
	return p.mq.Subscribe(ctx, p.channel, func(ctx context.Context, msg Message) error {
		event, err := DecodeEvent(msg)
		if err != nil {
			return nil
		}
		return fn(ctx, event)
	})
}
