// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package bus fans authority events out to every connection subscribed to
// an owner's topic.
package bus

import (
	"context"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
)

// Bus is a per-topic publish/subscribe fabric. Publish never blocks on slow
// subscribers: a full subscriber buffer drops the event.
type Bus interface {
	Publish(ctx context.Context, topic string, ev model.Event) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}

// Subscriber receives events for one topic until Close. C is closed after
// Close returns.
type Subscriber interface {
	C() <-chan model.Event
	Close() error
}

// OwnerTopic is the topic carrying all events for one owner.
func OwnerTopic(ownerID string) string {
	return "owner:" + ownerID
}

const defaultBuffer = 64
