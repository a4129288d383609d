package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pravoai/pravo-api/internal/logger"
)

// subjectPrefix is followed by the user id: chat.events.<userID>.
const subjectPrefix = "chat.events."

// NATSBroker publishes events on NATS and delivers everything it receives to the
// local hub, so a reply produced on one instance reaches websockets held by another.
type NATSBroker struct {
	nc           *nats.Conn
	hub          *Hub
	logger       *logger.Logger
	subscription *nats.Subscription
}

func NewNATSBroker(nc *nats.Conn, hub *Hub, log *logger.Logger) *NATSBroker {
	return &NATSBroker{
		nc:     nc,
		hub:    hub,
		logger: log.WithComponent("nats_broker"),
	}
}

// Start subscribes to every user's subject.
func (b *NATSBroker) Start() error {
	sub, err := b.nc.Subscribe(subjectPrefix+">", b.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s>: %w", subjectPrefix, err)
	}

	b.subscription = sub
	b.logger.Info("nats broker started", slog.String("subject", subjectPrefix+">"))
	return nil
}

// Stop drains the subscription.
func (b *NATSBroker) Stop() error {
	if b.subscription != nil {
		if err := b.subscription.Drain(); err != nil {
			return fmt.Errorf("failed to drain subscription: %w", err)
		}
	}
	b.logger.Info("nats broker stopped")
	return nil
}

func (b *NATSBroker) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.nc.Publish(Subject(event.UserID), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (b *NATSBroker) handleMessage(msg *nats.Msg) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		b.logger.Warn("dropping malformed event",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()))
		return
	}

	userID := strings.TrimPrefix(msg.Subject, subjectPrefix)
	b.hub.Broadcast(userID, event)
}

// Subject returns the NATS subject carrying userID's events.
func Subject(userID string) string {
	return subjectPrefix + userID
}
