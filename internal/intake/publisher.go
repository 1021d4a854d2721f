// Package intake carries purchase intents over PubNub: producers publish
// them, the consumer turns each into a PurchaseTicket call and tells the
// buyer how it went.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pubnub "github.com/pubnub/go/v7"

	"ticket-inventory/internal/status"
	"ticket-inventory/models"
	"ticket-inventory/monitoring"
	"ticket-inventory/utils"
)

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, channel string, message any) error
}

// PubNubSender publishes through a PubNub client.
type PubNubSender struct {
	PN *pubnub.PubNub
}

func (s PubNubSender) Send(_ context.Context, channel string, message any) error {
	_, _, err := s.PN.Publish().
		Channel(channel).
		Message(message).
		Execute()
	return err
}

type Publisher struct {
	sender        Sender
	breaker       *utils.CircuitBreaker
	intentChannel string
	Now           func() time.Time
}

func NewPublisher(sender Sender, intentChannel string) *Publisher {
	settings := utils.DefaultBreakerSettings()
	settings.OnStateChange = func(name string, from, to utils.State) {
		slog.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		monitoring.TrackBreakerState(name, int(to))
	}
	return &Publisher{
		sender:        sender,
		breaker:       utils.NewCircuitBreaker("pubnub", settings),
		intentChannel: intentChannel,
		Now:           time.Now,
	}
}

func userChannel(userID string) string {
	return "user-" + userID
}

// PublishIntent queues a purchase for asynchronous processing. The intent
// is stamped with the publish time unless it already carries one.
func (p *Publisher) PublishIntent(ctx context.Context, intent models.PurchaseIntent) (models.PurchaseIntent, error) {
	if err := intent.Validate(); err != nil {
		return intent, status.Invalid(err)
	}
	if intent.PublishedAt == nil {
		now := p.Now()
		intent.PublishedAt = &now
	}
	if err := p.send(ctx, p.intentChannel, intent); err != nil {
		return intent, fmt.Errorf("publish intent: %w", err)
	}
	return intent, nil
}

// Notify tells a user the outcome of their intent on the user's channel.
func (p *Publisher) Notify(ctx context.Context, userID string, n models.PurchaseNotification) error {
	if err := p.send(ctx, userChannel(userID), n); err != nil {
		return fmt.Errorf("notify %s: %w", userID, err)
	}
	return nil
}

func (p *Publisher) send(ctx context.Context, channel string, message any) error {
	_, err := p.breaker.Execute(ctx, func() (any, error) {
		return nil, p.sender.Send(ctx, channel, message)
	})
	return err
}
