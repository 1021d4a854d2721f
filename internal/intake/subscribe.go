package intake

import (
	"context"
	"log/slog"

	pubnub "github.com/pubnub/go/v7"
)

// Subscribe listens on channel and forwards each message payload to the
// returned channel, which is closed once ctx is done.
func Subscribe(ctx context.Context, pn *pubnub.PubNub, channel string) <-chan any {
	listener := pubnub.NewListener()
	pn.AddListener(listener)
	pn.Subscribe().
		Channels([]string{channel}).
		Execute()

	out := make(chan any, 64)
	go func() {
		defer close(out)
		defer func() {
			pn.Unsubscribe().Channels([]string{channel}).Execute()
			pn.RemoveListener(listener)
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case st := <-listener.Status:
				switch st.Category {
				case pubnub.PNConnectedCategory:
					slog.Info("Connected to PubNub", "channel", channel)
				case pubnub.PNReconnectedCategory:
					slog.Info("Reconnected to PubNub", "channel", channel)
				case pubnub.PNDisconnectedCategory:
					slog.Warn("Disconnected from PubNub", "channel", channel)
				case pubnub.PNAccessDeniedCategory:
					slog.Error("PubNub access denied", "channel", channel)
				case pubnub.PNReconnectionAttemptsExhausted:
					slog.Error("PubNub reconnection attempts exhausted", "channel", channel)
				}

			case msg := <-listener.Message:
				if msg.Channel != channel {
					continue
				}
				select {
				case out <- msg.Message:
				case <-ctx.Done():
					return
				}

			case <-listener.Presence:
			}
		}
	}()

	return out
}
