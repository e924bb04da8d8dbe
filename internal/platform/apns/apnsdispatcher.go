// Package apns delivers notifications through the Apple Push Notification service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
)

// APNSClient is the subset of *apns2.Client the dispatcher needs.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string
	logger *slog.Logger
}

// Config holds the token-auth credentials for APNs.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the PEM content of the .p8 signing key.
	P8KeyContent string
	Sandbox      bool
}

// NewDispatcher parses the signing key up front so bad credentials fail at startup.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return newDispatcher(client, cfg.BundleID, logger), nil
}

func newDispatcher(client APNSClient, topic string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSDispatcher"),
	}
}

// Dispatch pushes msg to each token in turn; APNs has no multicast endpoint.
// Transport failures are counted and logged, never returned, so one unreachable
// token does not cause the whole fan-out to be retried.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, msg dispatch.Message) (string, []string, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	body := buildPayload(msg)

	var invalid []string
	sent, failed := 0, 0
	for _, deviceToken := range tokens {
		if err := ctx.Err(); err != nil {
			return "", invalid, err
		}

		n := &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       d.topic,
			Payload:     body,
			Priority:    apns2.PriorityHigh,
		}
		if msg.NotificationID != "" {
			n.CollapseID = msg.NotificationID
		}

		res, err := d.client.PushWithContext(ctx, n)
		if err != nil {
			d.logger.Error("APNs transport failed", "token", deviceToken, "err", err)
			failed++
			continue
		}
		if res.Sent() {
			sent++
			continue
		}

		failed++
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			invalid = append(invalid, deviceToken)
		default:
			d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}

	return fmt.Sprintf("success:%d invalid:%d total_fail:%d", sent, len(invalid), failed), invalid, nil
}

func buildPayload(msg dispatch.Message) *payload.Payload {
	p := payload.NewPayload().
		AlertTitle(msg.Title).
		AlertBody(msg.Body).
		MutableContent()

	if msg.Sound != "" {
		p.Sound(msg.Sound)
	} else {
		p.Sound("default")
	}
	if msg.Badge != nil {
		p.Badge(*msg.Badge)
	}
	if msg.NotificationID != "" {
		p.Custom("notification_id", msg.NotificationID)
	}
	if msg.LaunchURL != "" {
		p.Custom("launch_url", msg.LaunchURL)
	}
	for k, v := range msg.Data {
		p.Custom(k, v)
	}
	return p
}
