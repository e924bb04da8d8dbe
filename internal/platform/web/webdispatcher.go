// Package web delivers notifications to browsers over VAPID web push.
package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-push-bridge/pushbridge/config"
)

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg config.VapidConfig, logger *slog.Logger) *Dispatcher {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 60
	}
	return &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		ttl:        ttl,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
}

type webPayload struct {
	Notification webNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type webNotification struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Badge *int           `json:"badge,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Dispatch encrypts and posts msg to each subscription. Subscriptions the push
// service reports as gone (404/410) are returned for cleanup; other failures are
// logged and counted in the receipt.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	subs []notification.WebPushSubscription,
	msg dispatch.Message,
) (string, []notification.WebPushSubscription, error) {
	if len(subs) == 0 {
		return "skipped: no subscriptions", nil, nil
	}

	body, err := json.Marshal(buildPayload(msg))
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	var invalid []notification.WebPushSubscription
	sent, failed := 0, 0
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return "", invalid, err
		}

		status, err := d.send(body, sub)
		if err != nil {
			d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			failed++
			continue
		}

		switch status {
		case http.StatusCreated, http.StatusOK, http.StatusAccepted:
			sent++
		case http.StatusGone, http.StatusNotFound:
			invalid = append(invalid, sub)
			failed++
		default:
			d.logger.Warn("WebPush rejected", "status", status, "endpoint", sub.Endpoint)
			failed++
		}
	}

	return fmt.Sprintf("success:%d invalid:%d total_fail:%d", sent, len(invalid), failed), invalid, nil
}

func (d *Dispatcher) send(body []byte, sub notification.WebPushSubscription) (int, error) {
	resp, err := webpush.SendNotification(body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(sub.Keys.P256dh),
			Auth:   base64.RawURLEncoding.EncodeToString(sub.Keys.Auth),
		},
	}, &webpush.Options{
		Subscriber:      d.subscriber,
		VAPIDPublicKey:  d.publicKey,
		VAPIDPrivateKey: d.privateKey,
		TTL:             d.ttl,
		HTTPClient:      d.httpClient,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func buildPayload(msg dispatch.Message) webPayload {
	p := webPayload{
		Notification: webNotification{
			Title: msg.Title,
			Body:  msg.Body,
			Badge: msg.Badge,
		},
		Data: msg.Data,
	}
	if msg.NotificationID != "" || msg.LaunchURL != "" {
		p.Notification.Data = map[string]any{}
		if msg.NotificationID != "" {
			p.Notification.Data["notification_id"] = msg.NotificationID
		}
		if msg.LaunchURL != "" {
			p.Notification.Data["url"] = msg.LaunchURL
		}
	}
	return p
}
