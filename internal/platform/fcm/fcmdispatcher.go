// Package fcm delivers notifications to Android and FCM-routed devices.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
)

// maxMulticastTokens is the FCM limit for a single multicast request.
const maxMulticastTokens = 500

// MessagingClient is the subset of *messaging.Client the dispatcher needs.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// Dispatch sends msg to tokens in batches of at most 500. Tokens FCM reports as
// unregistered or malformed are returned for cleanup; any other per-token failure
// fails the whole call so the caller can retry.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, msg dispatch.Message) (string, []string, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	var invalid []string
	sent, retryable := 0, 0
	for start := 0; start < len(tokens); start += maxMulticastTokens {
		end := min(start+maxMulticastTokens, len(tokens))
		batch := tokens[start:end]

		br, err := d.client.SendEachForMulticast(ctx, buildMulticast(batch, msg))
		if err != nil {
			if messaging.IsInvalidArgument(err) {
				d.logger.Error("FCM rejected batch as invalid, dropping", "notification_id", msg.NotificationID, "err", err)
				continue
			}
			return "", nil, fmt.Errorf("fcm transport failed: %w", err)
		}

		sent += br.SuccessCount
		if br.FailureCount == 0 {
			continue
		}
		for i, resp := range br.Responses {
			if resp.Success || i >= len(batch) {
				continue
			}
			if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
				invalid = append(invalid, batch[i])
				continue
			}
			d.logger.Warn("FCM send failed", "notification_id", msg.NotificationID, "err", resp.Error)
			retryable++
		}
	}

	if retryable > 0 {
		return "", invalid, fmt.Errorf("fcm batch had %d retryable errors", retryable)
	}
	return fmt.Sprintf("success:%d invalid:%d", sent, len(invalid)), invalid, nil
}

func buildMulticast(tokens []string, msg dispatch.Message) *messaging.MulticastMessage {
	data := make(map[string]string, len(msg.Data)+2)
	for k, v := range msg.Data {
		data[k] = v
	}
	if msg.NotificationID != "" {
		data["notification_id"] = msg.NotificationID
	}
	if msg.LaunchURL != "" {
		data["launch_url"] = msg.LaunchURL
	}

	sound := msg.Sound
	if sound == "" {
		sound = "default"
	}

	m := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:             sound,
				NotificationCount: msg.Badge,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: sound,
					Badge: msg.Badge,
				},
			},
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: msg.Title,
				Body:  msg.Body,
			},
		},
	}
	if msg.LaunchURL != "" {
		m.Webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: msg.LaunchURL}
	}
	return m
}
