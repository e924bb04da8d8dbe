package hosted

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// fanout groups reachable recipients by channel and remembers who owns each address.
type fanout struct {
	fcm, apns  []string
	web        []notification.WebPushSubscription
	tokenOwner map[string]string
	webOwner   map[string]string
}

// PostNotification sends n to each of its players through the dispatcher for that
// player's platform. Addresses a dispatcher reports as dead are cleared from the
// owning player so later sends skip them.
func (b *Bridge) PostNotification(ctx context.Context, n push.OutgoingNotification) error {
	b.mu.Lock()
	gated, initialized := b.gated(), b.initialized
	b.mu.Unlock()
	if gated {
		return nil
	}
	if !initialized {
		return ErrNotInitialized
	}

	devices, err := b.store.GetMany(ctx, n.PlayerIDs)
	if err != nil {
		return fmt.Errorf("failed to resolve recipients: %w", err)
	}

	f := fanout{tokenOwner: map[string]string{}, webOwner: map[string]string{}}
	for _, id := range n.PlayerIDs {
		d, ok := devices[id]
		if !ok {
			b.logger.Warn("Notification recipient not found", "player_id", id)
			continue
		}
		if !d.SubscriptionEnabled || !d.Permissions.Any() || !d.Reachable() {
			b.logger.Debug("Notification recipient not subscribed", "player_id", id)
			continue
		}
		switch d.Platform {
		case dispatch.PlatformFCM:
			f.fcm = append(f.fcm, d.PushToken)
			f.tokenOwner[d.PushToken] = id
		case dispatch.PlatformAPNS:
			f.apns = append(f.apns, d.PushToken)
			f.tokenOwner[d.PushToken] = id
		case dispatch.PlatformWeb:
			f.web = append(f.web, *d.WebSubscription)
			f.webOwner[d.WebSubscription.Endpoint] = id
		}
	}
	if len(f.fcm)+len(f.apns)+len(f.web) == 0 {
		return ErrNoRecipients
	}

	msg, err := buildMessage(n)
	if err != nil {
		return err
	}

	var errs []error
	var dead []string
	if len(f.fcm) > 0 {
		dead = append(dead, b.sendTokens(ctx, "fcm", b.dispatchers.FCM, f.fcm, msg, &errs)...)
	}
	if len(f.apns) > 0 {
		dead = append(dead, b.sendTokens(ctx, "apns", b.dispatchers.APNS, f.apns, msg, &errs)...)
	}
	if len(f.web) > 0 {
		if b.dispatchers.Web == nil {
			b.logger.Warn("No dispatcher for platform, skipping", "platform", "web", "count", len(f.web))
		} else {
			receipt, invalid, err := b.dispatchers.Web.Dispatch(ctx, f.web, msg)
			if err != nil {
				errs = append(errs, fmt.Errorf("web dispatch failed: %w", err))
			}
			b.logger.Info("Notification dispatched", "platform", "web", "receipt", receipt, "notification_id", msg.NotificationID)
			for _, sub := range invalid {
				b.clearAddress(ctx, f.webOwner[sub.Endpoint])
			}
		}
	}
	for _, token := range dead {
		b.clearAddress(ctx, f.tokenOwner[token])
	}

	return errors.Join(errs...)
}

func (b *Bridge) sendTokens(ctx context.Context, platform string, d dispatch.Dispatcher, tokens []string, msg dispatch.Message, errs *[]error) []string {
	if d == nil {
		b.logger.Warn("No dispatcher for platform, skipping", "platform", platform, "count", len(tokens))
		return nil
	}
	receipt, invalid, err := d.Dispatch(ctx, tokens, msg)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s dispatch failed: %w", platform, err))
	}
	b.logger.Info("Notification dispatched", "platform", platform, "receipt", receipt, "notification_id", msg.NotificationID)
	return invalid
}

// clearAddress drops the dead push address from a player. Failures are logged only:
// the notification itself has already gone out.
func (b *Bridge) clearAddress(ctx context.Context, playerID string) {
	if playerID == "" {
		return
	}
	d, err := b.store.Get(ctx, playerID)
	if err != nil {
		b.logger.Warn("Failed to load player for cleanup", "player_id", playerID, "err", err)
		return
	}
	d.PushToken = ""
	d.WebSubscription = nil
	d.UpdatedAt = b.now()
	if err := b.store.Save(ctx, d); err != nil {
		b.logger.Warn("Failed to clear dead push address", "player_id", playerID, "err", err)
		return
	}
	b.logger.Info("Cleared dead push address", "player_id", playerID)
}

// buildMessage maps the request onto a dispatch message. Recognised keys of Other
// (headings, url, sound, badge) become message fields; the rest, and Data, are
// forwarded as JSON strings.
func buildMessage(n push.OutgoingNotification) (dispatch.Message, error) {
	msg := dispatch.Message{
		NotificationID: uuid.NewString(),
		Data:           map[string]string{},
	}
	msg.Body = pickLanguage(n.Contents)

	if n.Data != nil {
		raw, err := protojson.Marshal(n.Data)
		if err != nil {
			return dispatch.Message{}, fmt.Errorf("failed to encode notification data: %w", err)
		}
		msg.Data["p2p_notification"] = string(raw)
	}

	if n.Other != nil {
		for k, v := range n.Other.GetFields() {
			switch k {
			case "headings":
				msg.Title = pickLanguage(stringMap(v.GetStructValue()))
			case "url":
				msg.LaunchURL = v.GetStringValue()
			case "sound":
				msg.Sound = v.GetStringValue()
			case "badge":
				if _, ok := v.GetKind().(*structpb.Value_NumberValue); ok {
					badge := int(v.GetNumberValue())
					msg.Badge = &badge
				}
			default:
				if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
					msg.Data[k] = s.StringValue
					continue
				}
				raw, err := protojson.Marshal(v)
				if err != nil {
					return dispatch.Message{}, fmt.Errorf("failed to encode %q: %w", k, err)
				}
				msg.Data[k] = string(raw)
			}
		}
	}
	return msg, nil
}

// pickLanguage prefers English, then the first language in sorted order.
func pickLanguage(texts map[string]string) string {
	if s, ok := texts["en"]; ok {
		return s
	}
	langs := make([]string, 0, len(texts))
	for l := range texts {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	if len(langs) == 0 {
		return ""
	}
	return texts[langs[0]]
}

func stringMap(s *structpb.Struct) map[string]string {
	out := map[string]string{}
	for k, v := range s.GetFields() {
		if str, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			out[k] = str.StringValue
		}
	}
	return out
}
