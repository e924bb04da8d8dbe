package hosted

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// Deliver feeds an inbound native event into the hub after applying player state:
// received notifications are dropped while the user is unsubscribed and otherwise
// stamped with the in-focus display option; an ids event records the new token.
// Events arriving before Init, or while consent is outstanding, are dropped.
func (b *Bridge) Deliver(ctx context.Context, env push.Envelope) error {
	if env.Payload == nil {
		return fmt.Errorf("envelope for %s has no payload", env.Event)
	}

	payload, deliver, err := b.apply(ctx, env.Payload)
	if err != nil {
		return err
	}
	if !deliver {
		return nil
	}
	return b.hub.Dispatch(ctx, env.Event, payload)
}

func (b *Bridge) apply(ctx context.Context, payload push.Payload) (push.Payload, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gated() {
		b.logger.Debug("Dropping event while consent is outstanding", "event", payload.Event())
		return nil, false, nil
	}
	if !b.initialized {
		b.logger.Warn("Dropping event received before Init", "event", payload.Event())
		return nil, false, nil
	}

	switch p := payload.(type) {
	case push.ReceivedNotification:
		d, err := b.loadLocked(ctx)
		if err != nil {
			return nil, false, err
		}
		if !d.SubscriptionEnabled {
			b.logger.Debug("Dropping notification for unsubscribed user", "notification_id", p.Payload.NotificationID)
			return nil, false, nil
		}
		p.DisplayType = d.Settings.InFocusDisplayOption
		p.Shown = p.DisplayType != push.DisplayNone && !p.SilentNotification

		id := p.Payload.NotificationID
		if p.Shown && id != "" && !slices.Contains(d.ActiveNotifications, id) {
			d.ActiveNotifications = append(d.ActiveNotifications, id)
			if err := b.saveLocked(ctx, d); err != nil {
				return nil, false, err
			}
		}
		return p, true, nil

	case push.IDs:
		d, err := b.loadLocked(ctx)
		if err != nil {
			return nil, false, err
		}
		if p.UserID == "" {
			p.UserID = d.PlayerID
		}
		if p.PushToken != "" && p.PushToken != d.PushToken {
			d.PushToken = p.PushToken
			if err := b.saveLocked(ctx, d); err != nil {
				return nil, false, err
			}
			b.logger.Info("Push token updated", "player_id", d.PlayerID)
		}
		return p, true, nil
	}

	return payload, true, nil
}

func (b *Bridge) loadLocked(ctx context.Context) (*dispatch.Device, error) {
	d, err := b.store.Get(ctx, b.playerID)
	if errors.Is(err, dispatch.ErrDeviceNotFound) {
		return nil, fmt.Errorf("registered player %s is missing from the store: %w", b.playerID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load player %s: %w", b.playerID, err)
	}
	return d, nil
}

func (b *Bridge) saveLocked(ctx context.Context, d *dispatch.Device) error {
	d.UpdatedAt = b.now()
	if err := b.store.Save(ctx, d); err != nil {
		return fmt.Errorf("failed to save player %s: %w", d.PlayerID, err)
	}
	return nil
}
