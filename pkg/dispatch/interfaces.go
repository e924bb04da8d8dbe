// Package dispatch holds the contracts between the hosted native layer and its
// infrastructure: platform dispatchers and the device store.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// ErrDeviceNotFound is returned by a DeviceStore when no record exists for a player.
var ErrDeviceNotFound = errors.New("device not found")

// Platform identifies which delivery channel a device is registered on.
type Platform string

const (
	PlatformFCM  Platform = "fcm"
	PlatformAPNS Platform = "apns"
	PlatformWeb  Platform = "web"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformFCM, PlatformAPNS, PlatformWeb:
		return true
	}
	return false
}

// Message is the platform-neutral notification handed to a dispatcher. Title, Body
// and Sound come from the embedded content.
type Message struct {
	notification.NotificationContent

	NotificationID string
	Badge          *int
	LaunchURL      string
	Data           map[string]string
}

// Dispatcher sends a message to a batch of platform tokens (FCM, APNs).
// It returns a receipt and the tokens the platform reported as permanently invalid.
type Dispatcher interface {
	Dispatch(ctx context.Context, tokens []string, msg Message) (string, []string, error)
}

// WebDispatcher sends a message to VAPID web push subscriptions.
type WebDispatcher interface {
	Dispatch(ctx context.Context, subs []notification.WebPushSubscription, msg Message) (string, []notification.WebPushSubscription, error)
}

// Device is the persisted state of one player (an app installation).
type Device struct {
	PlayerID            string                            `json:"player_id" firestore:"player_id"`
	AppID               string                            `json:"app_id" firestore:"app_id"`
	Platform            Platform                          `json:"platform" firestore:"platform"`
	PushToken           string                            `json:"push_token,omitempty" firestore:"push_token,omitempty"`
	WebSubscription     *notification.WebPushSubscription `json:"web_subscription,omitempty" firestore:"web_subscription,omitempty"`
	Tags                push.Tags                         `json:"tags,omitempty" firestore:"tags"`
	Settings            push.Settings                     `json:"settings" firestore:"settings"`
	Permissions         push.Permissions                  `json:"permissions" firestore:"permissions"`
	HasPrompted         bool                              `json:"has_prompted" firestore:"has_prompted"`
	SubscriptionEnabled bool                              `json:"subscription_enabled" firestore:"subscription_enabled"`
	Vibrate             bool                              `json:"vibrate" firestore:"vibrate"`
	Sound               bool                              `json:"sound" firestore:"sound"`
	LocationShared      bool                              `json:"location_shared" firestore:"location_shared"`
	Email               string                            `json:"email,omitempty" firestore:"email,omitempty"`
	EmailPlayerID       string                            `json:"email_player_id,omitempty" firestore:"email_player_id,omitempty"`
	ActiveNotifications []string                          `json:"active_notifications,omitempty" firestore:"active_notifications"`
	CreatedAt           time.Time                         `json:"created_at" firestore:"created_at"`
	UpdatedAt           time.Time                         `json:"updated_at" firestore:"updated_at"`
}

// Reachable reports whether the device has somewhere to deliver to.
func (d *Device) Reachable() bool {
	if d.Platform == PlatformWeb {
		return d.WebSubscription != nil && d.WebSubscription.Endpoint != ""
	}
	return d.PushToken != ""
}

// State derives the subscription snapshot reported to the application.
func (d *Device) State() push.SubscriptionState {
	enabled := d.Permissions.Any()
	return push.SubscriptionState{
		HasPrompted:             d.HasPrompted,
		NotificationsEnabled:    enabled,
		SubscriptionEnabled:     enabled && d.SubscriptionEnabled && d.Reachable(),
		UserSubscriptionEnabled: d.SubscriptionEnabled,
		PushToken:               d.PushToken,
		UserID:                  d.PlayerID,
		EmailUserID:             d.EmailPlayerID,
		EmailAddress:            d.Email,
		EmailSubscribed:         d.EmailPlayerID != "",
	}
}

// DeviceStore persists player state.
type DeviceStore interface {
	// Save upserts the device keyed by PlayerID.
	Save(ctx context.Context, device *Device) error
	// Get returns ErrDeviceNotFound when the player is unknown.
	Get(ctx context.Context, playerID string) (*Device, error)
	// GetMany resolves a batch of players. Unknown ids are absent from the result.
	GetMany(ctx context.Context, playerIDs []string) (map[string]*Device, error)
	// Delete is idempotent.
	Delete(ctx context.Context, playerID string) error
}
