package client

import (
	"context"

	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// Bridge is the native layer the client forwards to. Implementations own every
// side effect: registration, persistence, permission prompts and delivery.
// Calls arrive one at a time, in the order the application made them.
type Bridge interface {
	Init(ctx context.Context, appID string, settings push.Settings) error

	SendTags(ctx context.Context, tags push.Tags) error
	GetTags(ctx context.Context) (push.Tags, error)
	DeleteTags(ctx context.Context, keys []string) error

	GetPermissionSubscriptionState(ctx context.Context) (push.SubscriptionState, error)
	SetEmail(ctx context.Context, email, authHash string) error
	LogoutEmail(ctx context.Context) error

	EnableVibrate(ctx context.Context, enabled bool) error
	EnableSound(ctx context.Context, enabled bool) error
	SetSubscription(ctx context.Context, enabled bool) error

	PromptLocation(ctx context.Context) error
	SetLocationShared(ctx context.Context, shared bool) error

	ClearNotifications(ctx context.Context) error
	SetInFocusDisplaying(ctx context.Context, option push.InFocusDisplayOption) error
	PostNotification(ctx context.Context, n push.OutgoingNotification) error
	CancelNotification(ctx context.Context, notificationID string) error

	CheckPermissions(ctx context.Context) (push.Permissions, error)
	RequestPermissions(ctx context.Context, perms push.Permissions) error
	RegisterForPushNotifications(ctx context.Context) error

	SetRequiresUserPrivacyConsent(ctx context.Context, required bool) error
	ProvideUserConsent(ctx context.Context, granted bool) error

	SetLogLevel(ctx context.Context, logLevel, visualLevel push.LogLevel) error
}
