// Package hosted implements the native push layer for processes that have no mobile
// OS underneath: player state lives in a DeviceStore, outgoing notifications go out
// through the platform dispatchers, and inbound native events are fed in via Deliver.
package hosted

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-bridge/pkg/client"
	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-push-bridge/pkg/events"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

var (
	// ErrNotInitialized is returned by player operations before Init has completed.
	ErrNotInitialized = errors.New("push layer is not initialized")
	// ErrEmailNotSet is returned by LogoutEmail when no email is linked.
	ErrEmailNotSet = errors.New("no email is set for this player")
	// ErrNoRecipients is returned when none of a notification's players can be reached.
	ErrNoRecipients = errors.New("no reachable recipients")
)

// levelSilent is above every level slog emits, so LogNone mutes the logger.
const levelSilent = slog.Level(1 << 10)

// Device describes the installation this bridge registers as.
type Device struct {
	// PlayerID is reused across restarts when set; otherwise one is generated on first Init.
	PlayerID        string
	Platform        dispatch.Platform
	PushToken       string
	WebSubscription *notification.WebPushSubscription
}

// Dispatchers are the outbound channels. A nil dispatcher disables its platform.
type Dispatchers struct {
	FCM  dispatch.Dispatcher
	APNS dispatch.Dispatcher
	Web  dispatch.WebDispatcher
}

var _ client.Bridge = (*Bridge)(nil)

type Bridge struct {
	store       dispatch.DeviceStore
	hub         *events.Hub
	dispatchers Dispatchers
	device      Device
	logger      *slog.Logger
	level       *slog.LevelVar
	now         func() time.Time

	mu              sync.Mutex
	playerID        string
	initialized     bool
	consentRequired bool
	consentGiven    bool
	pendingInit     *pendingInit
	logLevel        push.LogLevel
	visualLevel     push.LogLevel
}

type pendingInit struct {
	appID    string
	settings push.Settings
}

type Option func(*Bridge)

// WithLevelVar lets SetLogLevel drive the verbosity of the handler built on level.
func WithLevelVar(level *slog.LevelVar) Option {
	return func(b *Bridge) { b.level = level }
}

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

func New(store dispatch.DeviceStore, hub *events.Hub, dispatchers Dispatchers, device Device, logger *slog.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		store:       store,
		hub:         hub,
		dispatchers: dispatchers,
		device:      device,
		logger:      logger.With("component", "HostedBridge"),
		now:         time.Now,
		logLevel:    push.LogWarnings,
		visualLevel: push.LogNone,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PlayerID returns the registered player id, empty before Init.
func (b *Bridge) PlayerID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playerID
}

// LogLevels returns the current device and visual log levels.
func (b *Bridge) LogLevels() (logLevel, visualLevel push.LogLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logLevel, b.visualLevel
}

// --- Lifecycle and consent ---

func (b *Bridge) Init(ctx context.Context, appID string, settings push.Settings) error {
	b.mu.Lock()
	if b.gated() {
		b.pendingInit = &pendingInit{appID: appID, settings: settings}
		b.mu.Unlock()
		b.logger.Info("Init deferred until user consent", "app_id", appID)
		return nil
	}
	ids, err := b.initLocked(ctx, appID, settings)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.emit(ctx, ids)
	return nil
}

func (b *Bridge) SetRequiresUserPrivacyConsent(_ context.Context, required bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized && required && !b.consentRequired {
		b.logger.Warn("Consent requirement set after Init is ignored")
		return nil
	}
	b.consentRequired = required
	return nil
}

// ProvideUserConsent lifts (or restores) the consent gate. A deferred Init runs now.
func (b *Bridge) ProvideUserConsent(ctx context.Context, granted bool) error {
	b.mu.Lock()
	b.consentGiven = granted
	pending := b.pendingInit
	if !granted || pending == nil {
		b.mu.Unlock()
		return nil
	}
	b.pendingInit = nil
	ids, err := b.initLocked(ctx, pending.appID, pending.settings)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("deferred init failed: %w", err)
	}
	b.emit(ctx, ids)
	return nil
}

// SetLogLevel is honoured even while consent is outstanding.
func (b *Bridge) SetLogLevel(_ context.Context, logLevel, visualLevel push.LogLevel) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logLevel = logLevel
	b.visualLevel = visualLevel
	if b.level != nil {
		b.level.Set(slogLevel(logLevel))
	}
	return nil
}

func slogLevel(l push.LogLevel) slog.Level {
	switch l {
	case push.LogNone:
		return levelSilent
	case push.LogFatal, push.LogErrors:
		return slog.LevelError
	case push.LogWarnings:
		return slog.LevelWarn
	case push.LogInfo:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

// gated reports whether calls must be dropped for lack of consent. Callers hold mu.
func (b *Bridge) gated() bool {
	return b.consentRequired && !b.consentGiven
}

func (b *Bridge) initLocked(ctx context.Context, appID string, settings push.Settings) (push.IDs, error) {
	playerID := b.playerID
	if playerID == "" {
		playerID = b.device.PlayerID
	}
	if playerID == "" {
		playerID = uuid.NewString()
	}

	now := b.now()
	d, err := b.store.Get(ctx, playerID)
	switch {
	case errors.Is(err, dispatch.ErrDeviceNotFound):
		d = &dispatch.Device{
			PlayerID:            playerID,
			Tags:                push.Tags{},
			SubscriptionEnabled: true,
			Vibrate:             true,
			Sound:               true,
			CreatedAt:           now,
		}
	case err != nil:
		return push.IDs{}, fmt.Errorf("failed to load player %s: %w", playerID, err)
	}

	d.AppID = appID
	d.Settings = settings
	if b.device.Platform != "" {
		d.Platform = b.device.Platform
	}
	if b.device.PushToken != "" {
		d.PushToken = b.device.PushToken
	}
	if b.device.WebSubscription != nil {
		d.WebSubscription = b.device.WebSubscription
	}
	if settings.AutoPrompt {
		d.HasPrompted = true
		d.Permissions = push.Permissions{Alert: true, Badge: true, Sound: true}
	}
	d.UpdatedAt = now

	if err := b.store.Save(ctx, d); err != nil {
		return push.IDs{}, fmt.Errorf("failed to register player %s: %w", playerID, err)
	}

	b.playerID = playerID
	b.initialized = true
	b.logger.Info("Player registered", "app_id", appID, "player_id", playerID, "platform", d.Platform)
	return push.IDs{UserID: playerID, PushToken: d.PushToken}, nil
}

func (b *Bridge) emit(ctx context.Context, payload push.Payload) {
	if err := b.hub.Dispatch(ctx, payload.Event(), payload); err != nil {
		b.logger.Error("Failed to dispatch event", "event", payload.Event(), "err", err)
	}
}

// --- Player state ---

// update loads the player, applies fn and saves it. It is a silent no-op while
// consent is outstanding.
func (b *Bridge) update(ctx context.Context, fn func(d *dispatch.Device) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gated() {
		return nil
	}
	if !b.initialized {
		return ErrNotInitialized
	}
	d, err := b.loadLocked(ctx)
	if err != nil {
		return err
	}
	if err := fn(d); err != nil {
		return err
	}
	return b.saveLocked(ctx, d)
}

// read loads the player. ok is false while consent is outstanding.
func (b *Bridge) read(ctx context.Context) (d *dispatch.Device, ok bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gated() {
		return nil, false, nil
	}
	if !b.initialized {
		return nil, false, ErrNotInitialized
	}
	d, err = b.loadLocked(ctx)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

func (b *Bridge) SendTags(ctx context.Context, tags push.Tags) error {
	return b.update(ctx, func(d *dispatch.Device) error {
		if d.Tags == nil {
			d.Tags = push.Tags{}
		}
		for k, v := range tags {
			d.Tags[k] = v
		}
		return nil
	})
}

func (b *Bridge) GetTags(ctx context.Context) (push.Tags, error) {
	d, ok, err := b.read(ctx)
	if err != nil || !ok {
		return push.Tags{}, err
	}
	return d.Tags.Clone(), nil
}

func (b *Bridge) DeleteTags(ctx context.Context, keys []string) error {
	return b.update(ctx, func(d *dispatch.Device) error {
		for _, k := range keys {
			delete(d.Tags, k)
		}
		return nil
	})
}

func (b *Bridge) GetPermissionSubscriptionState(ctx context.Context) (push.SubscriptionState, error) {
	d, ok, err := b.read(ctx)
	if err != nil || !ok {
		return push.SubscriptionState{}, err
	}
	return d.State(), nil
}

func (b *Bridge) SetEmail(ctx context.Context, email, authHash string) error {
	return b.update(ctx, func(d *dispatch.Device) error {
		if d.Email != email || d.EmailPlayerID == "" {
			d.EmailPlayerID = uuid.NewString()
		}
		d.Email = email
		b.logger.Debug("Email linked", "player_id", d.PlayerID, "verified", authHash != "")
		return nil
	})
}

func (b *Bridge) LogoutEmail(ctx context.Context) error {
	return b.update(ctx, func(d *dispatch.Device) error {
		if d.Email == "" {
			return ErrEmailNotSet
		}
		d.Email = ""
		d.EmailPlayerID = ""
		return nil
	})
}

func (b *Bridge) EnableVibrate(ctx context.Context, enabled bool) error {
	return b.update(ctx, func(d *dispatch.Device) error {
		d.Vibrate = enabled
		return nil
	})
}

func (b *Bridge) EnableSound(ctx context.Context, enabled bool) error {
	return b.update(ctx, func(d *dispatch.Device) error {
		d.Sound = enabled
		return nil
	})
}

func (b *Bridge) SetSubscription(ctx context.Context, enabled bool) error {
	return b.update(ctx, func(d *dispatch.Device) error {
		d.SubscriptionEnabled = enabled
		return nil
	})
}

// PromptLocation has no user to ask; a hosted device accepts, like AutoPrompt does.
func (b *Bridge) PromptLocation(ctx context.Context) error {
	return b.update(ctx, func(d *dispatch.Device) error {
		d.LocationShared = true
		return nil
	})
}

func (b *Bridge) SetLocationShared(ctx context.Context, shared bool) error {
	return b.update(ctx, func(d *dispatch.Device) error {
		d.LocationShared = shared
		return nil
	})
}

func (b *Bridge) SetInFocusDisplaying(ctx context.Context, option push.InFocusDisplayOption) error {
	return b.update(ctx, func(d *dispatch.Device) error {
		d.Settings.InFocusDisplayOption = option
		return nil
	})
}

func (b *Bridge) ClearNotifications(ctx context.Context) error {
	return b.update(ctx, func(d *dispatch.Device) error {
		d.ActiveNotifications = nil
		return nil
	})
}

func (b *Bridge) CancelNotification(ctx context.Context, notificationID string) error {
	return b.update(ctx, func(d *dispatch.Device) error {
		d.ActiveNotifications = slices.DeleteFunc(d.ActiveNotifications, func(id string) bool {
			return id == notificationID
		})
		return nil
	})
}

// --- Permissions ---

func (b *Bridge) CheckPermissions(ctx context.Context) (push.Permissions, error) {
	d, ok, err := b.read(ctx)
	if err != nil || !ok {
		return push.Permissions{}, err
	}
	return d.Permissions, nil
}

// RequestPermissions grants what is asked for; there is no user to decline.
func (b *Bridge) RequestPermissions(ctx context.Context, perms push.Permissions) error {
	return b.update(ctx, func(d *dispatch.Device) error {
		d.HasPrompted = true
		d.Permissions.Alert = d.Permissions.Alert || perms.Alert
		d.Permissions.Badge = d.Permissions.Badge || perms.Badge
		d.Permissions.Sound = d.Permissions.Sound || perms.Sound
		return nil
	})
}

func (b *Bridge) RegisterForPushNotifications(ctx context.Context) error {
	return b.update(ctx, func(d *dispatch.Device) error {
		d.HasPrompted = true
		d.Permissions = push.Permissions{Alert: true, Badge: true, Sound: true}
		return nil
	})
}
