// Package client is the application-facing binding to the push platform.
//
// Every call except the event-listener ones is fire-and-forget: it is queued and
// forwarded to the Bridge on a single worker goroutine, so the native layer sees
// calls in the order they were made. Results and native-layer errors are delivered
// through callbacks, never returned from the call itself.
package client

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tinywideclouds/go-push-bridge/pkg/events"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

type Client struct {
	bridge  Bridge
	hub     *events.Hub
	logger  *slog.Logger
	onError func(op string, err error)

	queue     *callQueue
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Client)

// WithErrorHandler receives errors from calls that have no callback of their own.
// The default logs them at warn level.
func WithErrorHandler(fn func(op string, err error)) Option {
	return func(c *Client) {
		if fn != nil {
			c.onError = fn
		}
	}
}

// New starts a client forwarding to bridge. The hub is owned by the caller and may
// be shared with whatever delivers native events into it.
func New(bridge Bridge, hub *events.Hub, logger *slog.Logger, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		bridge: bridge,
		hub:    hub,
		logger: logger.With("component", "PushClient"),
		queue:  newCallQueue(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.onError = func(op string, err error) {
		c.logger.Warn("Push call failed", "op", op, "err", err)
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.loop()
	return c
}

// Hub returns the event hub listeners are registered on.
func (c *Client) Hub() *events.Hub {
	return c.hub
}

// --- Lifecycle ---

// Init starts the native layer for appID. A nil settings uses push.DefaultSettings.
func (c *Client) Init(appID string, settings *push.Settings) {
	const op = "init"
	if appID == "" {
		c.reject(op, invalidArgument("app id is required"), nil)
		return
	}
	s := push.DefaultSettings()
	if settings != nil {
		s = *settings
	}
	if !s.InFocusDisplayOption.Valid() {
		c.reject(op, invalidArgument("unknown in-focus display option %d", s.InFocusDisplayOption), nil)
		return
	}
	c.forward(op, func(ctx context.Context) error {
		return c.bridge.Init(ctx, appID, s)
	}, nil)
}

// SetRequiresUserPrivacyConsent must be called before Init to delay initialisation
// until ProvideUserConsent(true).
func (c *Client) SetRequiresUserPrivacyConsent(required bool) {
	c.forward("setRequiresUserPrivacyConsent", func(ctx context.Context) error {
		return c.bridge.SetRequiresUserPrivacyConsent(ctx, required)
	}, nil)
}

func (c *Client) ProvideUserConsent(granted bool) {
	c.forward("provideUserConsent", func(ctx context.Context) error {
		return c.bridge.ProvideUserConsent(ctx, granted)
	}, nil)
}

// SetLogLevel sets the device log verbosity and the visual alert verbosity.
func (c *Client) SetLogLevel(logLevel, visualLevel push.LogLevel) {
	const op = "setLogLevel"
	if !logLevel.Valid() || !visualLevel.Valid() {
		c.reject(op, invalidArgument("log levels must be between None and Verbose"), nil)
		return
	}
	c.forward(op, func(ctx context.Context) error {
		return c.bridge.SetLogLevel(ctx, logLevel, visualLevel)
	}, nil)
}

// --- Tags ---

func (c *Client) SendTag(key, value string) {
	const op = "sendTag"
	if key == "" {
		c.reject(op, invalidArgument("tag key is required"), nil)
		return
	}
	c.forward(op, func(ctx context.Context) error {
		return c.bridge.SendTags(ctx, push.Tags{key: value})
	}, nil)
}

func (c *Client) SendTags(tags push.Tags) {
	const op = "sendTags"
	if _, empty := tags[""]; empty {
		c.reject(op, invalidArgument("tag key is required"), nil)
		return
	}
	if len(tags) == 0 {
		return
	}
	snapshot := tags.Clone()
	c.forward(op, func(ctx context.Context) error {
		return c.bridge.SendTags(ctx, snapshot)
	}, nil)
}

// GetTags reads back the full tag mapping.
func (c *Client) GetTags(cb func(tags push.Tags, err error)) {
	var tags push.Tags
	c.forward("getTags", func(ctx context.Context) error {
		var err error
		tags, err = c.bridge.GetTags(ctx)
		return err
	}, func(err error) {
		if cb != nil {
			cb(tags, err)
		}
	})
}

func (c *Client) DeleteTag(key string) {
	c.DeleteTags(key)
}

func (c *Client) DeleteTags(keys ...string) {
	const op = "deleteTags"
	if len(keys) == 0 {
		return
	}
	for _, k := range keys {
		if k == "" {
			c.reject(op, invalidArgument("tag key is required"), nil)
			return
		}
	}
	snapshot := append([]string(nil), keys...)
	c.forward(op, func(ctx context.Context) error {
		return c.bridge.DeleteTags(ctx, snapshot)
	}, nil)
}

// --- Subscription state ---

func (c *Client) GetPermissionSubscriptionState(cb func(state push.SubscriptionState, err error)) {
	var state push.SubscriptionState
	c.forward("getPermissionSubscriptionState", func(ctx context.Context) error {
		var err error
		state, err = c.bridge.GetPermissionSubscriptionState(ctx)
		return err
	}, func(err error) {
		if cb != nil {
			cb(state, err)
		}
	})
}

func (c *Client) EnableVibrate(enabled bool) {
	c.forward("enableVibrate", func(ctx context.Context) error {
		return c.bridge.EnableVibrate(ctx, enabled)
	}, nil)
}

func (c *Client) EnableSound(enabled bool) {
	c.forward("enableSound", func(ctx context.Context) error {
		return c.bridge.EnableSound(ctx, enabled)
	}, nil)
}

// SetSubscription opts the user out of (false) or back into (true) all notifications.
func (c *Client) SetSubscription(enabled bool) {
	c.forward("setSubscription", func(ctx context.Context) error {
		return c.bridge.SetSubscription(ctx, enabled)
	}, nil)
}

// SetEmail links an email address to the player. authHash may be empty for the
// unauthenticated flow.
func (c *Client) SetEmail(email, authHash string, cb func(err error)) {
	const op = "setEmail"
	if email == "" {
		c.reject(op, invalidArgument("email is required"), cb)
		return
	}
	c.forward(op, func(ctx context.Context) error {
		return c.bridge.SetEmail(ctx, email, authHash)
	}, cb)
}

func (c *Client) LogoutEmail(cb func(err error)) {
	c.forward("logoutEmail", c.bridge.LogoutEmail, cb)
}

// --- Location ---

func (c *Client) PromptLocation() {
	c.forward("promptLocation", c.bridge.PromptLocation, nil)
}

func (c *Client) SetLocationShared(shared bool) {
	c.forward("setLocationShared", func(ctx context.Context) error {
		return c.bridge.SetLocationShared(ctx, shared)
	}, nil)
}

// --- Notifications ---

// ClearNotifications removes every platform notification still on display.
func (c *Client) ClearNotifications() {
	c.forward("clearNotifications", c.bridge.ClearNotifications, nil)
}

func (c *Client) InFocusDisplaying(option push.InFocusDisplayOption) {
	const op = "inFocusDisplaying"
	if !option.Valid() {
		c.reject(op, invalidArgument("unknown in-focus display option %d", option), nil)
		return
	}
	c.forward(op, func(ctx context.Context) error {
		return c.bridge.SetInFocusDisplaying(ctx, option)
	}, nil)
}

// PostNotification sends a player-to-player notification. cb may be nil.
func (c *Client) PostNotification(n push.OutgoingNotification, cb func(err error)) {
	const op = "postNotification"
	if len(n.Contents) == 0 {
		c.reject(op, invalidArgument("contents are required"), cb)
		return
	}
	if len(n.PlayerIDs) == 0 {
		c.reject(op, invalidArgument("at least one player id is required"), cb)
		return
	}
	snapshot := push.OutgoingNotification{
		Contents:  maps.Clone(n.Contents),
		PlayerIDs: slices.Clone(n.PlayerIDs),
	}
	if n.Data != nil {
		snapshot.Data = proto.Clone(n.Data).(*structpb.ListValue)
	}
	if n.Other != nil {
		snapshot.Other = proto.Clone(n.Other).(*structpb.Struct)
	}
	c.forward(op, func(ctx context.Context) error {
		return c.bridge.PostNotification(ctx, snapshot)
	}, cb)
}

func (c *Client) CancelNotification(notificationID string) {
	const op = "cancelNotification"
	if notificationID == "" {
		c.reject(op, invalidArgument("notification id is required"), nil)
		return
	}
	c.forward(op, func(ctx context.Context) error {
		return c.bridge.CancelNotification(ctx, notificationID)
	}, nil)
}

// --- Permissions ---

func (c *Client) CheckPermissions(cb func(perms push.Permissions, err error)) {
	var perms push.Permissions
	c.forward("checkPermissions", func(ctx context.Context) error {
		var err error
		perms, err = c.bridge.CheckPermissions(ctx)
		return err
	}, func(err error) {
		if cb != nil {
			cb(perms, err)
		}
	})
}

func (c *Client) RequestPermissions(perms push.Permissions) {
	c.forward("requestPermissions", func(ctx context.Context) error {
		return c.bridge.RequestPermissions(ctx, perms)
	}, nil)
}

// RegisterForPushNotifications prompts for permission when Init ran without AutoPrompt.
func (c *Client) RegisterForPushNotifications() {
	c.forward("registerForPushNotifications", c.bridge.RegisterForPushNotifications, nil)
}

// --- Events ---

// AddEventListener registers handler for name. Adding the same handler twice is a no-op.
func (c *Client) AddEventListener(name push.EventName, handler events.Handler) error {
	return c.hub.Subscribe(name, handler)
}

// RemoveEventListener removes handler, or every handler for name when handler is nil.
func (c *Client) RemoveEventListener(name push.EventName, handler events.Handler) error {
	return c.hub.Unsubscribe(name, handler)
}

// --- Plumbing ---

// Flush blocks until every call queued before it has been forwarded.
func (c *Client) Flush(ctx context.Context) error {
	reached := make(chan struct{})
	if !c.queue.push(call{op: "flush", run: func(context.Context) error {
		close(reached)
		return nil
	}}) {
		return ErrClientClosed
	}
	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting calls and waits for the queued ones to be forwarded.
// If ctx expires first, the in-flight bridge call is cancelled.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(c.queue.close)
	select {
	case <-c.done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	}
}

func (c *Client) loop() {
	defer close(c.done)
	for {
		next, ok := c.queue.next()
		if !ok {
			return
		}
		c.execute(next)
	}
}

func (c *Client) execute(cl call) {
	err := cl.run(c.ctx)
	if err != nil {
		err = &NativeLayerError{Op: cl.op, Err: err}
	}
	c.finish(cl, err)
}

func (c *Client) finish(cl call, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Push callback panicked", "op", cl.op, "panic", r)
		}
	}()
	if cl.done != nil {
		cl.done(err)
		return
	}
	if err != nil {
		c.onError(cl.op, err)
	}
}

func (c *Client) forward(op string, run func(ctx context.Context) error, done func(err error)) {
	cl := call{op: op, run: run, done: done}
	if !c.queue.push(cl) {
		go c.finish(cl, ErrClientClosed)
	}
}

// reject reports a validation failure without touching the bridge. It is queued like
// any other call, so the callback fires after the results of earlier calls.
func (c *Client) reject(op string, err error, done func(err error)) {
	c.forward(op, func(context.Context) error { return err }, done)
}
