// Package push contains the domain model shared by the binding, the event hub and
// the hosted native layer: event names, settings enums, notification payloads and
// subscription state.
package push

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// EventName identifies one of the three native-layer events a listener can bind to.
type EventName string

const (
	EventReceived EventName = "received"
	EventOpened   EventName = "opened"
	EventIDs      EventName = "ids"
)

// EventNames lists the closed set of recognised events in a stable order.
var EventNames = []EventName{EventReceived, EventOpened, EventIDs}

// Valid reports whether n is one of the recognised events.
func (n EventName) Valid() bool {
	switch n {
	case EventReceived, EventOpened, EventIDs:
		return true
	}
	return false
}

// ParseEventName converts s into an EventName, failing with an InvalidEventNameError
// for anything outside the closed set.
func ParseEventName(s string) (EventName, error) {
	n := EventName(s)
	if !n.Valid() {
		return "", &InvalidEventNameError{Name: s}
	}
	return n, nil
}

// InFocusDisplayOption controls how a notification is surfaced while the app is in focus.
type InFocusDisplayOption int

const (
	DisplayNone InFocusDisplayOption = iota
	DisplayInAppAlert
	DisplayNotification
)

func (o InFocusDisplayOption) Valid() bool {
	return o >= DisplayNone && o <= DisplayNotification
}

func (o InFocusDisplayOption) String() string {
	switch o {
	case DisplayNone:
		return "none"
	case DisplayInAppAlert:
		return "inAppAlert"
	case DisplayNotification:
		return "notification"
	}
	return "unknown"
}

// LogLevel is the seven-step verbosity scale used for both the device log and visual alerts.
type LogLevel int

const (
	LogNone LogLevel = iota
	LogFatal
	LogErrors
	LogWarnings
	LogInfo
	LogDebug
	LogVerbose
)

func (l LogLevel) Valid() bool {
	return l >= LogNone && l <= LogVerbose
}

func (l LogLevel) String() string {
	switch l {
	case LogNone:
		return "None"
	case LogFatal:
		return "Fatal"
	case LogErrors:
		return "Errors"
	case LogWarnings:
		return "Warnings"
	case LogInfo:
		return "Info"
	case LogDebug:
		return "Debug"
	case LogVerbose:
		return "Verbose"
	}
	return "Unknown"
}

// Settings is the optional configuration passed on initialisation.
type Settings struct {
	AutoPrompt                 bool                 `json:"kOSSettingsKeyAutoPrompt" yaml:"auto_prompt" firestore:"auto_prompt"`
	InAppLaunchURL             bool                 `json:"kOSSettingsKeyInAppLaunchURL" yaml:"in_app_launch_url" firestore:"in_app_launch_url"`
	PromptBeforeOpeningPushURL bool                 `json:"kOSSSettingsKeyPromptBeforeOpeningPushURL" yaml:"prompt_before_opening_push_url" firestore:"prompt_before_opening_push_url"`
	InFocusDisplayOption       InFocusDisplayOption `json:"kOSSettingsKeyInFocusDisplayOption" yaml:"in_focus_display_option" firestore:"in_focus_display_option"`
}

// DefaultSettings mirrors the platform defaults: auto prompt on, URLs opened in app,
// in-focus notifications shown as in-app alerts.
func DefaultSettings() Settings {
	return Settings{
		AutoPrompt:           true,
		InAppLaunchURL:       true,
		InFocusDisplayOption: DisplayInAppAlert,
	}
}

// Permissions are the OS-level notification capabilities.
type Permissions struct {
	Alert bool `json:"alert" firestore:"alert"`
	Badge bool `json:"badge" firestore:"badge"`
	Sound bool `json:"sound" firestore:"sound"`
}

// Any reports whether at least one capability is granted.
func (p Permissions) Any() bool {
	return p.Alert || p.Badge || p.Sound
}

// SubscriptionState is the snapshot returned by a permission/subscription query.
type SubscriptionState struct {
	HasPrompted             bool   `json:"hasPrompted"`
	NotificationsEnabled    bool   `json:"notificationsEnabled"`
	SubscriptionEnabled     bool   `json:"subscriptionEnabled"`
	UserSubscriptionEnabled bool   `json:"userSubscriptionEnabled"`
	PushToken               string `json:"pushToken,omitempty"`
	UserID                  string `json:"userId,omitempty"`
	EmailUserID             string `json:"emailUserId,omitempty"`
	EmailAddress            string `json:"emailAddress,omitempty"`
	EmailSubscribed         bool   `json:"emailSubscribed"`
}

// Tags are the segmentation key/value pairs attached to a player.
type Tags map[string]string

// Clone returns an independent copy of t.
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// OutgoingNotification is a player-to-player notification request.
// Contents maps a language code to the message text (e.g. "en" -> "Hello").
// Data and Other are opaque application data forwarded untouched.
type OutgoingNotification struct {
	Contents  map[string]string
	Data      *structpb.ListValue
	PlayerIDs []string
	Other     *structpb.Struct
}
