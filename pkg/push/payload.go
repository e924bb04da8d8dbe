package push

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Payload is the event-specific value handed to listeners. The set of implementations
// is closed: ReceivedNotification, OpenResult and IDs.
type Payload interface {
	Event() EventName
	isPayload()
}

// PushData is the notification record produced by the native layer.
//
// AdditionalData and P2PNotification are opaque application data. The hub and the
// bridge never interpret them. Each listener gets its own copy (see ClonePayload).
type PushData struct {
	NotificationID   string
	ContentAvailable bool
	Badge            *int
	Sound            string
	Title            string
	Body             string
	LaunchURL        string
	AdditionalData   *structpb.Struct
	P2PNotification  *structpb.ListValue
}

// Clone returns a copy of d that shares no pointers with it.
func (d PushData) Clone() PushData {
	out := d
	if d.Badge != nil {
		badge := *d.Badge
		out.Badge = &badge
	}
	if d.AdditionalData != nil {
		out.AdditionalData = proto.Clone(d.AdditionalData).(*structpb.Struct)
	}
	if d.P2PNotification != nil {
		out.P2PNotification = proto.Clone(d.P2PNotification).(*structpb.ListValue)
	}
	return out
}

type pushDataJSON struct {
	NotificationID   string          `json:"notificationID"`
	ContentAvailable bool            `json:"contentAvailable"`
	Badge            *int            `json:"badge,omitempty"`
	Sound            string          `json:"sound"`
	Title            string          `json:"title"`
	Body             string          `json:"body"`
	LaunchURL        string          `json:"launchURL,omitempty"`
	AdditionalData   json.RawMessage `json:"additionalData,omitempty"`
	P2PNotification  json.RawMessage `json:"p2p_notification,omitempty"`
}

// MarshalJSON encodes the opaque fields with protojson so the wire shape matches the
// original JSON objects and arrays.
func (d PushData) MarshalJSON() ([]byte, error) {
	out := pushDataJSON{
		NotificationID:   d.NotificationID,
		ContentAvailable: d.ContentAvailable,
		Badge:            d.Badge,
		Sound:            d.Sound,
		Title:            d.Title,
		Body:             d.Body,
		LaunchURL:        d.LaunchURL,
	}
	if d.AdditionalData != nil {
		raw, err := protojson.Marshal(d.AdditionalData)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal additionalData: %w", err)
		}
		out.AdditionalData = raw
	}
	if d.P2PNotification != nil {
		raw, err := protojson.Marshal(d.P2PNotification)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal p2p_notification: %w", err)
		}
		out.P2PNotification = raw
	}
	return json.Marshal(out)
}

func (d *PushData) UnmarshalJSON(data []byte) error {
	var in pushDataJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*d = PushData{
		NotificationID:   in.NotificationID,
		ContentAvailable: in.ContentAvailable,
		Badge:            in.Badge,
		Sound:            in.Sound,
		Title:            in.Title,
		Body:             in.Body,
		LaunchURL:        in.LaunchURL,
	}
	if !isNullJSON(in.AdditionalData) {
		s := &structpb.Struct{}
		if err := protojson.Unmarshal(in.AdditionalData, s); err != nil {
			return fmt.Errorf("additionalData must be a JSON object: %w", err)
		}
		d.AdditionalData = s
	}
	if !isNullJSON(in.P2PNotification) {
		l := &structpb.ListValue{}
		if err := protojson.Unmarshal(in.P2PNotification, l); err != nil {
			return fmt.Errorf("p2p_notification must be a JSON array: %w", err)
		}
		d.P2PNotification = l
	}
	return nil
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// ReceivedNotification is delivered on the "received" event.
type ReceivedNotification struct {
	Shown              bool                 `json:"shown"`
	Payload            PushData             `json:"payload"`
	DisplayType        InFocusDisplayOption `json:"displayType"`
	SilentNotification bool                 `json:"silentNotification"`
}

func (ReceivedNotification) Event() EventName { return EventReceived }
func (ReceivedNotification) isPayload()       {}

// ActionType distinguishes a plain open from a tap on an action button.
type ActionType int

const (
	ActionOpened ActionType = iota
	ActionTaken
)

// OpenedNotification is the notification part of an OpenResult.
type OpenedNotification struct {
	Payload      PushData `json:"payload"`
	IsAppInFocus bool     `json:"isAppInFocus"`
}

// OpenAction describes what the user did to open the notification.
type OpenAction struct {
	Type     ActionType `json:"type"`
	ActionID string     `json:"actionID,omitempty"`
}

// OpenResult is delivered on the "opened" event.
type OpenResult struct {
	Notification OpenedNotification `json:"notification"`
	Action       OpenAction         `json:"action"`
}

func (OpenResult) Event() EventName { return EventOpened }
func (OpenResult) isPayload()       {}

// IDs is delivered on the "ids" event whenever the player id or push token is assigned.
type IDs struct {
	UserID    string `json:"userId"`
	PushToken string `json:"pushToken,omitempty"`
}

func (IDs) Event() EventName { return EventIDs }
func (IDs) isPayload()       {}

// ClonePayload deep-copies the pointer fields of p. Values of unknown types are
// returned unchanged.
func ClonePayload(p Payload) Payload {
	switch v := p.(type) {
	case ReceivedNotification:
		v.Payload = v.Payload.Clone()
		return v
	case OpenResult:
		v.Notification.Payload = v.Notification.Payload.Clone()
		return v
	}
	return p
}

// DecodePayload parses raw into the payload type belonging to name.
func DecodePayload(name EventName, raw []byte) (Payload, error) {
	switch name {
	case EventReceived:
		var p ReceivedNotification
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", name, err)
		}
		return p, nil
	case EventOpened:
		var p OpenResult
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", name, err)
		}
		return p, nil
	case EventIDs:
		var p IDs
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", name, err)
		}
		return p, nil
	}
	return nil, &InvalidEventNameError{Name: string(name)}
}

// Envelope is the wire form of a native-layer event:
//
//	{"event":"opened","payload":{...}}
type Envelope struct {
	Event   EventName
	Payload Payload
}

type envelopeJSON struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeJSON{Event: string(e.Event), Payload: raw})
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var in envelopeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	name, err := ParseEventName(in.Event)
	if err != nil {
		return err
	}
	if isNullJSON(in.Payload) {
		return fmt.Errorf("envelope for %s has no payload", name)
	}
	p, err := DecodePayload(name, in.Payload)
	if err != nil {
		return err
	}
	e.Event = name
	e.Payload = p
	return nil
}
