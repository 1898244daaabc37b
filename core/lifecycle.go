package core

import (
	"encoding/json"
	"fmt"
)

// IframeLifecycle tags events sent from the wallet iframe to the embedding page.
type IframeLifecycle string

const (
	IframeHandshake    IframeLifecycle = "handshake"
	IframeDoBackup     IframeLifecycle = "do-backup"
	IframeRemoveBackup IframeLifecycle = "remove-backup"
	IframeConnected    IframeLifecycle = "connected"
)

// ClientLifecycle tags events sent from the embedding page to the wallet iframe.
type ClientLifecycle string

const (
	ClientHandshakeResponse ClientLifecycle = "handshake-response"
	ClientRestoreBackup     ClientLifecycle = "restore-backup"
	ClientHeartbeat         ClientLifecycle = "heartbeat"
)

// Event is one member of the lifecycle tagged union. The set is closed.
type Event interface {
	lifecycleEvent()
}

// HandshakeEvent asks the parent to answer with the same token.
type HandshakeEvent struct {
	Token string `json:"token"`
}

// DoBackupEvent carries an encoded backup for the parent to persist.
type DoBackupEvent struct {
	Backup string `json:"backup"`
}

// RemoveBackupEvent tells the parent to drop its stored backup.
type RemoveBackupEvent struct{}

// ConnectedEvent tells the parent that the iframe can handle requests.
type ConnectedEvent struct{}

// HandshakeResponseEvent answers a HandshakeEvent.
type HandshakeResponseEvent struct {
	Token      string `json:"token"`
	CurrentURL string `json:"currentUrl,omitempty"`
}

// RestoreBackupEvent hands a previously stored backup back to the iframe.
type RestoreBackupEvent struct {
	Backup string `json:"backup"`
}

// HeartbeatEvent is sent by the parent until the iframe reports connected.
type HeartbeatEvent struct{}

func (HandshakeEvent) lifecycleEvent()         {}
func (DoBackupEvent) lifecycleEvent()          {}
func (RemoveBackupEvent) lifecycleEvent()      {}
func (ConnectedEvent) lifecycleEvent()         {}
func (HandshakeResponseEvent) lifecycleEvent() {}
func (RestoreBackupEvent) lifecycleEvent()     {}
func (HeartbeatEvent) lifecycleEvent()         {}

// Message is a decoded event together with the origin reported by the transport.
type Message struct {
	Origin string
	Event  Event
}

type envelope struct {
	IframeLifecycle IframeLifecycle `json:"iframeLifecycle,omitempty"`
	ClientLifecycle ClientLifecycle `json:"clientLifecycle,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// EncodeEvent renders an event in its wire envelope.
func EncodeEvent(event Event) ([]byte, error) {
	var env envelope
	var data any
	switch e := event.(type) {
	case HandshakeEvent:
		env.IframeLifecycle, data = IframeHandshake, e
	case DoBackupEvent:
		env.IframeLifecycle, data = IframeDoBackup, e
	case RemoveBackupEvent:
		env.IframeLifecycle = IframeRemoveBackup
	case ConnectedEvent:
		env.IframeLifecycle = IframeConnected
	case HandshakeResponseEvent:
		env.ClientLifecycle, data = ClientHandshakeResponse, e
	case RestoreBackupEvent:
		env.ClientLifecycle, data = ClientRestoreBackup, e
	case HeartbeatEvent:
		env.ClientLifecycle = ClientHeartbeat
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownLifecycle, event)
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event data: %w", err)
		}
		env.Data = raw
	}

	return json.Marshal(env)
}

// DecodeEvent parses a wire envelope. Envelopes with no tag, both tags or an
// unknown tag are rejected.
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	if (env.IframeLifecycle == "") == (env.ClientLifecycle == "") {
		return nil, ErrUnknownLifecycle
	}

	switch env.IframeLifecycle {
	case "":
	case IframeHandshake:
		var e HandshakeEvent
		if err := decodeData(env.Data, &e, func() bool { return e.Token != "" }); err != nil {
			return nil, err
		}
		return e, nil
	case IframeDoBackup:
		var e DoBackupEvent
		if err := decodeData(env.Data, &e, nil); err != nil {
			return nil, err
		}
		return e, nil
	case IframeRemoveBackup:
		return RemoveBackupEvent{}, nil
	case IframeConnected:
		return ConnectedEvent{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLifecycle, env.IframeLifecycle)
	}

	switch env.ClientLifecycle {
	case ClientHandshakeResponse:
		var e HandshakeResponseEvent
		if err := decodeData(env.Data, &e, func() bool { return e.Token != "" }); err != nil {
			return nil, err
		}
		return e, nil
	case ClientRestoreBackup:
		var e RestoreBackupEvent
		if err := decodeData(env.Data, &e, func() bool { return e.Backup != "" }); err != nil {
			return nil, err
		}
		return e, nil
	case ClientHeartbeat:
		return HeartbeatEvent{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLifecycle, env.ClientLifecycle)
	}
}

func decodeData(raw json.RawMessage, target any, valid func() bool) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing data", ErrUnknownLifecycle)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to unmarshal event data: %w", err)
	}
	if valid != nil && !valid() {
		return fmt.Errorf("%w: incomplete data", ErrUnknownLifecycle)
	}
	return nil
}
