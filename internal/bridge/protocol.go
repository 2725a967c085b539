package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/ipx800-bridge/internal/device"
	"github.com/nerrad567/ipx800-bridge/internal/ipx800"
	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// Message types sent to consumers.
const (
	MsgTypeSnapshot = "snapshot"
	MsgTypeState    = "state"
	MsgTypeResponse = "response"
	MsgTypeError    = "error"
)

// Error codes carried in responses.
const (
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeInvalidRequest  = "invalid_request"
	CodeActuationFailed = "actuation_failed"
	CodeInternal        = "internal_error"
)

// Request is an inbound consumer message.
//
//	{"id":"1","action":"setDeviceState","deviceId":"hall","desired":true}
//	{"action":"setOutputState","channels":["led2","led3"],"desired":false}
//	{"action":"addDevice","definition":{"name":"Hall","inputChannel":"btn0","outputChannels":["led0"]}}
//	{"action":"renameDevice","deviceId":"hall","name":"Landing"}
//	{"action":"removeDevice","deviceId":"hall"}
//	{"action":"getSnapshot"}
type Request struct {
	ID         string             `json:"id,omitempty"`
	Action     string             `json:"action"`
	DeviceID   string             `json:"deviceId,omitempty"`
	Desired    *bool              `json:"desired,omitempty"`
	Channels   []string           `json:"channels,omitempty"`
	Name       string             `json:"name,omitempty"`
	Definition *device.Definition `json:"definition,omitempty"`
}

// Message is an outbound consumer message.
type Message struct {
	Type      string     `json:"type"`
	ID        string     `json:"id,omitempty"`
	Action    string     `json:"action,omitempty"`
	Timestamp string     `json:"timestamp"`
	OK        *bool      `json:"ok,omitempty"`
	Payload   any        `json:"payload,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed command.
type ErrorBody struct {
	Code           string   `json:"code"`
	Message        string   `json:"message"`
	FailedChannels []string `json:"failedChannels,omitempty"`
}

// ResponsePayload is the payload of a successful response.
type ResponsePayload struct {
	Device   *state.Device    `json:"device,omitempty"`
	Snapshot *state.Canonical `json:"snapshot,omitempty"`
}

// DecodeCommand parses a consumer message into a Command.
//
// Returns:
//   - string: The request ID to echo back (may be empty, also on error)
//   - Command: The decoded command
//   - error: ErrInvalidCommand or ErrUnknownAction
func DecodeCommand(data []byte) (string, Command, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	cmd, err := req.Command()
	return req.ID, cmd, err
}

// Command converts the request into a typed Command.
func (r Request) Command() (Command, error) {
	switch r.Action {
	case ActionSetDeviceState:
		if r.DeviceID == "" || r.Desired == nil {
			return nil, fmt.Errorf("%w: deviceId and desired are required", ErrInvalidCommand)
		}
		return SetDeviceState{DeviceID: r.DeviceID, Desired: *r.Desired}, nil

	case ActionSetOutputState:
		if len(r.Channels) == 0 || r.Desired == nil {
			return nil, fmt.Errorf("%w: channels and desired are required", ErrInvalidCommand)
		}
		return SetOutputState{Channels: r.Channels, Desired: *r.Desired}, nil

	case ActionAddDevice:
		if r.Definition == nil {
			return nil, fmt.Errorf("%w: definition is required", ErrInvalidCommand)
		}
		return AddDevice{Definition: *r.Definition}, nil

	case ActionRemoveDevice:
		if r.DeviceID == "" {
			return nil, fmt.Errorf("%w: deviceId is required", ErrInvalidCommand)
		}
		return RemoveDevice{DeviceID: r.DeviceID}, nil

	case ActionRenameDevice:
		if r.DeviceID == "" || strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("%w: deviceId and name are required", ErrInvalidCommand)
		}
		return RenameDevice{DeviceID: r.DeviceID, Name: r.Name}, nil

	case ActionGetSnapshot:
		return GetSnapshot{}, nil

	case "":
		return nil, fmt.Errorf("%w: action is required", ErrInvalidCommand)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, r.Action)
	}
}

// HandleMessage decodes one consumer message, executes it and returns the
// encoded response.
func (b *Bridge) HandleMessage(ctx context.Context, data []byte) []byte {
	id, cmd, err := DecodeCommand(data)
	if err != nil {
		b.logger.Debug("rejected consumer message", "endpoint", b.endpoint.ID, "error", err)
		return EncodeResult(id, "", Result{Err: err})
	}
	return EncodeResult(id, cmd.Action(), b.Execute(ctx, cmd))
}

// EncodeState encodes a snapshot for consumers. first marks the snapshot
// sent right after subscribing.
func EncodeState(snap state.Canonical, first bool) ([]byte, error) {
	msgType := MsgTypeState
	if first {
		msgType = MsgTypeSnapshot
	}
	return json.Marshal(Message{
		Type:      msgType,
		Timestamp: snap.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:   snap,
	})
}

// EncodeResult encodes the outcome of a command.
func EncodeResult(id, action string, res Result) []byte {
	msg := Message{
		Type:      MsgTypeResponse,
		ID:        id,
		Action:    action,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	ok := res.Err == nil
	msg.OK = &ok
	if res.Err != nil {
		msg.Type = MsgTypeError
		msg.Error = &ErrorBody{
			Code:           ErrorCode(res.Err),
			Message:        res.Err.Error(),
			FailedChannels: ipx800.FailedChannels(res.Err),
		}
	} else {
		payload := ResponsePayload{}
		if res.Device != nil {
			view := res.Device.View()
			payload.Device = &view
		}
		if action == ActionGetSnapshot {
			snap := res.Snapshot
			payload.Snapshot = &snap
		}
		msg.Payload = payload
	}

	data, err := json.Marshal(msg)
	if err != nil {
		// Only reachable with an unencodable payload; report it without one.
		data, _ = json.Marshal(Message{ //nolint:errcheck // fixed shape
			Type:      MsgTypeError,
			ID:        id,
			Action:    action,
			Timestamp: msg.Timestamp,
			Error:     &ErrorBody{Code: CodeInternal, Message: err.Error()},
		})
	}
	return data
}

// ErrorCode maps an error to its consumer-facing code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrDeviceNotFound):
		return CodeNotFound
	case errors.Is(err, device.ErrDeviceExists):
		return CodeConflict
	case errors.Is(err, ErrInvalidCommand),
		errors.Is(err, ErrUnknownAction),
		errors.Is(err, device.ErrInvalidDevice),
		errors.Is(err, device.ErrInvalidID),
		errors.Is(err, device.ErrInvalidName),
		errors.Is(err, device.ErrInvalidChannel),
		errors.Is(err, ipx800.ErrInvalidChannel):
		return CodeInvalidRequest
	case errors.Is(err, ipx800.ErrActuationFailed),
		errors.Is(err, ipx800.ErrTransientIO):
		return CodeActuationFailed
	default:
		return CodeInternal
	}
}
