// Package protocol defines the JSON frames streamed over the countdown and
// board WebSockets.
package protocol

import "encoding/json"

// FrameType identifies the type of WebSocket frame.
type FrameType string

const (
	// Connection lifecycle
	FrameTypeConnectionAck     FrameType = "connection_ack"
	FrameTypeConnectionClosing FrameType = "connection_closing"

	// Heartbeat
	FrameTypePing FrameType = "ping"
	FrameTypePong FrameType = "pong"

	// Streams
	FrameTypeTick     FrameType = "tick"
	FrameTypeSnapshot FrameType = "snapshot"

	// Errors
	FrameTypeError FrameType = "error"
)

// Frame is the base structure for all WebSocket frames.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectionAck is sent by the server after successful WebSocket upgrade.
type ConnectionAck struct {
	ConnectionID        string `json:"connection_id"`
	Stream              string `json:"stream"`
	HeartbeatIntervalMs int    `json:"heartbeat_interval_ms"`
}

// ConnectionClosing is sent by the server before closing the connection.
type ConnectionClosing struct {
	Reason string `json:"reason"`
	Code   int    `json:"code"`
}

// Ping is sent by the server to check client liveness.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// Pong is sent by the client in response to Ping.
type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// Tick carries one timeline breakdown. Direction is "counting_down" before
// the target and "counting_forward" from it.
type Tick struct {
	Mode      string `json:"mode"`
	Years     int    `json:"years"`
	Months    int    `json:"months"`
	Days      int    `json:"days"`
	Hours     int    `json:"hours"`
	Minutes   int    `json:"minutes"`
	Seconds   int    `json:"seconds"`
	Direction string `json:"direction"`
	At        int64  `json:"at"` // Unix milliseconds of the reference instant
}

// Snapshot carries the full, ordered contents of a board.
type Snapshot struct {
	Collection string          `json:"collection"`
	Items      json.RawMessage `json:"items"`
	TakenAt    int64           `json:"taken_at"`
}

// Error is sent by the server to report an error.
type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// NewFrame creates a Frame with the given type and payload.
func NewFrame(frameType FrameType, payload interface{}) (*Frame, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return &Frame{
		Type:    frameType,
		Payload: payloadBytes,
	}, nil
}

// ParsePayload unmarshals the frame payload into the given struct.
func (f *Frame) ParsePayload(v interface{}) error {
	if f.Payload == nil {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}
