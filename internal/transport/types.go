package transport

type EnvelopeType string

const (
	// client -> bridge
	EnvelopeAudio   EnvelopeType = "audio"
	EnvelopeVideo   EnvelopeType = "video"
	EnvelopeControl EnvelopeType = "control"

	// bridge -> client
	EnvelopeText         EnvelopeType = "text"
	EnvelopeTurnComplete EnvelopeType = "turn_complete"
	EnvelopeInterrupted  EnvelopeType = "interrupted"
	EnvelopeSessionLimit EnvelopeType = "session_limit"
	EnvelopeError        EnvelopeType = "error"
)

const (
	ControlEndSession = "end_session"
	ControlConsentAck = "consent_ack"
	ControlMicStop    = "mic_stop"
	ControlCameraOff  = "camera_off"
	ControlPing       = "ping"
	ControlPong       = "pong"
)

// Envelope is the discriminated wire message exchanged with the browser.
// Audio and video payloads travel base64-encoded in Data.
type Envelope struct {
	Type   EnvelopeType `json:"type"`
	Data   string       `json:"data,omitempty"`
	Reason string       `json:"reason,omitempty"`
	Code   string       `json:"code,omitempty"`
}
