// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcription

// Message type discriminants for the streaming transcription protocol. Every
// text frame on the wire is a JSON object with a "type" field; audio travels
// as binary frames.
const (
	MessageSessionBegin = "session.begin"
	MessageSessionEnd   = "session.end"
	MessagePing         = "ping"

	MessageTranscriptDelta = "transcript.delta"
	MessageUtteranceEnd    = "utterance.end"
	MessageSessionAck      = "session.ack"
	MessageError           = "error"
)

// SessionBegin opens a transcription session on a fresh connection.
type SessionBegin struct {
	Type           string `json:"type"`
	Language       string `json:"language,omitempty"`
	InterimResults bool   `json:"interim_results"`
	MaxLatencyMs   int    `json:"max_latency_ms,omitempty"`
}

// SessionEnd asks the service to flush pending results and close.
type SessionEnd struct {
	Type string `json:"type"`
}

// Ping is the keepalive frame.
type Ping struct {
	Type string `json:"type"`
}

// ServerMessage is the inbound envelope; fields beyond Type are populated
// depending on the discriminant.
type ServerMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text,omitempty"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	SessionID  string  `json:"session_id,omitempty"`
	Code       string  `json:"code,omitempty"`
	Message    string  `json:"message,omitempty"`
}
