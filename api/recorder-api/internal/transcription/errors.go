// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcription

import (
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

// Classification drives the reconnect policy after a stream failure.
type Classification int

const (
	// ClassSessionExpired means the service rotated the session out; the
	// client reconnects immediately and the user sees only a transient note.
	ClassSessionExpired Classification = iota
	// ClassRetryable covers transient network faults; reconnect after a
	// short delay.
	ClassRetryable
	// ClassAuthentication means the credential was rejected; the user must
	// re-authenticate before any further attempt.
	ClassAuthentication
	// ClassFatal is everything else: surface a persistent error, no retry.
	ClassFatal
)

var sessionExpiredPatterns = []string{
	"session expired",
	"session timeout",
	"session timed out",
	"max session duration",
	"stream duration exceeded",
}

var retryablePatterns = []string{
	"connection reset",
	"broken pipe",
	"unexpected eof",
	"i/o timeout",
	"connection refused",
	"no such host",
	"network is unreachable",
	"tls handshake timeout",
}

var authenticationPatterns = []string{
	"unauthorized",
	"forbidden",
	"invalid token",
	"token expired",
	"bad credential",
}

// authenticationCodes are service-reported reason codes. Bare status digits
// are only trusted here: transport error strings quote peer addresses, and an
// ephemeral port can contain any digit run.
var authenticationCodes = []string{"401", "403"}

// Classify maps a stream failure to its reconnect policy. Websocket close
// frames are inspected by code first; everything else falls back to message
// substrings. Retryable patterns run before authentication ones so a network
// fault is never mistaken for a credential rejection.
func Classify(err error) Classification {
	if err == nil {
		return ClassRetryable
	}

	if closeErr, ok := err.(*websocket.CloseError); ok {
		switch closeErr.Code {
		case websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseServiceRestart, websocket.CloseTryAgainLater:
			return ClassRetryable
		case websocket.ClosePolicyViolation:
			return ClassAuthentication
		}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range sessionExpiredPatterns {
		if strings.Contains(msg, p) {
			return ClassSessionExpired
		}
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return ClassRetryable
		}
	}
	for _, p := range authenticationPatterns {
		if strings.Contains(msg, p) {
			return ClassAuthentication
		}
	}
	return ClassFatal
}

// ClassifyReason maps a service-reported error frame to its policy. The code
// comes from the service itself, so HTTP-style status codes are authoritative
// here in a way free-form transport errors never are.
func ClassifyReason(code, message string) Classification {
	for _, c := range authenticationCodes {
		if code == c {
			return ClassAuthentication
		}
	}
	return Classify(fmt.Errorf("%s: %s", code, message))
}
