// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/utils"
)

// State is the connection lifecycle of one streaming client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	// StateExpiring marks the proactive renewal window: a replacement
	// connection is being dialed while audio still flows on the old one.
	StateExpiring State = "expiring"
)

const (
	DefaultKeepaliveInterval = 30 * time.Second
	// DefaultRenewAfter renews the connection before the service's
	// 30-minute session ceiling.
	DefaultRenewAfter       = 28 * time.Minute
	DefaultReconnectDelay   = 2 * time.Second
	DefaultTransientClear   = 3 * time.Second
	DefaultStopDrainTimeout = 500 * time.Millisecond
)

var errAuthenticationRequired = errors.New("authentication required")

// Handlers receives everything the client surfaces. Every callback carries
// the client's audio source so one set of handlers can serve both clients.
type Handlers struct {
	OnTranscriptDelta        func(source internal_type.AudioSource, text, language string)
	OnUtteranceEnd           func(source internal_type.AudioSource, text string)
	OnStateChange            func(source internal_type.AudioSource, state State)
	OnTransient              func(source internal_type.AudioSource, message string)
	OnError                  func(source internal_type.AudioSource, err error)
	OnAuthenticationRequired func(source internal_type.AudioSource)
}

// Option configures a streaming client.
type Option func(*clientOptions)

type clientOptions struct {
	language          string
	interimResults    bool
	maxLatencyMs      int
	keepaliveInterval time.Duration
	renewAfter        time.Duration
	reconnectDelay    time.Duration
	transientClear    time.Duration
	drainTimeout      time.Duration
	dialer            *websocket.Dialer
}

// WithLanguage sets the transcription language hint.
func WithLanguage(language string) Option {
	return func(o *clientOptions) { o.language = language }
}

// WithInterimResults toggles partial transcript delivery.
func WithInterimResults(enabled bool) Option {
	return func(o *clientOptions) { o.interimResults = enabled }
}

// WithMaxLatency sets the service-side result latency ceiling.
func WithMaxLatency(ms int) Option {
	return func(o *clientOptions) { o.maxLatencyMs = ms }
}

// WithKeepaliveInterval overrides the ping cadence.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(o *clientOptions) { o.keepaliveInterval = d }
}

// WithRenewAfter overrides the proactive connection renewal age.
func WithRenewAfter(d time.Duration) Option {
	return func(o *clientOptions) { o.renewAfter = d }
}

// WithReconnectDelay overrides the retryable-failure reconnect delay.
func WithReconnectDelay(d time.Duration) Option {
	return func(o *clientOptions) { o.reconnectDelay = d }
}

// WithTransientClear overrides how long transient notices stay visible.
func WithTransientClear(d time.Duration) Option {
	return func(o *clientOptions) { o.transientClear = d }
}

// WithStopDrain overrides how long the read side stays open after Stop.
func WithStopDrain(d time.Duration) Option {
	return func(o *clientOptions) { o.drainTimeout = d }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *clientOptions) { o.dialer = d }
}

// Client streams one audio source to the transcription service. A fresh
// credential and a fresh session id are taken per connection attempt; every
// callback dispatch compares its captured session id against the current one,
// so results from a replaced connection are dropped without any flags.
type Client struct {
	logger   commons.Logger
	source   internal_type.AudioSource
	endpoint string
	provider internal_type.CredentialProvider
	handlers Handlers
	opts     clientOptions

	// writeMu serializes outbound frames and connection swaps.
	writeMu sync.Mutex
	conn    *websocket.Conn

	mu             sync.Mutex
	state          State
	sessionID      string
	stopped        bool
	cancel         context.CancelFunc
	renewTimer     *time.Timer
	reconnectTimer *time.Timer
	transientTimer *time.Timer
}

// NewClient builds a streaming client for one source.
func NewClient(
	logger commons.Logger,
	source internal_type.AudioSource,
	endpoint string,
	provider internal_type.CredentialProvider,
	handlers Handlers,
	opts ...Option,
) *Client {
	o := clientOptions{
		interimResults:    true,
		keepaliveInterval: DefaultKeepaliveInterval,
		renewAfter:        DefaultRenewAfter,
		reconnectDelay:    DefaultReconnectDelay,
		transientClear:    DefaultTransientClear,
		drainTimeout:      DefaultStopDrainTimeout,
		dialer:            websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		logger:   logger,
		source:   source,
		endpoint: endpoint,
		provider: provider,
		handlers: handlers,
		opts:     o,
		state:    StateDisconnected,
	}
}

// Source returns the audio source this client streams.
func (c *Client) Source() internal_type.AudioSource {
	return c.source
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens the initial connection. A credential failure surfaces as
// authentication-required and is not retried.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("%s transcription client already started", c.source)
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = false
	c.mu.Unlock()

	return c.connect(ctx, StateConnecting)
}

// Send writes one binary PCM frame. Frames are dropped, not buffered, while
// the client is not connected; write failures are logged and dropped so the
// audio path never stalls.
func (c *Client) Send(pcm []byte) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != StateConnected && state != StateExpiring {
		return nil
	}

	c.writeMu.Lock()
	conn := c.conn
	var err error
	if conn != nil {
		err = conn.WriteMessage(websocket.BinaryMessage, pcm)
	}
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Warnf("%s transcription: dropped audio frame: %v", c.source, err)
	}
	return nil
}

// Stop ends the session gracefully: session.end goes out, then the read side
// stays open briefly so trailing finalization results can still be delivered
// under the live session id.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	stopTimer(c.renewTimer)
	stopTimer(c.reconnectTimer)
	stopTimer(c.transientTimer)
	cancel := c.cancel
	c.mu.Unlock()

	c.setState(StateDisconnected)

	c.writeMu.Lock()
	conn := c.conn
	c.conn = nil
	c.writeMu.Unlock()

	if conn == nil {
		if cancel != nil {
			cancel()
		}
		return
	}

	if err := conn.WriteJSON(SessionEnd{Type: MessageSessionEnd}); err != nil {
		c.logger.Debugf("%s transcription: session.end write failed: %v", c.source, err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(c.opts.drainTimeout)); err != nil {
		c.logger.Debugf("%s transcription: drain deadline rejected: %v", c.source, err)
	}
	time.AfterFunc(c.opts.drainTimeout+50*time.Millisecond, func() {
		if cancel != nil {
			cancel()
		}
		conn.Close()
	})
}

// connect takes a fresh credential, dials, opens the session and installs
// the connection. via is the state shown while the attempt runs. A failed
// renewal attempt keeps the client Connected: the old connection is still
// live and its eventual read error drives the reconnect policy.
func (c *Client) connect(ctx context.Context, via State) error {
	c.setState(via)
	failState := StateDisconnected
	if via == StateExpiring {
		failState = StateConnected
	}

	token, err := c.provider.GetStreamingCredential(ctx)
	if err != nil {
		c.logger.Errorf("%s transcription: credential request failed: %v", c.source, err)
		c.setState(failState)
		if via != StateExpiring && c.handlers.OnAuthenticationRequired != nil {
			c.handlers.OnAuthenticationRequired(c.source)
		}
		return fmt.Errorf("%w: %v", errAuthenticationRequired, err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := c.opts.dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		c.setState(failState)
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			if via != StateExpiring && c.handlers.OnAuthenticationRequired != nil {
				c.handlers.OnAuthenticationRequired(c.source)
			}
			return fmt.Errorf("%w: handshake rejected with %s", errAuthenticationRequired, resp.Status)
		}
		return fmt.Errorf("%s transcription: dial failed: %w", c.source, err)
	}

	begin := SessionBegin{
		Type:           MessageSessionBegin,
		Language:       c.opts.language,
		InterimResults: c.opts.interimResults,
		MaxLatencyMs:   c.opts.maxLatencyMs,
	}
	if err := conn.WriteJSON(begin); err != nil {
		conn.Close()
		c.setState(failState)
		return fmt.Errorf("%s transcription: session.begin failed: %w", c.source, err)
	}

	c.install(ctx, conn, uuid.NewString())
	return nil
}

// install swaps the live connection under the write lock so in-flight audio
// lands on exactly one of old/new, then spins up the per-connection loops.
func (c *Client) install(ctx context.Context, conn *websocket.Conn, sessionID string) {
	c.writeMu.Lock()
	old := c.conn
	c.conn = conn
	c.writeMu.Unlock()

	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()

	if old != nil {
		old.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		old.Close()
	}

	c.setState(StateConnected)
	utils.Go(ctx, func() { c.receiveLoop(ctx, conn, sessionID) })
	utils.Go(ctx, func() { c.keepalive(ctx, sessionID) })
	c.armRenewal(ctx, sessionID)
}

func (c *Client) receiveLoop(ctx context.Context, conn *websocket.Conn, sessionID string) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			// A read error after Stop is the drain deadline expiring on an
			// already-ended session, not a stream failure.
			if ctx.Err() != nil || !c.current(sessionID) || c.isStopped() {
				return
			}
			c.disconnected(ctx, err)
			return
		}
		var msg ServerMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warnf("%s transcription: undecodable frame: %v", c.source, err)
			continue
		}
		if !c.current(sessionID) {
			return
		}
		c.dispatch(ctx, msg)
	}
}

func (c *Client) dispatch(ctx context.Context, msg ServerMessage) {
	switch msg.Type {
	case MessageTranscriptDelta:
		if c.handlers.OnTranscriptDelta != nil {
			c.handlers.OnTranscriptDelta(c.source, msg.Text, msg.Language)
		}
	case MessageUtteranceEnd:
		if c.handlers.OnUtteranceEnd != nil {
			c.handlers.OnUtteranceEnd(c.source, msg.Text)
		}
	case MessageSessionAck:
		c.logger.Debugf("%s transcription: session acknowledged: %s", c.source, msg.SessionID)
	case MessageError:
		c.serviceError(ctx, msg)
	default:
		c.logger.Debugf("%s transcription: ignoring message type %q", c.source, msg.Type)
	}
}

func (c *Client) serviceError(ctx context.Context, msg ServerMessage) {
	err := fmt.Errorf("transcription service error %s: %s", msg.Code, msg.Message)
	switch ClassifyReason(msg.Code, msg.Message) {
	case ClassSessionExpired:
		c.expired(ctx)
	case ClassAuthentication:
		c.setState(StateDisconnected)
		if c.handlers.OnAuthenticationRequired != nil {
			c.handlers.OnAuthenticationRequired(c.source)
		}
	default:
		c.logger.Errorf("%s transcription: %v", c.source, err)
		if c.handlers.OnError != nil {
			c.handlers.OnError(c.source, err)
		}
	}
}

// disconnected routes a dead connection through the reconnect policy. After
// Stop the connection is supposed to die; nothing here may run then.
func (c *Client) disconnected(ctx context.Context, err error) {
	if c.isStopped() {
		return
	}
	switch Classify(err) {
	case ClassSessionExpired:
		c.expired(ctx)
	case ClassRetryable:
		c.logger.Warnf("%s transcription: stream lost (%v), reconnecting in %s", c.source, err, c.opts.reconnectDelay)
		c.setState(StateReconnecting)
		c.scheduleReconnect(ctx, c.opts.reconnectDelay)
	case ClassAuthentication:
		c.logger.Errorf("%s transcription: credential rejected: %v", c.source, err)
		c.setState(StateDisconnected)
		if c.handlers.OnAuthenticationRequired != nil {
			c.handlers.OnAuthenticationRequired(c.source)
		}
	default:
		c.logger.Errorf("%s transcription: unrecoverable stream failure: %v", c.source, err)
		c.setState(StateDisconnected)
		if c.handlers.OnError != nil {
			c.handlers.OnError(c.source, err)
		}
	}
}

// expired handles the service rotating the session out: reconnect right away
// and show only a short-lived notice.
func (c *Client) expired(ctx context.Context) {
	c.logger.Infof("%s transcription: session expired, reconnecting", c.source)
	c.transient("Transcription reconnecting")
	c.setState(StateReconnecting)
	c.scheduleReconnect(ctx, 0)
}

func (c *Client) scheduleReconnect(ctx context.Context, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	stopTimer(c.reconnectTimer)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		err := c.connect(ctx, StateReconnecting)
		if err == nil || errors.Is(err, errAuthenticationRequired) {
			return
		}
		if Classify(err) == ClassRetryable {
			c.scheduleReconnect(ctx, c.opts.reconnectDelay)
			return
		}
		if c.handlers.OnError != nil {
			c.handlers.OnError(c.source, err)
		}
	})
}

// transient shows a notice that clears itself after the configured window.
func (c *Client) transient(message string) {
	if c.handlers.OnTransient == nil {
		return
	}
	c.handlers.OnTransient(c.source, message)
	c.mu.Lock()
	stopTimer(c.transientTimer)
	c.transientTimer = time.AfterFunc(c.opts.transientClear, func() {
		c.handlers.OnTransient(c.source, "")
	})
	c.mu.Unlock()
}

func (c *Client) keepalive(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(c.opts.keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.current(sessionID) {
				return
			}
			c.writeMu.Lock()
			conn := c.conn
			var err error
			if conn != nil {
				err = conn.WriteJSON(Ping{Type: MessagePing})
			}
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warnf("%s transcription: keepalive failed: %v", c.source, err)
			}
		}
	}
}

// armRenewal schedules the proactive connection replacement. The swap happens
// under the write lock, so audio keeps flowing to whichever connection is
// live and the user never sees an error.
func (c *Client) armRenewal(ctx context.Context, sessionID string) {
	c.mu.Lock()
	stopTimer(c.renewTimer)
	c.renewTimer = time.AfterFunc(c.opts.renewAfter, func() {
		if ctx.Err() != nil || !c.current(sessionID) {
			return
		}
		c.logger.Infof("%s transcription: renewing connection before session ceiling", c.source)
		if err := c.connect(ctx, StateExpiring); err != nil {
			// The old connection is still installed; its read error will
			// route through the normal reconnect policy.
			c.logger.Warnf("%s transcription: renewal failed: %v", c.source, err)
		}
	})
	c.mu.Unlock()
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Client) current(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID == sessionID
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()
	if c.handlers.OnStateChange != nil {
		c.handlers.OnStateChange(c.source, state)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
