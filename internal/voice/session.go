// ABOUTME: Voice session: waits for both gateway preconditions, then runs the
// ABOUTME: voice WebSocket handshake through SESSION_DESCRIPTION and beyond.

package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/chord/internal/event"
)

// ErrHandshake indicates the voice server violated the expected
// handshake sequence.
var ErrHandshake = errors.New("voice: handshake violation")

// Config carries everything a voice session needs to connect. SessionID,
// Endpoint and Token arrive later via the Handle* methods.
type Config struct {
	GuildID string
	UserID  string

	Registry *event.Registry
	Logger   *slog.Logger
	Dialer   *websocket.Dialer
}

// Session is one voice server connection: the control WebSocket plus the
// UDP media transport it negotiates.
type Session struct {
	cfg    Config
	logger *slog.Logger
	dialer *websocket.Dialer

	// Both channels close exactly once, when the text gateway delivers
	// the matching dispatch.
	stateOnce  sync.Once
	stateReady chan struct{}
	serverOnce sync.Once
	serverOK   chan struct{}

	mu        sync.Mutex
	sessionID string
	endpoint  string
	token     string
	conn      *websocket.Conn
	transport *Transport
	ssrc      uint32
	cancel    context.CancelFunc
	closed    bool

	writeMu sync.Mutex

	users *userTable
}

// NewSession builds a voice session. It does not connect; Connect blocks
// until both gateway dispatches have been handed over.
func NewSession(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Session{
		cfg:        cfg,
		logger:     logger.With("component", "voice", "guild", cfg.GuildID),
		dialer:     dialer,
		stateReady: make(chan struct{}),
		serverOK:   make(chan struct{}),
		users:      newUserTable(),
	}
}

// HandleVoiceStateUpdate records the session id from the text gateway's
// VOICE_STATE_UPDATE dispatch. Only the first call counts.
func (s *Session) HandleVoiceStateUpdate(sessionID string) {
	s.stateOnce.Do(func() {
		s.mu.Lock()
		s.sessionID = sessionID
		s.mu.Unlock()
		close(s.stateReady)
	})
}

// HandleVoiceServerUpdate records the endpoint and token from the text
// gateway's VOICE_SERVER_UPDATE dispatch. Only the first call counts.
func (s *Session) HandleVoiceServerUpdate(endpoint, token string) {
	s.serverOnce.Do(func() {
		s.mu.Lock()
		s.endpoint = endpoint
		s.token = token
		s.mu.Unlock()
		close(s.serverOK)
	})
}

// Transport returns the negotiated UDP transport, nil before the
// handshake completes.
func (s *Session) Transport() *Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// SSRC returns our own media source id from READY.
func (s *Session) SSRC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ssrc
}

// User resolves an inbound SSRC to the user id speaking on it.
func (s *Session) User(ssrc uint32) (string, bool) { return s.users.user(ssrc) }

// UserSSRC resolves a user id to their media source id.
func (s *Session) UserSSRC(userID string) (uint32, bool) { return s.users.ssrc(userID) }

// Connect waits for both gateway dispatches, dials the voice socket and
// runs the handshake to completion. On return the Transport is live and
// the session's read loop owns the socket.
func (s *Session) Connect(ctx context.Context) error {
	for _, ch := range []<-chan struct{}{s.stateReady, s.serverOK} {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	endpoint, token, sessionID := s.endpoint, s.token, s.sessionID
	s.mu.Unlock()

	url := voiceURL(endpoint)
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dialing voice gateway: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.closed = false
	s.mu.Unlock()

	if err := s.send(outFrame{Op: OpIdentify, D: identifyPayload{
		ServerID:  s.cfg.GuildID,
		UserID:    s.cfg.UserID,
		SessionID: sessionID,
		Token:     token,
	}}); err != nil {
		conn.Close()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	// The handshake phase consumes frames inline until the session
	// description yields the secret key; everything after belongs to
	// the read loop.
	if err := s.handshake(ctx, loopCtx, conn); err != nil {
		cancel()
		conn.Close()
		return err
	}

	go s.readLoop(loopCtx, conn)
	s.logger.Info("voice connected", "endpoint", endpoint)
	return nil
}

// handshake processes frames until SESSION_DESCRIPTION arrives. HELLO
// starts the heartbeat loop; READY triggers IP discovery and protocol
// selection.
func (s *Session) handshake(ctx, loopCtx context.Context, conn *websocket.Conn) error {
	deadline, ok := ctx.Deadline()
	if ok {
		conn.SetReadDeadline(deadline)
		defer conn.SetReadDeadline(time.Time{})
	}

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("reading voice frame: %w", err)
		}

		switch f.Op {
		case OpHello:
			var hello helloPayload
			if err := json.Unmarshal(f.D, &hello); err != nil {
				return fmt.Errorf("%w: malformed HELLO", ErrHandshake)
			}
			interval := time.Duration(hello.HeartbeatInterval * float64(time.Millisecond))
			go s.heartbeatLoop(loopCtx, interval)

		case OpReady:
			var ready readyPayload
			if err := json.Unmarshal(f.D, &ready); err != nil {
				return fmt.Errorf("%w: malformed READY", ErrHandshake)
			}
			if err := s.negotiate(ready); err != nil {
				return err
			}

		case OpSessionDescription:
			var desc sessionDescriptionPayload
			if err := json.Unmarshal(f.D, &desc); err != nil {
				return fmt.Errorf("%w: malformed SESSION_DESCRIPTION", ErrHandshake)
			}
			c, err := newCipher(desc.Mode, desc.SecretKey)
			if err != nil {
				return err
			}
			s.mu.Lock()
			t := s.transport
			s.mu.Unlock()
			if t == nil {
				return fmt.Errorf("%w: SESSION_DESCRIPTION before READY", ErrHandshake)
			}
			t.setCipher(c)
			s.logger.Debug("media key established", "mode", desc.Mode)
			return nil

		case OpHeartbeatACK:
			// possible if the interval is short; fine either way

		default:
			s.logger.Debug("ignoring handshake frame", "op", f.Op)
		}
	}
}

// negotiate dials the UDP socket from READY, discovers our external
// address, and answers with SELECT_PROTOCOL.
func (s *Session) negotiate(ready readyPayload) error {
	t, err := dialTransport(ready.IP, ready.Port, ready.SSRC)
	if err != nil {
		return fmt.Errorf("dialing voice transport: %w", err)
	}

	ip, port, err := t.Discover()
	if err != nil {
		t.Close()
		return fmt.Errorf("ip discovery: %w", err)
	}

	mode, err := selectMode(ready.Modes)
	if err != nil {
		t.Close()
		return err
	}

	s.mu.Lock()
	s.transport = t
	s.ssrc = ready.SSRC
	s.mu.Unlock()

	s.logger.Debug("discovered external address", "ip", ip, "port", port, "mode", mode)
	return s.send(outFrame{Op: OpSelectProtocol, D: selectProtocolPayload{
		Protocol: "udp",
		Data:     selectProtocolData{Address: ip, Port: port, Mode: mode},
	}})
}

// Speak announces our speaking state before any media is sent.
func (s *Session) Speak(state int) error {
	s.mu.Lock()
	ssrc := s.ssrc
	s.mu.Unlock()

	return s.send(outFrame{Op: OpSpeaking, D: speakingPayload{
		Speaking: state,
		Delay:    0,
		SSRC:     ssrc,
	}})
}

func (s *Session) send(f outFrame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("voice: not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func (s *Session) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			nonce := time.Now().UnixMilli()
			if err := s.send(outFrame{Op: OpHeartbeat, D: nonce}); err != nil {
				s.logger.Debug("voice heartbeat write failed", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop maintains the SSRC table and forwards speaking and presence
// events to the registry until the socket closes.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() == nil {
				s.logger.Info("voice socket closed", "error", err)
			}
			return
		}

		switch f.Op {
		case OpSpeaking:
			var ev speakingEvent
			if err := json.Unmarshal(f.D, &ev); err != nil {
				continue
			}
			s.users.set(ev.UserID, ev.SSRC)
			s.dispatch(event.SpeakingUpdate, f.D)

		case OpClientConnect:
			var ev clientConnectEvent
			if err := json.Unmarshal(f.D, &ev); err != nil {
				continue
			}
			s.users.set(ev.UserID, ev.AudioSSRC)
			s.dispatch(event.VoiceClientConnect, f.D)

		case OpClientDisconnect:
			var ev clientDisconnectEvent
			if err := json.Unmarshal(f.D, &ev); err != nil {
				continue
			}
			s.users.removeUser(ev.UserID)
			s.dispatch(event.VoiceClientDisconnect, f.D)

		case OpHeartbeatACK:
			// nothing to track; latency lives on the text gateway

		default:
			s.logger.Debug("ignoring voice frame", "op", f.Op)
		}
	}
}

func (s *Session) dispatch(tag event.Tag, d json.RawMessage) {
	if s.cfg.Registry != nil {
		s.cfg.Registry.Dispatch(tag, d)
	}
}

// Close shuts down the control socket and the media transport. It is
// idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	conn := s.conn
	transport := s.transport
	s.cancel = nil
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if transport != nil {
		transport.Close()
	}
	s.logger.Info("voice session closed")
	return nil
}

// voiceURL normalizes a VOICE_SERVER_UPDATE endpoint into a dialable
// websocket URL. Endpoints sometimes carry a port suffix.
func voiceURL(endpoint string) string {
	endpoint = strings.TrimSuffix(endpoint, ":80")
	if !strings.Contains(endpoint, "://") {
		endpoint = "wss://" + endpoint
	}
	return endpoint + "/?v=4"
}
