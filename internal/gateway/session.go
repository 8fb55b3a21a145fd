// ABOUTME: Gateway session state machine: identify, heartbeat, resume, dispatch demux
// ABOUTME: Runs exactly one heartbeat loop and one read loop per active session

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/chord/internal/event"
)

// ErrProtocol indicates the server violated the expected handshake,
// e.g. a first frame that is not HELLO.
var ErrProtocol = errors.New("gateway: protocol violation")

// ErrAlreadyConnected indicates Connect was called on a live session.
var ErrAlreadyConnected = errors.New("gateway: session already connected")

// State is the connection state of a session.
type State int32

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentifying
	StateConnected
	StateResuming
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdentifying:
		return "identifying"
	case StateConnected:
		return "connected"
	case StateResuming:
		return "resuming"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config carries everything a session needs to connect.
type Config struct {
	Token      string
	Intents    int
	GatewayURL string

	// ShardCount of zero means unsharded; otherwise identify carries
	// [ShardID, ShardCount].
	ShardID    int
	ShardCount int

	Registry *event.Registry
	Logger   *slog.Logger
	Dialer   *websocket.Dialer

	// OnDisconnect runs after the session ends because the socket
	// closed. Reconnection policy belongs to the owner; server-driven
	// RECONNECT and INVALID_SESSION are handled internally.
	OnDisconnect func(err error)
}

// Session is one gateway WebSocket connection. It is owned exclusively
// by its coordinator, or by the client when unsharded.
type Session struct {
	cfg    Config
	logger *slog.Logger
	dialer *websocket.Dialer

	state atomic.Int32
	seq   atomic.Int64

	mu                sync.Mutex
	conn              *websocket.Conn
	sessionID         string
	heartbeatInterval time.Duration
	cancel            context.CancelFunc
	closed            bool

	writeMu sync.Mutex

	lastAck       atomic.Int64 // unix nanos of last HEARTBEAT_ACK
	lastHeartbeat atomic.Int64 // unix nanos of last HEARTBEAT sent
	latency       atomic.Int64 // nanos between heartbeat and ack
}

// NewSession builds a session from config. It does not connect.
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
		cfg:    cfg,
		logger: logger.With("component", "gateway", "shard", cfg.ShardID),
		dialer: dialer,
	}
}

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

// Sequence returns the last dispatch sequence number observed.
func (s *Session) Sequence() int64 { return s.seq.Load() }

// SessionID returns the session id captured from READY, if any.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Latency returns the delay between the last heartbeat and its ack.
func (s *Session) Latency() time.Duration {
	return time.Duration(s.latency.Load())
}

// Connect dials the gateway, performs the HELLO/IDENTIFY handshake and
// starts the heartbeat and read loops. It returns once the session is
// connected; dispatch happens on the session's own goroutines.
func (s *Session) Connect(ctx context.Context) error {
	if s.State() == StateConnected {
		return ErrAlreadyConnected
	}
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
	return s.connect(ctx, false)
}

// connect runs the shared dial path. With resume set it sends RESUME
// instead of IDENTIFY after consuming HELLO.
func (s *Session) connect(ctx context.Context, resume bool) error {
	s.setState(StateConnecting)

	conn, _, err := s.dialer.DialContext(ctx, s.cfg.GatewayURL, nil)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("dialing gateway: %w", err)
	}

	if resume {
		s.setState(StateResuming)
	} else {
		s.setState(StateIdentifying)
	}

	// The first inbound frame must be HELLO; identifying before the
	// heartbeat interval is known is a protocol violation.
	var hello frame
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		s.setState(StateDisconnected)
		return fmt.Errorf("reading HELLO: %w", err)
	}
	if hello.Op != OpHello {
		conn.Close()
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: expected HELLO, got op %d", ErrProtocol, hello.Op)
	}

	var payload helloPayload
	if err := json.Unmarshal(hello.D, &payload); err != nil {
		conn.Close()
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: malformed HELLO payload", ErrProtocol)
	}
	interval := time.Duration(payload.HeartbeatInterval * float64(time.Millisecond))

	s.mu.Lock()
	s.conn = conn
	s.heartbeatInterval = interval
	s.mu.Unlock()

	if resume {
		err = s.sendResume()
	} else {
		err = s.sendIdentify()
	}
	if err != nil {
		conn.Close()
		s.setState(StateDisconnected)
		return err
	}

	s.startLoops(conn, interval)
	s.setState(StateConnected)
	s.logger.Info("gateway connected",
		"heartbeat_interval", interval,
		"resumed", resume,
	)
	return nil
}

func (s *Session) sendIdentify() error {
	payload := identifyPayload{
		Token:   s.cfg.Token,
		Intents: s.cfg.Intents,
		Properties: identifyProperties{
			OS:      runtime.GOOS,
			Browser: "chord",
			Device:  "chord",
		},
	}
	if s.cfg.ShardCount > 0 {
		payload.Shard = &[2]int{s.cfg.ShardID, s.cfg.ShardCount}
	}
	return s.send(outFrame{Op: OpIdentify, D: payload})
}

func (s *Session) sendResume() error {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	return s.send(outFrame{Op: OpResume, D: resumePayload{
		Token:     s.cfg.Token,
		SessionID: sessionID,
		Seq:       s.seq.Load(),
	}})
}

// UpdateVoiceState sends an op=4 voice state update on the text
// gateway. A nil channelID leaves the current voice channel.
func (s *Session) UpdateVoiceState(guildID string, channelID *string, selfMute, selfDeaf bool) error {
	return s.send(outFrame{Op: OpVoiceStateUpdate, D: voiceStateUpdatePayload{
		GuildID:   guildID,
		ChannelID: channelID,
		SelfMute:  selfMute,
		SelfDeaf:  selfDeaf,
	}})
}

// send serializes writes; the heartbeat loop and callers share one
// socket writer.
func (s *Session) send(f outFrame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("gateway: not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(f)
}

// startLoops launches the heartbeat and read loops bound to a shared
// context so leaving the connected state cancels both together.
func (s *Session) startLoops(conn *websocket.Conn, interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.heartbeatLoop(ctx, interval)
	go s.readLoop(ctx, conn)
}

func (s *Session) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			seq := s.seq.Load()
			if err := s.send(outFrame{Op: OpHeartbeat, D: seq}); err != nil {
				s.logger.Debug("heartbeat write failed", "error", err)
				return
			}
			s.lastHeartbeat.Store(time.Now().UnixNano())
			s.logger.Debug("heartbeat sent", "seq", seq)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			s.teardown(StateDisconnected)
			if ctx.Err() == nil {
				s.logger.Info("gateway socket closed", "error", err)
				if s.cfg.OnDisconnect != nil {
					s.cfg.OnDisconnect(err)
				}
			}
			return
		}

		switch f.Op {
		case OpDispatch:
			s.handleDispatch(f)

		case OpHeartbeatACK:
			now := time.Now().UnixNano()
			s.lastAck.Store(now)
			if sent := s.lastHeartbeat.Load(); sent > 0 {
				s.latency.Store(now - sent)
			}
			s.logger.Debug("heartbeat acknowledged")

		case OpReconnect:
			s.logger.Info("server requested reconnect")
			go s.reconnect(true)
			return

		case OpInvalidSession:
			s.logger.Info("session invalidated, re-identifying")
			go s.reconnect(false)
			return

		default:
			s.logger.Debug("ignoring frame", "op", f.Op)
		}
	}
}

func (s *Session) handleDispatch(f frame) {
	if f.S > 0 {
		s.seq.Store(f.S)
	}

	if f.T == string(event.Ready) {
		var ready readyPayload
		if err := json.Unmarshal(f.D, &ready); err == nil {
			s.mu.Lock()
			s.sessionID = ready.SessionID
			s.mu.Unlock()
		}
	}

	tag, known := event.Lookup(f.T)
	if !known {
		s.logger.Debug("ignoring unknown event", "event", f.T)
		return
	}
	if s.cfg.Registry != nil {
		s.cfg.Registry.Dispatch(tag, f.D)
	}
}

// reconnect tears the session down and restarts from Connecting. The
// resume path is only taken when a READY previously captured a session
// id; otherwise a fresh IDENTIFY is sent.
func (s *Session) reconnect(resume bool) {
	s.teardown(StateReconnecting)

	resume = resume && s.SessionID() != ""
	if err := s.connect(context.Background(), resume); err != nil {
		s.logger.Error("reconnect failed", "error", err, "resume", resume)
		s.setState(StateDisconnected)
		if s.cfg.OnDisconnect != nil {
			s.cfg.OnDisconnect(err)
		}
	}
}

// teardown cancels both loops and closes the socket. Closing an
// already-closed session is a no-op.
func (s *Session) teardown(next State) {
	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	s.cancel = nil
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	s.setState(next)
}

// Close shuts the session down. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.teardown(StateDisconnected)
	s.logger.Info("gateway session closed")
	return nil
}

func (s *Session) setState(state State) {
	prev := State(s.state.Swap(int32(state)))
	if prev != state {
		s.logger.Debug("state change", "from", prev.String(), "to", state.String())
	}
}
