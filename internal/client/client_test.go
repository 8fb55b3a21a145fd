// ABOUTME: Tests for the client facade against an in-process stack
// ABOUTME: Covers token validation, shard bring-up and the voice join flow

package client

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chord/internal/event"
	"github.com/2389/chord/internal/voice"
)

type wsFrame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	T  string          `json:"t"`
	S  int64           `json:"s"`
}

// stack is an in-process REST endpoint plus a gateway WebSocket server
// feeding accepted connections to the test.
type stack struct {
	rest    *httptest.Server
	gateway *httptest.Server
	conns   chan *websocket.Conn
}

func newStack(t *testing.T) *stack {
	t.Helper()
	st := &stack{conns: make(chan *websocket.Conn, 4)}

	var upgrader websocket.Upgrader
	st.gateway = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		st.conns <- conn
	}))
	t.Cleanup(st.gateway.Close)

	st.rest = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5")
		w.Header().Set("X-RateLimit-Remaining", "4")
		if r.Method == http.MethodHead {
			return
		}
		switch r.URL.Path {
		case "/users/@me":
			w.Write([]byte(`{"id": "bot-1", "username": "chord"}`))
		case "/gateway/bot":
			json.NewEncoder(w).Encode(map[string]any{
				"url":    st.gatewayURL(),
				"shards": 1,
				"session_start_limit": map[string]any{
					"total": 1000, "remaining": 999, "reset_after": 0, "max_concurrency": 1,
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(st.rest.Close)
	return st
}

func (st *stack) gatewayURL() string {
	return "ws" + strings.TrimPrefix(st.gateway.URL, "http")
}

// accept serves the HELLO/IDENTIFY handshake on the next gateway
// connection and returns it for the test to drive.
func (st *stack) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-st.conns:
		t.Cleanup(func() { conn.Close() })
		require.NoError(t, conn.WriteJSON(map[string]any{
			"op": 10, "d": map[string]any{"heartbeat_interval": 60000.0},
		}))
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var identify wsFrame
		require.NoError(t, conn.ReadJSON(&identify))
		require.Equal(t, 2, identify.Op, "expected IDENTIFY")
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no gateway connection arrived")
		return nil
	}
}

func newTestClient(t *testing.T, st *stack) *Client {
	t.Helper()
	c, err := New(Config{
		Token:   "test-token",
		Intents: 513,
		APIBase: st.rest.URL,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func connect(t *testing.T, st *stack, c *Client) *websocket.Conn {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()
	conn := st.accept(t)
	require.NoError(t, <-done)
	return conn
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestClient_ConnectRejectsBadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5")
		if r.Method == http.MethodHead {
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code": 0, "message": "401: Unauthorized"}`))
	}))
	defer srv.Close()

	c, err := New(Config{Token: "bad", APIBase: srv.URL})
	require.NoError(t, err)

	err = c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestClient_ConnectBringsUpShardAndDispatches(t *testing.T) {
	st := newStack(t)
	c := newTestClient(t, st)

	got := make(chan json.RawMessage, 1)
	c.On(event.MessageCreate, func(d json.RawMessage) { got <- d })

	conn := connect(t, st, c)
	assert.Equal(t, "bot-1", c.UserID())
	require.NotNil(t, c.Shard(0))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"op": 0, "t": "MESSAGE_CREATE", "s": 1,
		"d": map[string]any{"content": "hi"},
	}))

	select {
	case d := <-got:
		assert.Contains(t, string(d), "hi")
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch never reached the handler")
	}
}

func TestClient_OnUniqueDropsReplays(t *testing.T) {
	st := newStack(t)
	c := newTestClient(t, st)

	got := make(chan struct{}, 4)
	c.OnUnique(event.MessageCreate, func(d json.RawMessage) string {
		var m struct {
			ID string `json:"id"`
		}
		json.Unmarshal(d, &m)
		return m.ID
	}, func(json.RawMessage) { got <- struct{}{} })

	conn := connect(t, st, c)

	// same message delivered twice, as after a resume replay
	for i := 0; i < 2; i++ {
		require.NoError(t, conn.WriteJSON(map[string]any{
			"op": 0, "t": "MESSAGE_CREATE", "s": i + 1,
			"d": map[string]any{"id": "msg-1", "content": "hi"},
		}))
	}
	require.NoError(t, conn.WriteJSON(map[string]any{
		"op": 0, "t": "MESSAGE_CREATE", "s": 3,
		"d": map[string]any{"id": "msg-2", "content": "again"},
	}))

	deliveries := 0
	timeout := time.After(time.Second)
	for deliveries < 2 {
		select {
		case <-got:
			deliveries++
		case <-timeout:
			t.Fatal("expected two unique deliveries")
		}
	}
	select {
	case <-got:
		t.Fatal("replayed event must not reach the handler")
	case <-time.After(100 * time.Millisecond):
	}
}

// voiceBackend answers the voice WebSocket handshake and IP discovery.
type voiceBackend struct {
	srv     *httptest.Server
	udpPort int
}

func newVoiceBackend(t *testing.T) *voiceBackend {
	t.Helper()
	vb := &voiceBackend{}

	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { udp.Close() })
	vb.udpPort = udp.LocalAddr().(*net.UDPAddr).Port
	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := udp.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if n != 70 {
				continue
			}
			resp := make([]byte, 70)
			copy(resp[:4], buf[4:8])
			copy(resp[4:], "127.0.0.1")
			binary.BigEndian.PutUint16(resp[68:70], 50000)
			udp.WriteToUDP(resp, from)
		}
	}()

	key := make([]int, 32)
	var upgrader websocket.Upgrader
	vb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var identify wsFrame
		if conn.ReadJSON(&identify) != nil || identify.Op != 0 {
			return
		}
		conn.WriteJSON(map[string]any{"op": 8, "d": map[string]any{"heartbeat_interval": 60000.0}})
		conn.WriteJSON(map[string]any{"op": 2, "d": map[string]any{
			"ssrc": 11, "ip": "127.0.0.1", "port": vb.udpPort,
			"modes": []string{"xsalsa20_poly1305"},
		}})

		var sel wsFrame
		if conn.ReadJSON(&sel) != nil || sel.Op != 1 {
			return
		}
		conn.WriteJSON(map[string]any{"op": 4, "d": map[string]any{
			"mode": "xsalsa20_poly1305", "secret_key": key,
		}})

		// hold the socket open until the client hangs up
		for conn.ReadJSON(&sel) == nil {
		}
	}))
	t.Cleanup(vb.srv.Close)
	return vb
}

func (vb *voiceBackend) endpoint() string {
	return "ws" + strings.TrimPrefix(vb.srv.URL, "http")
}

func TestClient_VoiceConnectAndDisconnect(t *testing.T) {
	st := newStack(t)
	vb := newVoiceBackend(t)
	c := newTestClient(t, st)
	conn := connect(t, st, c)

	type result struct {
		vs  *voice.Session
		err error
	}
	done := make(chan result, 1)
	go func() {
		vs, err := c.VoiceConnect(context.Background(), "100", "200")
		done <- result{vs, err}
	}()

	// the join request goes out on the text gateway first
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var join wsFrame
	require.NoError(t, conn.ReadJSON(&join))
	require.Equal(t, 4, join.Op)
	assert.Contains(t, string(join.D), `"guild_id":"100"`)
	assert.Contains(t, string(join.D), `"channel_id":"200"`)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"op": 0, "t": "VOICE_STATE_UPDATE", "s": 2,
		"d": map[string]any{"guild_id": "100", "user_id": "bot-1", "session_id": "vsess-1", "channel_id": "200"},
	}))
	require.NoError(t, conn.WriteJSON(map[string]any{
		"op": 0, "t": "VOICE_SERVER_UPDATE", "s": 3,
		"d": map[string]any{"guild_id": "100", "token": "vtok", "endpoint": vb.endpoint()},
	}))

	res := <-done
	require.NoError(t, res.err)
	require.NotNil(t, res.vs)
	assert.Same(t, res.vs, c.VoiceSession("100"))

	// joining again reuses the live session
	again, err := c.VoiceConnect(context.Background(), "100", "200")
	require.NoError(t, err)
	assert.Same(t, res.vs, again)

	require.NoError(t, c.VoiceDisconnect("100"))
	assert.Nil(t, c.VoiceSession("100"))

	var leave wsFrame
	require.NoError(t, conn.ReadJSON(&leave))
	require.Equal(t, 4, leave.Op)
	assert.Contains(t, string(leave.D), `"channel_id":null`)
}

func TestShardForGuild(t *testing.T) {
	assert.Equal(t, 0, shardForGuild("anything", 1))
	// snowflake 2^22 lands on shard 1 of 4
	assert.Equal(t, 1, shardForGuild("4194304", 4))
	assert.Equal(t, 0, shardForGuild("not-a-number", 4))
}
