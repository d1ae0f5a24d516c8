package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fitstudio/internal/domain/user"
	"fitstudio/internal/middleware"
	"fitstudio/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "chat-test-secret-32-bytes-long!!"
	memberID   = "65a1f0c2e4b0a1b2c3d4e5f6"
	trainerID  = "65a1f0c2e4b0a1b2c3d4e5f7"
	lapsedID   = "65a1f0c2e4b0a1b2c3d4e5f8"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type users map[string]*user.User

func (u users) FindByID(_ context.Context, id string) (*user.User, error) {
	found, ok := u[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

type fixture struct {
	server *httptest.Server
	tokens *token.Service
	hub    *Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Now()
	store := users{
		memberID: {ID: memberID, Role: user.RoleUser, ActiveSubscription: &user.Subscription{
			Status:           user.StatusActive,
			CurrentPeriodEnd: now.Add(24 * time.Hour),
		}},
		trainerID: {ID: trainerID, Role: user.RoleTrainer},
		lapsedID: {ID: lapsedID, Role: user.RoleUser, ActiveSubscription: &user.Subscription{
			Status:           user.StatusPastDue,
			CurrentPeriodEnd: now.Add(24 * time.Hour),
		}},
	}
	tokens := token.NewService(testSecret, time.Hour, 0)
	hub := NewHub()

	r := gin.New()
	NewHandler(hub, middleware.NewAuthenticator(tokens, store, nil), nil, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &fixture{server: srv, tokens: tokens, hub: hub}
}

func (f *fixture) bearer(t *testing.T, id string, role user.Role) string {
	t.Helper()
	tok, _, err := f.tokens.Issue(id, string(role), 0)
	require.NoError(t, err)
	return tok
}

func (f *fixture) dial(t *testing.T, tok string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/chat?token=" + tok
	return websocket.DefaultDialer.Dial(url, nil)
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt Event
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func connect(t *testing.T, f *fixture, id string, role user.Role) *websocket.Conn {
	t.Helper()
	conn, _, err := f.dial(t, f.bearer(t, id, role))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	assert.Equal(t, EventReady, readEvent(t, conn).Type)
	return conn
}

func TestConnect_Access(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage token", "abc.def.ghi", http.StatusUnauthorized},
		{"lapsed subscription", f.bearer(t, lapsedID, user.RoleUser), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := f.dial(t, tt.token)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestConnect_HeaderBearer(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/chat"
	header := http.Header{"Authorization": {"Bearer " + f.bearer(t, trainerID, user.RoleTrainer)}}

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, EventReady, readEvent(t, conn).Type)
}

func TestRelay(t *testing.T) {
	f := newFixture(t)
	member := connect(t, f, memberID, user.RoleUser)
	trainer := connect(t, f, trainerID, user.RoleTrainer)

	require.NoError(t, member.WriteJSON(ClientMessage{Type: EventMessage, To: trainerID, Text: "Is the 7am class full?"}))

	got := readEvent(t, trainer)
	assert.Equal(t, EventMessage, got.Type)
	assert.Equal(t, memberID, got.From)
	assert.Equal(t, "Is the 7am class full?", got.Text)

	echo := readEvent(t, member)
	require.NotNil(t, echo.Online)
	assert.True(t, *echo.Online)
}

func TestRelay_Errors(t *testing.T) {
	f := newFixture(t)
	member := connect(t, f, memberID, user.RoleUser)

	require.NoError(t, member.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "INVALID_JSON", readEvent(t, member).Code)

	require.NoError(t, member.WriteJSON(ClientMessage{Type: EventMessage, To: memberID, Text: "me"}))
	assert.Equal(t, "INVALID_RECIPIENT", readEvent(t, member).Code)

	require.NoError(t, member.WriteJSON(ClientMessage{Type: EventMessage, To: trainerID}))
	assert.Equal(t, "INVALID_TEXT", readEvent(t, member).Code)

	require.NoError(t, member.WriteJSON(ClientMessage{Type: "shout"}))
	assert.Equal(t, "UNKNOWN_TYPE", readEvent(t, member).Code)

	require.NoError(t, member.WriteJSON(ClientMessage{Type: "ping"}))
	assert.Equal(t, EventPong, readEvent(t, member).Type)

	require.NoError(t, member.WriteJSON(ClientMessage{Type: EventMessage, To: trainerID, Text: "anyone?"}))
	echo := readEvent(t, member)
	require.NotNil(t, echo.Online)
	assert.False(t, *echo.Online)
}

func TestHub_ReplacesConnection(t *testing.T) {
	f := newFixture(t)
	first := connect(t, f, trainerID, user.RoleTrainer)
	connect(t, f, trainerID, user.RoleTrainer)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 1, f.hub.OnlineCount())
	assert.True(t, f.hub.IsOnline(trainerID))
}

func TestHub_StalledPeerTimesOut(t *testing.T) {
	hub := NewHub()
	hub.writeWait = 100 * time.Millisecond

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(memberID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	// The peer never reads, so the socket buffers eventually fill.
	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })
	require.Eventually(t, func() bool { return hub.IsOnline(memberID) }, 2*time.Second, 10*time.Millisecond)

	payload := Event{Type: EventMessage, From: trainerID, Text: strings.Repeat("x", 64<<10)}
	give := time.Now().Add(10 * time.Second)
	delivered := true
	for delivered && time.Now().Before(give) {
		start := time.Now()
		delivered = hub.SendToUser(memberID, payload)
		assert.Less(t, time.Since(start), 2*time.Second)
	}

	assert.False(t, delivered)
	assert.False(t, hub.IsOnline(memberID))
}
