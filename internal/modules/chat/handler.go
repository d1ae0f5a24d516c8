package chat

import (
	"encoding/json"
	"net/http"
	"time"
	"unicode/utf8"

	"fitstudio/internal/apperror"
	"fitstudio/internal/domain/user"
	"fitstudio/internal/middleware"
	"fitstudio/internal/modules/entitlement"
	"fitstudio/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 8 << 10
)

type Handler struct {
	hub      *Hub
	auth     *middleware.Authenticator
	upgrader websocket.Upgrader
	log      *zap.Logger
	now      func() time.Time
	member   gin.HandlerFunc
}

// NewHandler builds the chat endpoint. origins lists the browser origins
// allowed to open a socket; an empty list allows same-origin only.
func NewHandler(hub *Hub, auth *middleware.Authenticator, origins []string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	h := &Handler{hub: hub, auth: auth, log: log, now: time.Now}
	h.member = entitlement.Require(entitlement.Subscription(), func() time.Time { return h.now() })
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed[origin] {
				return true
			}
			return origin == "http://"+r.Host || origin == "https://"+r.Host
		},
	}
	return h
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws/chat", h.authenticate, h.authorize, h.Connect)
}

// authenticate accepts the bearer from ?token= (browsers cannot set headers
// on a websocket handshake) or the Authorization header.
func (h *Handler) authenticate(c *gin.Context) {
	raw := c.Query("token")
	if raw == "" {
		raw, _ = middleware.BearerFromHeader(c.GetHeader("Authorization"))
	}
	if raw == "" {
		response.Abort(c, apperror.KindUnauthenticated, "Token is required")
		return
	}
	u, err := h.auth.Resolve(c.Request.Context(), raw)
	if err != nil {
		response.FromError(c, err)
		return
	}
	middleware.SetCurrentUser(c, u)
	c.Next()
}

// authorize lets staff in by role and members by subscription.
func (h *Handler) authorize(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)
	if u != nil && u.Role.Satisfies(user.RoleTrainer) {
		c.Next()
		return
	}
	h.member(c)
}

// Connect upgrades to a websocket and relays messages.
// @Summary		Chat socket
// @Description	Opens the studio chat. Members need an active subscription; trainers and admins always connect.
// @Tags		Chat
// @Param		token	query	string	false	"session bearer, if not sent in the Authorization header"
// @Success		101	{string}	string	"switching protocols"
// @Failure		401	{object}	map[string]interface{}	"unauthenticated"
// @Failure		403	{object}	map[string]interface{}	"forbidden"
// @Router		/ws/chat [GET]
func (h *Handler) Connect(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		response.FromError(c, apperror.Unauthenticated())
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("user_id", u.ID), zap.Error(err))
		return
	}

	cl := h.hub.Register(u.ID, conn)
	h.log.Info("chat connected", zap.String("user_id", u.ID), zap.Int("online", h.hub.OnlineCount()))

	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.Unregister(u.ID, cl)
		h.log.Info("chat disconnected", zap.String("user_id", u.ID))
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.pingLoop(cl, done)
	_ = cl.writeJSON(Event{Type: EventReady, At: h.now().UTC()})
	h.readLoop(cl, u)
}

func (h *Handler) pingLoop(cl *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			cl.writeMu.Lock()
			err := cl.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cl.writeWait))
			cl.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (h *Handler) readLoop(cl *client, u *user.User) {
	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("chat read error", zap.String("user_id", u.ID), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = cl.writeJSON(newErrorEvent("INVALID_JSON", "Failed to parse message", h.now().UTC()))
			continue
		}

		switch msg.Type {
		case EventMessage:
			h.relay(cl, u, msg)
		case "ping":
			_ = cl.writeJSON(Event{Type: EventPong, At: h.now().UTC()})
		default:
			_ = cl.writeJSON(newErrorEvent("UNKNOWN_TYPE", "Unknown message type", h.now().UTC()))
		}
	}
}

func (h *Handler) relay(cl *client, from *user.User, msg ClientMessage) {
	now := h.now().UTC()
	if !user.ValidID(msg.To) || msg.To == from.ID {
		_ = cl.writeJSON(newErrorEvent("INVALID_RECIPIENT", "Unknown recipient", now))
		return
	}
	if msg.Text == "" || utf8.RuneCountInString(msg.Text) > MaxTextLength {
		_ = cl.writeJSON(newErrorEvent("INVALID_TEXT", "Message text is empty or too long", now))
		return
	}

	evt := newMessageEvent(from.ID, msg.To, msg.Text, now)
	delivered := h.hub.SendToUser(msg.To, evt)
	evt.Online = &delivered
	_ = cl.writeJSON(evt)
}
