package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/platform/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ClientMessage is an inbound frame from a websocket client.
//
//	{"action":"send","data":{"receiver_id":"...","content":"hi"}}
//	{"action":"typing","data":{"receiver_id":"..."}}
type ClientMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type typingPayload struct {
	ReceiverID uuid.UUID `json:"receiver_id"`
	Typing     *bool     `json:"typing,omitempty"`
}

// TokenParser resolves the bearer token passed in the query string.
type TokenParser interface {
	Parse(token string) (*auth.Principal, error)
}

// MessageSender persists a message sent over the socket and returns the
// stored message, which is echoed back to the sender as an ack.
type MessageSender interface {
	SendFromSocket(ctx context.Context, sender *auth.Principal, payload json.RawMessage) (interface{}, error)
}

// Handler upgrades authenticated requests and runs the read/write pumps.
type Handler struct {
	hub      *Hub
	tokens   TokenParser
	sender   MessageSender
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler builds a handler. An empty allowedOrigins accepts any origin.
func NewHandler(hub *Hub, tokens TokenParser, sender MessageSender, allowedOrigins []string, logger zerolog.Logger) *Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Handler{
		hub:    hub,
		tokens: tokens,
		sender: sender,
		logger: logger,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin]
			},
		},
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.HandleConnect)
}

// HandleConnect authenticates ?token= (or an Authorization header) and
// upgrades the connection.
func (h *Handler) HandleConnect(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		token, _ = auth.BearerToken(c.Request().Header.Get("Authorization"))
	}
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	p, err := h.tokens.Parse(token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(p.UserID)
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, p, ws)
	return nil
}

func (h *Handler) readPump(client *Client, p *auth.Principal, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("client_id", client.ID).Msg("websocket read failed")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.replyError(client, "malformed message")
			continue
		}
		h.ProcessMessage(context.Background(), client, p, msg)
	}
}

// ProcessMessage dispatches one inbound frame.
func (h *Handler) ProcessMessage(ctx context.Context, client *Client, p *auth.Principal, msg ClientMessage) {
	switch msg.Action {
	case "send":
		if h.sender == nil {
			h.replyError(client, "sending is not supported")
			return
		}
		stored, err := h.sender.SendFromSocket(ctx, p, msg.Data)
		if err != nil {
			h.replyError(client, err.Error())
			return
		}
		if evt, err := NewEvent(EventAck, UserTopic(p.UserID), "message", "", stored); err == nil {
			h.hub.SendTo(client, evt)
		}
	case "typing":
		var t typingPayload
		if err := json.Unmarshal(msg.Data, &t); err != nil || t.ReceiverID == uuid.Nil {
			h.replyError(client, "typing requires receiver_id")
			return
		}
		typing := t.Typing == nil || *t.Typing
		evt, err := NewEvent(EventTyping, UserTopic(t.ReceiverID), "user", p.UserID.String(),
			map[string]interface{}{"sender_id": p.UserID, "typing": typing})
		if err == nil {
			h.hub.Broadcast(evt.Topic, evt)
		}
	case "ping":
		if evt, err := NewEvent("pong", UserTopic(p.UserID), "", "", nil); err == nil {
			h.hub.SendTo(client, evt)
		}
	default:
		h.replyError(client, "unknown action: "+msg.Action)
	}
}

func (h *Handler) replyError(client *Client, message string) {
	evt, err := NewEvent(EventError, UserTopic(client.UserID), "", "", map[string]string{"message": message})
	if err == nil {
		h.hub.SendTo(client, evt)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
