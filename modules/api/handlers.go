package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	domain "github.com/example/realtime-chat-demo/domain/chat"
	"github.com/example/realtime-chat-demo/modules/broadcast"
	"github.com/example/realtime-chat-demo/modules/chat"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// wsTypeTyping is the only frame a WebSocket client sends.
const wsTypeTyping = "typing"

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes(app *fiber.App) {
	// Health check
	app.Get("/health", m.healthHandler)

	// WebSocket endpoint
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(m.handleWebSocket))

	// REST API v1
	api := app.Group("/api/v1")

	api.Get("/view", m.getView)

	// Session
	api.Post("/session", m.createSession)
	api.Patch("/session", m.updateSession)
	api.Delete("/session", m.deleteSession)

	// Rooms
	api.Get("/rooms", m.listRooms)
	api.Post("/rooms", m.createRoom)
	api.Post("/rooms/:id/join", m.joinRoom)

	// Composer
	api.Post("/messages", m.sendMessage)
	api.Post("/typing", m.typing)
}

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	client := m.chats.Client()
	status := "healthy"
	if !client.Connected() {
		status = "degraded"
	}
	return c.JSON(HealthResponse{
		Status: status,
		Details: map[string]any{
			"module":            "api",
			"state":             client.State().String(),
			"connected":         client.Connected(),
			"connected_clients": m.hub.ClientCount(),
		},
	})
}

// getView handles GET /api/v1/view.
func (m *APIModule) getView(c *fiber.Ctx) error {
	return c.JSON(m.chats.View().Snapshot())
}

// createSession handles POST /api/v1/session.
func (m *APIModule) createSession(c *fiber.Ctx) error {
	var req JoinRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	session, err := m.chats.Client().Join(c.UserContext(), chat.JoinRequest{
		Name:        req.Name,
		RoomID:      req.RoomID,
		AvatarSeed:  req.AvatarSeed,
		AvatarStyle: req.AvatarStyle,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(m.sessionResponse(session))
}

// updateSession handles PATCH /api/v1/session.
func (m *APIModule) updateSession(c *fiber.Ctx) error {
	var req UpdateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	session, err := m.session()
	if err != nil {
		return writeError(c, err)
	}

	if req.Name != nil {
		if err := session.Rename(c.UserContext(), *req.Name); err != nil {
			return writeError(c, err)
		}
	}
	if req.AvatarSeed != nil || req.AvatarStyle != nil {
		user := session.User()
		seed, style := user.AvatarSeed, string(user.AvatarStyle)
		if req.AvatarSeed != nil {
			seed = *req.AvatarSeed
		}
		if req.AvatarStyle != nil {
			style = *req.AvatarStyle
		}
		if err := session.SetAvatar(c.UserContext(), seed, style); err != nil {
			return writeError(c, err)
		}
	}

	return c.JSON(m.sessionResponse(session))
}

// deleteSession handles DELETE /api/v1/session.
func (m *APIModule) deleteSession(c *fiber.Ctx) error {
	session, err := m.session()
	if err != nil {
		return writeError(c, err)
	}
	if err := session.Leave(c.UserContext()); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// listRooms handles GET /api/v1/rooms.
func (m *APIModule) listRooms(c *fiber.Ctx) error {
	rooms, err := m.chats.Client().Rooms(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(RoomListResponse{Rooms: rooms})
}

// createRoom handles POST /api/v1/rooms.
func (m *APIModule) createRoom(c *fiber.Ctx) error {
	var req CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	session, err := m.session()
	if err != nil {
		return writeError(c, err)
	}

	room, err := session.CreateRoom(c.UserContext(), req.Name, req.Description)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(room)
}

// joinRoom handles POST /api/v1/rooms/:id/join.
func (m *APIModule) joinRoom(c *fiber.Ctx) error {
	session, err := m.session()
	if err != nil {
		return writeError(c, err)
	}
	if err := session.JoinRoom(c.UserContext(), c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(m.sessionResponse(session))
}

// sendMessage handles POST /api/v1/messages.
func (m *APIModule) sendMessage(c *fiber.Ctx) error {
	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	session, err := m.session()
	if err != nil {
		return writeError(c, err)
	}

	msg, err := session.Send(c.UserContext(), req.Text)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// typing handles POST /api/v1/typing.
func (m *APIModule) typing(c *fiber.Ctx) error {
	session, err := m.session()
	if err != nil {
		return writeError(c, err)
	}
	if err := session.Keystroke(c.UserContext()); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleWebSocket handles WebSocket connections at /ws. The client gets the
// current view right away, then every view change and chat activity.
func (m *APIModule) handleWebSocket(c *websocket.Conn) {
	clientID := uuid.New().String()

	snapshot := m.chats.View().Snapshot()
	if err := c.WriteJSON(broadcast.Frame{Type: broadcast.FrameView, View: &snapshot}); err != nil {
		log.Printf("[api] Failed to send initial view: %v", err)
		return
	}

	client := &broadcast.Client{ID: clientID, Conn: c}
	m.hub.Register(client)
	defer func() {
		m.hub.Unregister(client)
		log.Printf("[api] WebSocket client disconnected: %s", clientID)
	}()

	log.Printf("[api] WebSocket client connected: %s", clientID)

	// Read loop
	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[api] Client %s closed connection", clientID)
			} else {
				log.Printf("[api] Read error from %s: %v", clientID, err)
			}
			return
		}

		m.handleFrame(clientID, msgBytes)
	}
}

// handleFrame applies one frame sent by a WebSocket client. Anything but a
// typing frame is ignored.
func (m *APIModule) handleFrame(clientID string, data []byte) {
	var frame struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != wsTypeTyping {
		return
	}
	session := m.chats.Client().Session()
	if session == nil {
		return
	}
	if err := session.Keystroke(context.Background()); err != nil {
		log.Printf("[api] Failed to record keystroke from %s: %v", clientID, err)
	}
}

func (m *APIModule) session() (*chat.Session, error) {
	session := m.chats.Client().Session()
	if session == nil {
		return nil, chat.ErrNotJoined
	}
	return session, nil
}

func (m *APIModule) sessionResponse(session *chat.Session) SessionResponse {
	return SessionResponse{
		User:   session.User(),
		RoomID: session.RoomID(),
		State:  m.chats.Client().State().String(),
	}
}

func invalidBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "invalid_request",
		Message: "Invalid request body",
	})
}

// writeError maps chat errors to HTTP responses.
func writeError(c *fiber.Ctx, err error) error {
	var verr *domain.ValidationError
	errors.As(err, &verr)
	field := ""
	if verr != nil {
		field = verr.Field
	}

	switch {
	case errors.Is(err, domain.ErrUsernameTaken), errors.Is(err, domain.ErrRoomAlreadyExists):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: "conflict", Message: err.Error(), Field: field})
	case errors.Is(err, chat.ErrAlreadyJoined), errors.Is(err, chat.ErrNotJoined):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: "session_state", Message: err.Error()})
	case errors.Is(err, chat.ErrSendThrottled):
		return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{Error: "throttled", Message: err.Error()})
	case errors.Is(err, chat.ErrRoomNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "not_found", Message: err.Error()})
	case verr != nil:
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "validation_error", Message: verr.Err.Error(), Field: field})
	default:
		log.Printf("[api] Store failure: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: "store_error", Message: err.Error()})
	}
}
