package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"waypool-chat/internal/auth"
	"waypool-chat/internal/authz"
	"waypool-chat/internal/cache"
	"waypool-chat/internal/chatlist"
	"waypool-chat/internal/domain"
	"waypool-chat/internal/events"
	"waypool-chat/internal/middleware"
	"waypool-chat/internal/presence"
	"waypool-chat/internal/repository"
	"waypool-chat/internal/session"
	"waypool-chat/internal/transport/httpdto"
	waypool_errors "waypool-chat/pkg/errors"
	"waypool-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// ChatHandler serves the read-side HTTP endpoints.
type ChatHandler struct {
	projector  *chatlist.Projector
	authorizer *authz.Authorizer
	messages   repository.MessageRepository
	cache      chatlist.Cache
	cacheTTL   time.Duration
	log        *logger.Logger
}

func NewChatHandler(
	projector *chatlist.Projector,
	authorizer *authz.Authorizer,
	messages repository.MessageRepository,
	tiered chatlist.Cache,
	cacheTTL time.Duration,
	log *logger.Logger,
) *ChatHandler {
	return &ChatHandler{
		projector:  projector,
		authorizer: authorizer,
		messages:   messages,
		cache:      tiered,
		cacheTTL:   cacheTTL,
		log:        log,
	}
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	value, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	userID, ok := value.(uuid.UUID)
	return userID, ok
}

// ChatList handles GET /v1/chats.
func (h *ChatHandler) ChatList(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	list, err := h.projector.ChatListFor(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.NewChatListResponse(list)))
}

// Messages handles GET /v1/conversations/:key/messages.
func (h *ChatHandler) Messages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	parsed, err := domain.ParseKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid conversation key", "INVALID_INPUT"))
		return
	}
	if err := h.authorizer.CanJoinKey(c.Request.Context(), parsed, userID); err != nil {
		status, code := authStatus(err)
		c.JSON(status, httpdto.NewErrorResponse(err.Error(), code))
		return
	}

	before := time.Now().UTC()
	if raw := c.Query("before"); raw != "" {
		parsedAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid before timestamp", "INVALID_INPUT"))
			return
		}
		before = parsedAt
	}
	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		parsedLimit, err := strconv.Atoi(raw)
		if err != nil || parsedLimit < 1 {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid limit", "INVALID_INPUT"))
			return
		}
		limit = parsedLimit
		if limit > maxPageSize {
			limit = maxPageSize
		}
	}

	firstPage := c.Query("before") == "" && limit == defaultPageSize
	cacheKey := cache.MessagesKey(domain.ConversationKey(c.Param("key")))
	if firstPage {
		var cached httpdto.MessagesResponse
		hit, err := h.cache.Get(c.Request.Context(), cacheKey, &cached)
		if err != nil {
			h.log.Warnf("messages cache read failed: %v", err)
		}
		if hit {
			c.JSON(http.StatusOK, httpdto.NewSuccessResponse(cached))
			return
		}
	}

	messages, err := h.fetch(c.Request.Context(), parsed, userID, before, limit)
	if err != nil {
		_ = c.Error(err)
		c.Status(http.StatusInternalServerError)
		return
	}

	response := httpdto.NewMessagesResponse(messages, limit)
	if firstPage {
		if err := h.cache.Set(c.Request.Context(), cacheKey, response, h.cacheTTL); err != nil {
			h.log.Warnf("messages cache write failed: %v", err)
		}
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(response))
}

func (h *ChatHandler) fetch(ctx context.Context, parsed domain.ParsedKey, userID uuid.UUID, before time.Time, limit int) ([]domain.Message, error) {
	if parsed.Kind == domain.ConversationDirect {
		counterpart := parsed.UserA
		if counterpart == userID {
			counterpart = parsed.UserB
		}
		return h.messages.DirectMessages(ctx, userID, counterpart, before, limit)
	}
	return h.messages.RoomMessages(ctx, parsed.Kind, parsed.RoomID, before, limit)
}

func authStatus(err error) (int, string) {
	if errors.Is(err, waypool_errors.ErrNoConnection) {
		return http.StatusForbidden, "NO_CONNECTION"
	}
	if waypool_errors.IsValidation(err) {
		return http.StatusBadRequest, "INVALID_INPUT"
	}
	return http.StatusForbidden, "FORBIDDEN"
}

// WSHandler upgrades connections and runs the read loop.
type WSHandler struct {
	verifier  *auth.TokenVerifier
	hub       *Hub
	directory *session.Directory
	tracker   *presence.Tracker
	gateway   *Gateway
	log       *logger.Logger
}

func NewWSHandler(
	verifier *auth.TokenVerifier,
	hub *Hub,
	directory *session.Directory,
	tracker *presence.Tracker,
	gateway *Gateway,
	log *logger.Logger,
) *WSHandler {
	return &WSHandler{
		verifier:  verifier,
		hub:       hub,
		directory: directory,
		tracker:   tracker,
		gateway:   gateway,
		log:       log,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Connect handles GET /v1/ws. The token rides in the query string because
// browsers cannot set headers on WebSocket upgrades.
func (h *WSHandler) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = auth.ExtractBearer(c)
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := NewClient(conn, userID)
	h.hub.Register(client)
	h.hub.Subscribe(client, events.ChannelPrefixUser+userID.String())
	go client.WriteLoop()

	if wentOnline := h.directory.Register(client); wentOnline {
		h.tracker.HandleOnline(c.Request.Context(), userID)
	}
	h.log.Infof("websocket connected user=%s session=%s", userID, client.ID)

	h.readLoop(client)

	if wentOffline := h.directory.Deregister(client); wentOffline {
		h.tracker.HandleOffline(context.Background(), userID)
	}
	h.hub.Unregister(client)
	h.log.Infof("websocket disconnected user=%s session=%s", userID, client.ID)
}

func (h *WSHandler) readLoop(client *Client) {
	conn := client.conn
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.gateway.HandleFrame(context.Background(), client, payload)
	}
}
