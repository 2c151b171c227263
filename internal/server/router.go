// Package server is the stateless HTTP front door: it maps connection
// requests to room coordinators, enforces the origin allow-list and hosts
// the auxiliary unfurl endpoint.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/discoursegraphs/canvas-backend/internal/coordinator"
	"github.com/discoursegraphs/canvas-backend/internal/room"
	"github.com/discoursegraphs/canvas-backend/internal/schema"
	"github.com/discoursegraphs/canvas-backend/internal/unfurl"
)

const preflightMaxAge = 24 * time.Hour

var (
	errMissingRegistry     = errors.New("coordinator registry dependency required")
	errMissingOriginPolicy = errors.New("origin policy dependency required")
	errMissingUnfurl       = errors.New("unfurl resolver dependency required")
)

// Dependencies collects the collaborators the router is wired with.
type Dependencies struct {
	Registry *coordinator.Registry
	Unfurl   *unfurl.Resolver
	Origins  *OriginPolicy
	Logger   *zap.Logger
}

// NewHTTPHandler builds the edge router. Preflight requests are answered by
// the CORS middleware without touching any coordinator; disallowed origins
// are rejected before room lookup so room existence never leaks.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Origins == nil {
		return nil, errMissingOriginPolicy
	}
	if deps.Unfurl == nil {
		return nil, errMissingUnfurl
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: deps.Origins.Allow,
		AllowMethods:    []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type"},
		MaxAge:          preflightMaxAge,
	}))

	handler := &httpHandler{
		registry: deps.Registry,
		unfurl:   deps.Unfurl,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(request *http.Request) bool {
				return deps.Origins.Allow(request.Header.Get("Origin"))
			},
		},
	}

	router.GET("/connect/:roomId", handler.handleConnect)
	router.GET("/unfurl", handler.handleUnfurl)
	router.GET("/healthz", handler.handleHealthz)

	return router, nil
}

type httpHandler struct {
	registry *coordinator.Registry
	unfurl   *unfurl.Resolver
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// handleConnect upgrades the request to a websocket and attaches the
// session to its room. The session identifier is required before any room
// lookup happens.
func (h *httpHandler) handleConnect(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_session_id"})
		return
	}

	roomID := c.Param("roomId")
	incoming := schema.NewConfig(c.QueryArray("shapeType"), c.QueryArray("bindingType"))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("room_id", roomID), zap.Error(err))
		return
	}

	session := room.NewSession(sessionID, conn)
	if err := h.registry.Get(roomID).Connect(c.Request.Context(), incoming, session); err != nil {
		h.logger.Error("room connection failed",
			zap.String("room_id", roomID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		_ = conn.Close()
		return
	}
}

type unfurlResponsePayload struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Favicon     string `json:"favicon,omitempty"`
}

func (h *httpHandler) handleUnfurl(c *gin.Context) {
	meta, err := h.unfurl.Resolve(c.Request.Context(), c.Query("url"))
	if errors.Is(err, unfurl.ErrInvalidURL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url"})
		return
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			h.logger.Warn("unfurl failed", zap.Error(err))
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "unfurl_failed"})
		return
	}
	c.JSON(http.StatusOK, unfurlResponsePayload{
		URL:         meta.URL,
		Title:       meta.Title,
		Description: meta.Description,
		Image:       meta.Image,
		Favicon:     meta.Favicon,
	})
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
