package adapters

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/oasis-mind/sessioncore/internal/config"
	"github.com/oasis-mind/sessioncore/internal/domain"
	"github.com/oasis-mind/sessioncore/internal/relay"
)

var upgrader = websocket.Upgrader{
	// TODO: restrict origins once the web clients get a stable host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SetupRouter wires HTTP routes with the relay.
// - WebSocket signaling lives at /ws
// - REST introspection is under /api/*
func SetupRouter(ctx context.Context, cfg *config.Config, rl *relay.Relay) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ctl := &Controller{
		Relay:      rl,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	}

	r.GET("/ws", func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Str("module", "adapters.router").Err(err).Msg("websocket upgrade failed")
			return
		}
		go ctl.Serve(ctx, ws)
	})

	api := r.Group("/api")

	// GET /api/rooms — list live rooms with member counts.
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": rl.Registry().List()})
	})

	// GET /api/rooms/:id — membership of one room.
	api.GET("/rooms/:id", func(c *gin.Context) {
		id := domain.RoomID(c.Param("id"))
		members := rl.Registry().MembersSnapshot(id)
		if members == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "members": members})
	})

	return r
}
