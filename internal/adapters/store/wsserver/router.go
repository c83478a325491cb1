package wsserver

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/dial/internal/config"
	"github.com/dkeye/dial/internal/core"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags each client with a stable token so log lines
// from one peer correlate across reconnects.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, st core.Store) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "wsserver").Msg("router setup")

	api := r.Group("/api")
	api.GET("/ws/store", func(c *gin.Context) {
		ctl := &Controller{Store: st}
		log.Info().Str("module", "wsserver").Str("sid", c.GetString("client_token")).Msg("store endpoint hit")
		ctl.HandleStore(ctx, c)
	})

	return r
}
