package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/xxljob/executor-go/internal/logging"
)

// NewRouter builds the gin engine exposing the scheduler-facing surface:
// /beat, /idleBeat, /run, /kill, /log, all guarded by the access-token
// middleware when accessToken is configured. In debug mode it also opens
// CORS for the admin console's browser-based log/kill debug panel.
func NewRouter(log *logging.Logger, h *Handlers, accessToken string, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if debug {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:    []string{"Content-Type", "XXL-JOB-ACCESS-TOKEN"},
			MaxAge:          12 * time.Hour,
		}))
	}
	r.Use(AccessToken(log, accessToken))

	r.POST("/beat", h.Beat)
	r.POST("/idleBeat", h.IdleBeat)
	r.POST("/run", h.Run)
	r.POST("/kill", h.Kill)
	r.POST("/log", h.Log)

	return r
}






