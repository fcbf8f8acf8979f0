package http

import (
	"github.com/gin-gonic/gin"
	"github.com/richardliu001/gig-ledger/internal/config"
	"go.uber.org/zap"
)

func NewRouter(svc Services, cfg *config.Config, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	RegisterHandlers(r, svc, cfg.Whop.WebhookSecret, cfg.Admin.Token, log)
	return r
}
