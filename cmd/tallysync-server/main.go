package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/tallysync_backend/config"
	"github.com/mmdatafocus/tallysync_backend/models"
	"github.com/mmdatafocus/tallysync_backend/tallysync"
	"github.com/mmdatafocus/tallysync_backend/utils"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8001"

func main() {
	port := os.Getenv("TALLYSYNC_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	config.ConnectDatabaseWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	events := tallysync.NewBroadcaster()
	engine := tallysync.NewEngine(events)
	scheduler := tallysync.NewScheduler(engine.SyncCompany)
	if err := scheduler.StartAll(sigCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "scheduler"}).Error(err)
	}
	defer scheduler.Stop()

	// API endpoints
	r.POST("/api/companies", tallysync.CreateCompanyHandler(scheduler))
	r.GET("/api/companies", tallysync.ListCompaniesHandler())
	r.GET("/api/companies/:id", tallysync.GetCompanyHandler())
	r.PUT("/api/companies/:id", tallysync.UpdateCompanyHandler(scheduler))
	r.DELETE("/api/companies/:id", tallysync.DeleteCompanyHandler(scheduler))

	r.POST("/api/companies/:id/sync", tallysync.TriggerSyncHandler(scheduler))
	r.GET("/api/companies/:id/sync-logs", tallysync.SyncHistoryHandler())

	r.GET("/api/companies/:id/stock-items", tallysync.ListStockItemsHandler())
	r.PUT("/api/companies/:id/stock-items/reorder-level", tallysync.SetReorderLevelHandler())
	r.GET("/api/companies/:id/ledgers", tallysync.ListLedgersHandler())
	r.GET("/api/companies/:id/vouchers", tallysync.ListVouchersHandler())

	r.POST("/api/orders", tallysync.CreateOrderHandler())
	r.GET("/api/companies/:id/orders", tallysync.ListOrdersHandler())
	r.GET("/api/orders/:id", tallysync.GetOrderHandler())
	r.POST("/api/orders/:id/push", tallysync.PushOrderHandler())

	r.POST("/api/tally/probe", tallysync.ProbeHandler())
	r.GET("/api/events", tallysync.EventsHandler(events))

	startedAt := time.Now().UTC()
	r.GET("/api/info", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":    "tallysync-backend",
			"started_at": startedAt.Format(time.RFC3339),
			"uptime_s":   int(time.Since(startedAt).Seconds()),
		})
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()
	logger.WithFields(logrus.Fields{"field": "server"}).Infof("listening on :%s", port)

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}).Info("request")
	}
}
