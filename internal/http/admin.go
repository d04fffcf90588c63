// Package http exposes a loopback diagnostics endpoint alongside the RESP
// front-end: health, keyspace info, and a vacuum trigger.
package http

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/russellromney/redlite-sub002/internal/kv"
)

// ZapLogger is a Gin middleware that logs each request through Zap.
func ZapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		var errs []error
		for _, ge := range c.Errors {
			if ge.Err != nil {
				errs = append(errs, ge.Err)
			}
		}
		joinedErr := errors.Join(errs...)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", latency),
		}
		if joinedErr != nil {
			fields = append(fields, zap.Error(joinedErr))
		}

		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// NewAdminServer builds the diagnostics HTTP server over an open store.
func NewAdminServer(addr string, store *kv.Store, log *zap.Logger) *http.Server {
	log = log.Named("admin")
	started := time.Now()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	// CORS (dev only)
	if os.Getenv("ENV") == "dev" {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  []string{"http://localhost:5173"},
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Content-Type"},
			ExposeHeaders: []string{"X-Total-Count"},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.Use(ZapLogger(log))

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	r.GET("/api/info", func(c *gin.Context) {
		perDB := make(map[string]int64, kv.NumDatabases)
		var total int64
		for i := 0; i < kv.NumDatabases; i++ {
			db, err := store.DB(i)
			if err != nil {
				continue
			}
			n, err := db.DBSize()
			if err != nil {
				_ = c.Error(err)
				c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
				return
			}
			if n > 0 {
				perDB["db"+strconv.Itoa(i)] = n
			}
			total += n
		}
		c.JSON(http.StatusOK, gin.H{
			"uptime_seconds": int64(time.Since(started).Seconds()),
			"total_keys":     total,
			"keyspace":       perDB,
		})
	})

	r.POST("/api/vacuum", func(c *gin.Context) {
		reclaimed, err := store.Vacuum()
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reclaimed_keys": reclaimed})
	})

	return &http.Server{
		Addr:    addr,
		Handler: r,

		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,

		MaxHeaderBytes: 1 << 15, // 32 KB

		ErrorLog: zap.NewStdLog(log.Named("http").WithOptions(zap.AddCallerSkip(1))),
	}
}
