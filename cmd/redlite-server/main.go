package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	adminhttp "github.com/russellromney/redlite-sub002/internal/http"
	"github.com/russellromney/redlite-sub002/internal/kv"
	"github.com/russellromney/redlite-sub002/internal/pubsub"
	"github.com/russellromney/redlite-sub002/internal/server"
	"github.com/russellromney/redlite-sub002/internal/storage"
)

type cli struct {
	Bind           string            `help:"Address to bind the RESP listener to." default:"127.0.0.1" env:"REDLITE_BIND"`
	Port           int               `help:"RESP listener port." default:"6379" env:"REDLITE_PORT"`
	Path           string            `help:"Database file path, or :memory:." default:"redlite.db" env:"REDLITE_PATH"`
	CacheMB        datasize.ByteSize `name:"cache-mb" help:"SQLite page cache budget (e.g. 64MB)." default:"0B" env:"REDLITE_CACHE_MB"`
	EvictionPolicy string            `help:"Eviction policy: noeviction, allkeys-lru, allkeys-lfu, allkeys-random, volatile-lru, volatile-lfu, volatile-random, volatile-ttl." default:"noeviction" env:"REDLITE_EVICTION_POLICY"`
	MaxKeys        int64             `help:"Key budget that triggers eviction; 0 disables." default:"0" env:"REDLITE_MAX_KEYS"`
	Tracking       bool              `help:"Enable access tracking for LRU/LFU eviction." default:"false" env:"REDLITE_TRACKING"`
	AdminAddr      string            `help:"Diagnostics HTTP address; empty disables." default:"" env:"REDLITE_ADMIN_ADDR"`
	VacuumInterval time.Duration     `help:"Background expired-key sweep interval; 0 disables." default:"60s" env:"REDLITE_VACUUM_INTERVAL"`
	Debug          bool              `help:"Verbose logging." default:"false" env:"REDLITE_DEBUG"`
}

func main() {
	var args cli
	kctx := kong.Parse(&args,
		kong.Name("redlite-server"),
		kong.Description("Redis-compatible server over a single SQLite file."),
	)

	// Create Zap logger
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	if !args.Debug {
		logConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	log := zap.Must(logConfig.Build())
	defer log.Sync()
	log = log.Named("redlite")

	policy, err := kv.ParseEvictionPolicy(args.EvictionPolicy)
	if err != nil {
		kctx.Fatalf("%v", err)
	}

	sess, err := storage.Open(args.Path, storage.Options{
		CacheMB: int64(args.CacheMB.MBytes()),
	}, log)
	if err != nil {
		log.Fatal("storage open failed", zap.Error(err))
	}
	defer sess.Close()

	store, err := kv.NewStore(sess, kv.Config{
		EvictionPolicy: policy,
		MaxKeys:        args.MaxKeys,
		Tracking:       kv.TrackingConfig{Enabled: args.Tracking},
	}, log)
	if err != nil {
		log.Fatal("engine init failed", zap.Error(err))
	}

	broker := pubsub.NewBroker(pubsub.DefaultBufferSize, log)
	srv := server.New(store, broker, log)

	addr := fmt.Sprintf("%s:%d", args.Bind, args.Port)
	if err := srv.Listen(addr); err != nil {
		log.Fatal("listen failed", zap.String("addr", addr), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background sweep of expired keys.
	if args.VacuumInterval > 0 {
		go func() {
			ticker := time.NewTicker(args.VacuumInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := store.Vacuum(); err != nil {
						log.Warn("vacuum pass failed", zap.Error(err))
					}
				}
			}
		}()
	}

	// Optional diagnostics endpoint.
	if args.AdminAddr != "" {
		admin := adminhttp.NewAdminServer(args.AdminAddr, store, log)
		go func() {
			log.Info("admin endpoint up", zap.String("addr", args.AdminAddr))
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("admin endpoint failed", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = admin.Shutdown(shutdownCtx)
		}()
	}

	if err := srv.Serve(ctx); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
	log.Info("shutdown complete")
}
