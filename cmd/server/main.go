package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/COVESA/graphql-vss-server-libs/internal/auth"
	"github.com/COVESA/graphql-vss-server-libs/internal/config"
	"github.com/COVESA/graphql-vss-server-libs/internal/logging"
	"github.com/COVESA/graphql-vss-server-libs/internal/protocol"
	"github.com/COVESA/graphql-vss-server-libs/internal/schema"
	"github.com/COVESA/graphql-vss-server-libs/internal/server"
	"github.com/COVESA/graphql-vss-server-libs/internal/singleton"
)

// version is injected at build time via:
//
//	go build -ldflags "-X main.version=1.2.3"
//
// Falls back to "dev" when built without ldflags.
var version = "dev"

// knownPermissions maps the string permission names resolvers expect onto
// the small integer keys the wire protocol and permissions.Set deal in.
var knownPermissions = auth.KnownPermissions{
	"read_vehicle_speed":    1,
	"read_vehicle_location": 2,
	"read_diagnostics":      3,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{
		Level:  parseLevel(cfg.Logging.Level),
		Format: parseFormat(cfg.Logging.Format),
	})
	log.Info("starting graphql-vss-server", logging.String("version", version))

	authorizer, err := buildAuthorizer(cfg.Auth)
	if err != nil {
		log.Error("failed to build authorizer", err)
		os.Exit(1)
	}

	storage := singleton.NewStorage()
	demoSchema := buildDemoSchema()

	reg := prometheus.NewRegistry()
	srv := server.New(cfg.Server, cfg.GC, cfg.Notify, authorizer, demoSchema, storage, log, reg)
	go srv.Run()

	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "graphql-vss-server", "version": version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	router.POST(cfg.Server.GraphQLEndpoint, srv.HandleHTTP)
	router.GET(cfg.Server.GraphQLEndpoint, srv.HandleWebSocket)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("listening", logging.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", err)
			os.Exit(1)
		}
	}()

	waitForShutdownSignal()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	done := make(chan struct{})
	srv.Stop(func() { close(done) })
	<-done

	log.Info("shutdown complete")
}

func waitForShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func buildAuthorizer(cfg config.AuthConfig) (protocol.Authorizer, error) {
	if cfg.AllowAll {
		return auth.NewAllowAllAuthorizer(knownPermissions), nil
	}
	pub, err := auth.LoadRSAPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading public key from %s: %w", cfg.PublicKeyPath, err)
	}
	return auth.NewJWTAuthorizer(pub, knownPermissions), nil
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func parseFormat(format string) logging.Format {
	if format == "json" {
		return logging.FormatJSON
	}
	return logging.FormatText
}

// buildDemoSchema wires a minimal, self-contained protocol.Schema so the
// server is runnable standalone. A real deployment supplies its own
// resolver/executor behind the same protocol.Schema seam; this one only
// demonstrates the shape (the executor itself is out of scope here).
func buildDemoSchema() protocol.Schema {
	resolve := func(ctx context.Context, state *protocol.RequestState, query, operationName string, variables map[string]interface{}) (protocol.DataPayload, error) {
		data, _ := json.Marshal(map[string]interface{}{"vehicleSpeed": 0})
		return protocol.DataPayload{Data: data}, nil
	}
	subscribe := func(ctx context.Context, state *protocol.RequestState, query, operationName string, variables map[string]interface{}, onFuture protocol.OnFuture) (string, error) {
		onFuture(protocol.FutureFunc(func(ctx context.Context) (protocol.DataPayload, error) {
			data, _ := json.Marshal(map[string]interface{}{"vehicleSpeed": 0})
			return protocol.DataPayload{Data: data}, nil
		}))
		return "vehicleSpeed", nil
	}
	deliver := func(ctx context.Context, rootFieldName string, subs map[protocol.SubscriptionKey]protocol.OnFuture) {
		for _, onFuture := range subs {
			onFuture(protocol.FutureFunc(func(ctx context.Context) (protocol.DataPayload, error) {
				data, _ := json.Marshal(map[string]interface{}{"vehicleSpeed": 0})
				return protocol.DataPayload{Data: data}, nil
			}))
		}
	}
	return schema.New(resolve, subscribe, deliver)
}
