package main

import (
	"context"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/presence-relay/config"
	"github.com/example/presence-relay/modules/activity"
	"github.com/example/presence-relay/modules/relay"
	"github.com/example/presence-relay/modules/wsserver"
)

func main() {
	log.Println("=== Presence Relay - Fiber WebSocket + EventBus ===")

	cfg := config.Load()

	logLevel := mono.WithLogLevel(mono.LogLevelInfo)
	switch cfg.LogLevel {
	case "debug":
		logLevel = mono.WithLogLevel(mono.LogLevelDebug)
	case "warn":
		logLevel = mono.WithLogLevel(mono.LogLevelWarn)
	case "error":
		logLevel = mono.WithLogLevel(mono.LogLevelError)
	}
	logFormat := mono.WithLogFormat(mono.LogFormatText)
	if cfg.LogFormat == "json" {
		logFormat = mono.WithLogFormat(mono.LogFormatJSON)
	}

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(cfg.ShutdownTimeout),
		logLevel,
		logFormat,
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	logger := app.Logger()

	// Create modules
	relayModule, err := relay.NewModule(logger.WithModule("relay"))
	if err != nil {
		log.Fatalf("Failed to create relay module: %v", err)
	}
	activityModule := activity.NewModule(logger.WithModule("activity"))
	wsModule := wsserver.NewModule(cfg, relayModule, activityModule, logger.WithModule("ws-server"))

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	// - relay: registry + router (EventEmitterModule)
	// - activity: counters (EventConsumerModule)
	// - ws-server: Fiber listener, depends on relay and activity
	app.Register(relayModule)
	app.Register(activityModule)
	app.Register(wsModule)

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(cfg config.Config) {
	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", cfg.Port)
	log.Println("  Inbound:  user_join, message, typing_start, typing_stop, join_room, room_message")
	log.Println("  Outbound: online_users, user_online, user_offline, message_sent, room_joined, error")
	log.Printf("  Max frame: %d bytes, send queue: %d frames", cfg.MaxFrameBytes, cfg.SendQueueSize)
	if cfg.RateLimitPerSecond > 0 {
		log.Printf("  Rate limit: %d frames/s (burst %d)", cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	}
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", cfg.Port)
	log.Println("  GET    /health                     - Health check")
	log.Println("  GET    /api/v1/users/online        - Online users")
	log.Println("  GET    /api/v1/rooms               - Rooms and members")
	log.Println("  GET    /api/v1/rooms/:id/members   - Members of one room")
	log.Println("  GET    /api/v1/stats               - Relay activity counters")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
