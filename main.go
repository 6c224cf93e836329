package main

import (
	"context"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	"github.com/joho/godotenv"

	"github.com/example/canvas-room-server/modules/api"
	"github.com/example/canvas-room-server/modules/backlog"
	"github.com/example/canvas-room-server/modules/presence"
	"github.com/example/canvas-room-server/modules/room"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	log.Println("=== Canvas Room Server ===")

	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Create modules
	backlogModule := backlog.NewModule()
	roomModule := room.NewModule(backlogModule)
	presenceModule := presence.NewModule()
	apiModule := api.NewModule()

	// Inject in-process dependencies into the API module
	// (done manually because they are not exposed via ServiceContainer)
	apiModule.SetRoomModule(roomModule)
	apiModule.SetPresenceModule(presenceModule)

	// Register modules with the framework.
	// Order: storage first, then the room core, then consumers and the edge.
	app.Register(backlogModule)  // BacklogStore backend (redis | sqlite | memory)
	app.Register(roomModule)     // Room registry + lifecycle event emitter
	app.Register(presenceModule) // Event consumer tracking occupancy
	app.Register(apiModule)      // HTTP/WebSocket gateway

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
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

func printStartupInfo() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	backend := os.Getenv("BACKLOG_BACKEND")
	if backend == "" {
		backend = "sqlite"
	}

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - One actor goroutine per room; all room state behind its inbox")
	log.Printf("  - Backlog backend: %s", backend)
	log.Println("  - Room lifecycle events flow over the EventBus to the presence module")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health               - Health check")
	log.Println("  POST   /api/v1/rooms         - Mint a private room identifier")
	log.Println("  GET    /api/v1/rooms/:room   - Room occupancy")
	log.Println("  GET    /api/v1/stats         - Presence counters")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/api/room/:room/websocket):", port)
	log.Println("  First frame: {\"name\":\"yourname\"} (32 chars max, empty = anonymous)")
	log.Println("  Then: {\"type\":\"chat\",\"message\":...} or {\"type\":\"mousePos\",\"pos\":{\"x\":..,\"y\":..},\"isDown\":..,\"color\":..}")
	log.Println("  Clients that drop should reconnect with backoff (10s) and re-handshake")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
