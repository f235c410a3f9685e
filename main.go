package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/example/realtime-chat-demo/modules/api"
	"github.com/example/realtime-chat-demo/modules/broadcast"
	"github.com/example/realtime-chat-demo/modules/chat"
	"github.com/example/realtime-chat-demo/modules/store"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	"github.com/joho/godotenv"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// A missing .env file is fine, the environment wins anyway
	_ = godotenv.Load()

	port := getEnv("PORT", "3000")
	natsPort := getEnvInt("NATS_PORT", 4222)
	storageDir := getEnv("CHAT_STORAGE_DIR", "/tmp/realtime-chat-demo")

	storeCfg := store.DefaultConfig()
	storeCfg.URL = getEnv("NATS_URL", fmt.Sprintf("nats://localhost:%d", natsPort))
	storeCfg.Bucket = getEnv("CHAT_BUCKET", storeCfg.Bucket)

	chatCfg := chat.DefaultConfig()
	chatCfg.HeartbeatInterval = getEnvDuration("HEARTBEAT_INTERVAL", chatCfg.HeartbeatInterval)
	chatCfg.TypingIdle = getEnvDuration("TYPING_IDLE", chatCfg.TypingIdle)
	chatCfg.SendCooldown = getEnvDuration("SEND_COOLDOWN", chatCfg.SendCooldown)
	chatCfg.RetentionCap = getEnvInt("RETENTION_CAP", chatCfg.RetentionCap)

	log.Println("=== Realtime Chat Demo - JetStream KV + Fiber WebSocket ===")
	log.Printf("Storage Path: %s", storageDir)

	// Create mono application with embedded NATS JetStream
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
		mono.WithJetStreamStorageDir(storageDir),
		mono.WithNATSPort(natsPort),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Create modules
	storeModule := store.NewModule(storeCfg, app.Logger())
	chatModule := chat.NewModule(chatCfg, storeModule, app.Logger())
	broadcastModule := broadcast.NewModule(chatModule.View())
	apiModule := api.NewModule(port, chatModule, broadcastModule.GetHub())

	// Register modules with the framework.
	// Start order follows each module's Dependencies(): store before chat,
	// chat and broadcast before api. Stop runs in reverse.
	// - store: JetStream KV bucket holding users, rooms, messages and typing
	// - chat: Client session + event emitter
	// - broadcast: Event consumer pushing view and activity frames
	// - api: Fiber HTTP/WebSocket adapter driving the chat client
	app.Register(storeModule)     // JetStream KV store
	app.Register(chatModule)      // Chat client + event emitter
	app.Register(broadcastModule) // WebSocket hub + event consumer
	app.Register(apiModule)       // HTTP/WebSocket API

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(port, storeCfg, chatCfg)

	// Graceful shutdown
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

func printStartupInfo(port string, storeCfg store.Config, chatCfg chat.Config) {
	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - Store: NATS JetStream key-value bucket (users, rooms, messages, typing)")
	log.Printf("  - NATS URL: %s, bucket: %s", storeCfg.URL, storeCfg.Bucket)
	log.Println("  - HTTP Framework: Fiber with WebSocket support")
	log.Println("")
	log.Println("Chat settings:")
	log.Printf("  - Heartbeat every %s, typing idle after %s", chatCfg.HeartbeatInterval, chatCfg.TypingIdle)
	log.Printf("  - One message per %s, %d messages kept per room", chatCfg.SendCooldown, chatCfg.RetentionCap)
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health                  - Health check")
	log.Println("  GET    /api/v1/view             - Current view state")
	log.Println("  POST   /api/v1/session          - Join with a name and avatar")
	log.Println("  PATCH  /api/v1/session          - Rename or change avatar")
	log.Println("  DELETE /api/v1/session          - Leave")
	log.Println("  GET    /api/v1/rooms            - List rooms")
	log.Println("  POST   /api/v1/rooms            - Create a room")
	log.Println("  POST   /api/v1/rooms/:id/join   - Switch room")
	log.Println("  POST   /api/v1/messages         - Send a message")
	log.Println("  POST   /api/v1/typing           - Report a keystroke")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", port)
	log.Println("  Frames: view (on every view change), activity (chat events)")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
