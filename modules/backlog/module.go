package backlog

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-monolith/mono"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	domain "github.com/example/canvas-room-server/domain/room"
)

// Module provides the backlog store as a mono module. The backend is selected
// with BACKLOG_BACKEND: "sqlite" (default), "redis", or "memory". The module
// itself implements BacklogStore by delegation, so dependents can be wired
// before Start has connected the real backend.
type Module struct {
	backend   string
	redisAddr string
	prefix    string
	dbPath    string

	store  domain.BacklogStore
	client *redis.Client
	db     *gorm.DB
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ domain.BacklogStore        = (*Module)(nil)
)

// NewModule creates the backlog module, reading configuration from the
// environment.
func NewModule() *Module {
	backend := os.Getenv("BACKLOG_BACKEND")
	if backend == "" {
		backend = "sqlite"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "backlog.db"
	}
	return &Module{
		backend:   backend,
		redisAddr: redisAddr,
		prefix:    "room:",
		dbPath:    dbPath,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "backlog"
}

// Start connects the configured backend.
func (m *Module) Start(ctx context.Context) error {
	switch m.backend {
	case "redis":
		m.client = redis.NewClient(&redis.Options{
			Addr:         m.redisAddr,
			PoolSize:     50,
			MinIdleConns: 5,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		if err := m.client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		m.store = NewRedisStore(m.client, m.prefix)
		log.Printf("[backlog] Using Redis backend at %s (prefix: %s)", m.redisAddr, m.prefix)

	case "memory":
		m.store = NewMemoryStore()
		log.Println("[backlog] Using in-memory backend (entries will not survive a restart)")

	case "sqlite":
		logLevel := gormlogger.Silent
		if os.Getenv("DB_DEBUG") == "true" {
			logLevel = gormlogger.Info
		}
		db, err := gorm.Open(sqlite.Open(m.dbPath), &gorm.Config{
			Logger: gormlogger.Default.LogMode(logLevel),
		})
		if err != nil {
			return fmt.Errorf("failed to open database %s: %w", m.dbPath, err)
		}
		store, err := NewGormStore(db)
		if err != nil {
			return err
		}
		m.db = db
		m.store = store
		log.Printf("[backlog] Using SQLite backend at %s", m.dbPath)

	default:
		return fmt.Errorf("unknown backlog backend %q", m.backend)
	}

	log.Println("[backlog] Module started")
	return nil
}

// Stop closes the backend connection.
func (m *Module) Stop(_ context.Context) error {
	if m.client != nil {
		if err := m.client.Close(); err != nil {
			return fmt.Errorf("failed to close Redis connection: %w", err)
		}
	}
	if m.db != nil {
		sqlDB, err := m.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				return fmt.Errorf("failed to close database: %w", err)
			}
		}
	}
	log.Println("[backlog] Module stopped")
	return nil
}

// Health reports the backend's health.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.store == nil {
		return mono.HealthStatus{Healthy: false, Message: "store not started"}
	}

	type pinger interface {
		Ping(ctx context.Context) error
	}
	if p, ok := m.store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return mono.HealthStatus{
				Healthy: false,
				Message: fmt.Sprintf("backend unreachable: %v", err),
				Details: map[string]any{"backend": m.backend},
			}
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"backend": m.backend},
	}
}

// BacklogStore delegation. Dependents hold the module and see whichever
// backend Start selected.

func (m *Module) Put(ctx context.Context, roomID, key string, value []byte) error {
	if m.store == nil {
		return fmt.Errorf("backlog store not started")
	}
	return m.store.Put(ctx, roomID, key, value)
}

func (m *Module) Delete(ctx context.Context, roomID, key string) error {
	if m.store == nil {
		return fmt.Errorf("backlog store not started")
	}
	return m.store.Delete(ctx, roomID, key)
}

func (m *Module) List(ctx context.Context, roomID string, opts domain.ListOptions) ([]domain.Entry, error) {
	if m.store == nil {
		return nil, fmt.Errorf("backlog store not started")
	}
	return m.store.List(ctx, roomID, opts)
}
