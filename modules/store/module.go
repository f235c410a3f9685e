package store

import (
	"context"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
)

// Module owns the connection to the JetStream bucket for the application's
// lifetime.
type Module struct {
	cfg    Config
	store  *JetStreamStore
	logger types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new store module.
func NewModule(cfg Config, logger types.Logger) *Module {
	return &Module{
		cfg:    cfg,
		logger: logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "store"
}

// Start connects to NATS and opens the bucket.
func (m *Module) Start(ctx context.Context) error {
	s, err := NewJetStreamStore(ctx, m.cfg)
	if err != nil {
		return fmt.Errorf("failed to start store: %w", err)
	}
	m.store = s

	m.logger.Info("Store module started", "url", m.cfg.URL, "bucket", m.cfg.Bucket)
	return nil
}

// Stop closes the NATS connection.
func (m *Module) Stop(_ context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	m.logger.Info("Store module stopped")
	return nil
}

// Health reports the NATS connection state.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.store == nil {
		return mono.HealthStatus{Healthy: false, Message: "not started"}
	}
	connected := m.store.IsConnected()
	message := "connected"
	if !connected {
		message = "disconnected"
	}
	return mono.HealthStatus{
		Healthy: connected,
		Message: message,
		Details: map[string]any{
			"bucket": m.store.Bucket(),
			"url":    m.cfg.URL,
		},
	}
}

// Store returns the opened store. It is nil before Start.
func (m *Module) Store() Store {
	if m.store == nil {
		return nil
	}
	return m.store
}
