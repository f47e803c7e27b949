// Package bus runs an embedded NATS server so external automations can
// subscribe to hub events without the hub depending on outside
// infrastructure.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/camhub-project/camhub/internal/config"
)

// Subjects published by the hub.
const (
	SubjectMotion        = "cameras.motion"
	SubjectConfigChanged = "config.changed"

	lifecyclePrefix = "cameras.lifecycle."
)

// SubjectLifecycle builds the subject for a camera lifecycle event such
// as "connected" or "removed".
func SubjectLifecycle(event string) string {
	return lifecyclePrefix + event
}

// Bus wraps an embedded NATS server plus a local client connection.
type Bus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subsMu sync.Mutex
	subs   map[string][]*nats.Subscription
}

// Start boots the embedded server and connects to it.
func Start(cfg config.BusConfig) (*Bus, error) {
	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded bus: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded bus not ready after 2 seconds (port %d)", cfg.Port)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded bus: %w", err)
	}

	b := &Bus{
		server: ns,
		conn:   nc,
		logger: slog.Default().With("component", "bus"),
		subs:   make(map[string][]*nats.Subscription),
	}
	b.logger.Info("Event bus started", "url", ns.ClientURL())
	return b, nil
}

// ClientURL returns the URL external clients connect with.
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Publish marshals data to JSON and publishes it on subject. Failures are
// logged, never propagated: bus delivery is best effort and must not
// disturb the publishing path.
func (b *Bus) Publish(subject string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		b.logger.Error("Failed to marshal bus message", "subject", subject, "error", err)
		return
	}
	if err := b.conn.Publish(subject, payload); err != nil {
		b.logger.Error("Failed to publish bus message", "subject", subject, "error", err)
	}
}

// Subscribe registers a handler for a subject. Used by tests and by the
// websocket bridge.
func (b *Bus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}
	b.subsMu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.subsMu.Unlock()
	return sub, nil
}

// HealthCheck verifies the local connection is alive.
func (b *Bus) HealthCheck(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("bus connection not active")
	}
	return nil
}

// Stop drains the client connection and shuts down the server.
func (b *Bus) Stop() {
	b.subsMu.Lock()
	for _, subs := range b.subs {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}
	b.subs = make(map[string][]*nats.Subscription)
	b.subsMu.Unlock()

	_ = b.conn.Drain()
	b.server.Shutdown()
	b.logger.Info("Event bus stopped")
}
