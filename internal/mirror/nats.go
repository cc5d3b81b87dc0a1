// Package mirror republishes live snapshots onto NATS so other services can
// consume them without a WebSocket connection.
package mirror

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("mirror closed")

// Publisher is the subset of *nats.Conn used here.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes each snapshot to "<prefix>.<systemId>".
type NATS struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// New wraps an existing publisher.
func New(pub Publisher, prefix string, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{pub: pub, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Connect dials url and keeps reconnecting in the background.
func Connect(url, prefix string, logger *slog.Logger) (*NATS, error) {
	m := New(nil, prefix, logger)
	conn, err := nats.Connect(url,
		nats.Name("pumpmon"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			m.logger.Warn("nats mirror disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			m.logger.Info("nats mirror reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	m.conn = conn
	m.pub = conn
	return m, nil
}

// Subject returns the subject snapshots of systemID are published on.
func (m *NATS) Subject(systemID string) string {
	return m.prefix + "." + subjectToken(systemID)
}

// PublishSnapshot publishes one encoded snapshot.
func (m *NATS) PublishSnapshot(systemID string, data []byte) error {
	if m.pub == nil {
		return ErrClosed
	}
	return m.pub.Publish(m.Subject(systemID), data)
}

// Close drains the connection if this mirror owns one.
func (m *NATS) Close() error {
	if m.conn == nil {
		m.pub = nil
		return nil
	}
	err := m.conn.Drain()
	m.pub = nil
	return err
}

// subjectToken makes systemID safe as a single subject token.
func subjectToken(systemID string) string {
	if systemID == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, systemID)
}
