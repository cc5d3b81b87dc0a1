package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/frame"
)

// Config describes one simulated device connection.
type Config struct {
	URL      string
	SystemID string
	Label    string
	Token    string
	Interval time.Duration
	Jitter   time.Duration
	Seed     int64
	// Anonymous skips the identification frame so the server assigns its
	// default system.
	Anonymous bool
}

// Device streams pump telemetry over one WebSocket until its context ends.
type Device struct {
	cfg    Config
	pump   *Pump
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	sent     int
	sentMu   sync.Mutex
	received chan []byte
}

// DialURL builds the device endpoint URL from a base such as ws://host:8080/ws.
func DialURL(cfg Config) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", cfg.URL, err)
	}
	q := u.Query()
	q.Set("role", "device")
	if cfg.SystemID != "" && !cfg.Anonymous {
		q.Set("systemId", cfg.SystemID)
	}
	if cfg.Label != "" {
		q.Set("label", cfg.Label)
	}
	if cfg.Token != "" {
		q.Set("token", cfg.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects a simulated device.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	target, err := DialURL(cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", cfg.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	return &Device{
		cfg:      cfg,
		pump:     NewPump(cfg.Seed),
		logger:   logger.With("system_id", cfg.SystemID),
		conn:     conn,
		received: make(chan []byte, 64),
	}, nil
}

// Received delivers frames pushed by the server, such as relayed operator
// messages. Frames are dropped when nobody reads.
func (d *Device) Received() <-chan []byte { return d.received }

// Sent returns how many telemetry frames have been written.
func (d *Device) Sent() int {
	d.sentMu.Lock()
	defer d.sentMu.Unlock()
	return d.sent
}

// Run identifies the device and sends one pump cycle per interval until ctx
// is cancelled or the connection fails. The connection is closed on return.
func (d *Device) Run(ctx context.Context) error {
	defer d.close()

	readErr := make(chan error, 1)
	go func() { readErr <- d.readLoop() }()

	if !d.cfg.Anonymous && d.cfg.SystemID != "" {
		if err := d.writeJSON(frame.Identification{SystemID: d.cfg.SystemID}); err != nil {
			return fmt.Errorf("identify: %w", err)
		}
		d.logger.Info("device identified")
	}

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	if err := d.sendCycle(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case <-ticker.C:
			if err := d.sendCycle(); err != nil {
				return err
			}
		}
	}
}

// SendOperatorMessage sends a free-text operator message from this device.
func (d *Device) SendOperatorMessage(text, scope string) error {
	return d.writeJSON(frame.OperatorMessage{
		Type:     frame.TypeOperatorMessage,
		Text:     text,
		Scope:    scope,
		SystemID: d.cfg.SystemID,
	})
}

func (d *Device) sendCycle() error {
	frames := d.pump.Cycle(time.Now(), d.cfg.Jitter)
	for _, f := range frames {
		if err := d.writeJSON(f); err != nil {
			return fmt.Errorf("send %s: %w", f.MessageType, err)
		}
	}
	d.sentMu.Lock()
	d.sent += len(frames)
	d.sentMu.Unlock()
	d.logger.Debug("pump cycle sent", "frames", len(frames))
	return nil
}

func (d *Device) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_ = d.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return d.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop keeps control frames flowing and forwards server pushes.
func (d *Device) readLoop() error {
	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		select {
		case d.received <- data:
		default:
		}
	}
}

func (d *Device) close() {
	d.writeMu.Lock()
	_ = d.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	d.writeMu.Unlock()
	_ = d.conn.Close()
}
