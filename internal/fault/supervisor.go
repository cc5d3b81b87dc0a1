package fault

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/metrics"
)

// Supervisor records the first fatal error and cancels the root context.
type Supervisor struct {
	cancel  context.CancelFunc
	logger  *slog.Logger
	metrics *metrics.Metrics

	once sync.Once
	mu   sync.Mutex
	err  error
}

// NewSupervisor derives a cancellable context from parent.
func NewSupervisor(parent context.Context, logger *slog.Logger, m *metrics.Metrics) (*Supervisor, context.Context) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{cancel: cancel, logger: logger, metrics: m}, ctx
}

// Report classifies err from op. Non-fatal errors are logged at debug and
// false is returned; a fatal error stops the process context.
func (s *Supervisor) Report(op string, err error) bool {
	if err == nil {
		return false
	}
	wrapped := Wrap(op, err)
	if !IsFatal(wrapped) {
		s.logger.Debug("connection error", "op", op, "error", err)
		return false
	}
	s.Fatal(wrapped)
	return true
}

// Fatal stops the process context with err. Only the first call is recorded.
func (s *Supervisor) Fatal(err error) {
	if err == nil {
		return
	}
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()

		token := "UNKNOWN"
		var fe *Error
		if errors.As(err, &fe) {
			token = fe.Token
		}
		s.metrics.FatalError(token)
		s.logger.Error("fatal error, shutting down", "cause", token, "error", err)
		s.cancel()
	})
}

// Err returns the recorded fatal error, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop cancels the context without recording an error.
func (s *Supervisor) Stop() {
	s.cancel()
}
