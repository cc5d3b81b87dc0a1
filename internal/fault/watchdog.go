package fault

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"
)

var (
	ErrMemoryCeiling     = errors.New("memory ceiling exceeded")
	ErrConnectionCeiling = errors.New("connection ceiling exceeded")
)

// Watchdog checks resource ceilings on a fixed interval.
type Watchdog struct {
	Interval       time.Duration
	MaxMemoryBytes uint64
	MaxConnections int

	// Connections returns the current open connection count.
	Connections func() int
	// HeapBytes returns the live heap size; defaults to runtime.MemStats.HeapAlloc.
	HeapBytes func() uint64
}

// Check returns a fatal *Error when a ceiling is exceeded.
func (w *Watchdog) Check() error {
	heap := w.heapBytes()
	if w.MaxMemoryBytes > 0 && heap > w.MaxMemoryBytes {
		return &Error{
			Class: Fatal,
			Token: "MEMORY",
			Op:    "watchdog",
			Cause: fmt.Errorf("%w: heap %d > %d bytes", ErrMemoryCeiling, heap, w.MaxMemoryBytes),
		}
	}
	if w.Connections != nil && w.MaxConnections > 0 {
		if n := w.Connections(); n > w.MaxConnections {
			return &Error{
				Class: Fatal,
				Token: "CONNECTIONS",
				Op:    "watchdog",
				Cause: fmt.Errorf("%w: %d > %d", ErrConnectionCeiling, n, w.MaxConnections),
			}
		}
	}
	return nil
}

func (w *Watchdog) heapBytes() uint64 {
	if w.HeapBytes != nil {
		return w.HeapBytes()
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Run checks every Interval until ctx is done and hands the first failure to sup.
func (w *Watchdog) Run(ctx context.Context, sup *Supervisor) {
	interval := w.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Check(); err != nil {
				sup.Fatal(err)
				return
			}
		}
	}
}
