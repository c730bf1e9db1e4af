package capture

import (
	"context"
	"errors"

	"github.com/ctmphuongg/weapon-detection-app/pkg/types"
)

// ErrNoFrame signals a transient decode miss: the connection is healthy but
// no frame was produced. Callers should yield briefly and retry without
// counting it as a connection failure.
var ErrNoFrame = errors.New("capture: no frame available")

// Source owns the physical connection to a video source.
type Source interface {
	// Open establishes the connection. The context bounds the attempt.
	Open(ctx context.Context) error
	// Read returns the next frame, ErrNoFrame on a transient miss, or a
	// connection-level error that requires a reconnect.
	Read() (*types.Frame, error)
	// Close releases the connection. Safe to call when not open.
	Close() error
}
