package types

import (
	"image"
	"time"
)

// Frame represents one decoded image read from the video source
type Frame struct {
	Image     image.Image // Decoded pixel data
	Timestamp time.Time   // Capture timestamp
	Number    uint64      // Monotonic sequence number
}
