package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ctmphuongg/weapon-detection-app/pkg/types"
)

// RTSPSource reads frames from an RTSP camera via OpenCV.
type RTSPSource struct {
	url string

	mu      sync.Mutex
	cap     *gocv.VideoCapture
	mat     gocv.Mat
	nextNum uint64
}

// NewRTSPSource creates a source for the given RTSP URL. The connection is
// not opened until Open is called.
func NewRTSPSource(url string) *RTSPSource {
	return &RTSPSource{url: url}
}

// Open connects to the camera. OpenCV blocks while negotiating the stream,
// so the dial runs in a goroutine and is abandoned when the context expires.
func (s *RTSPSource) Open(ctx context.Context) error {
	type result struct {
		cap *gocv.VideoCapture
		err error
	}
	done := make(chan result, 1)

	go func() {
		cap, err := gocv.OpenVideoCapture(s.url)
		if err == nil && !cap.IsOpened() {
			_ = cap.Close()
			cap, err = nil, fmt.Errorf("stream not opened: %s", s.url)
		}
		done <- result{cap: cap, err: err}
	}()

	select {
	case <-ctx.Done():
		// Release the capture whenever the abandoned dial completes.
		go func() {
			if r := <-done; r.cap != nil {
				_ = r.cap.Close()
			}
		}()
		return fmt.Errorf("open %s: %w", s.url, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("open %s: %w", s.url, r.err)
		}
		s.mu.Lock()
		s.cap = r.cap
		s.mat = gocv.NewMat()
		s.mu.Unlock()
		return nil
	}
}

// Read decodes the next frame.
func (s *RTSPSource) Read() (*types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cap == nil {
		return nil, fmt.Errorf("read %s: source not open", s.url)
	}
	if ok := s.cap.Read(&s.mat); !ok {
		return nil, fmt.Errorf("read %s: stream read failed", s.url)
	}
	if s.mat.Empty() {
		return nil, ErrNoFrame
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return nil, ErrNoFrame
	}

	s.nextNum++
	return &types.Frame{
		Image:     img,
		Timestamp: time.Now(),
		Number:    s.nextNum,
	}, nil
}

// Close releases the capture handle.
func (s *RTSPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cap == nil {
		return nil
	}
	err := s.cap.Close()
	s.cap = nil
	_ = s.mat.Close()
	return err
}
