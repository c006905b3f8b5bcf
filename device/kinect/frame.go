package kinect

import (
	"context"
	"errors"
	"time"
)

// ErrDisconnected is reported when the camera vanishes mid-capture.
var ErrDisconnected = errors.New("USB disconnected")

// DepthFrame is one depth image. Depth holds millimetres in row-major order;
// zero means no reading for that pixel.
type DepthFrame struct {
	Width    int
	Height   int
	Depth    []uint16
	Seq      uint64
	Captured time.Time
}

// FrameSource produces depth frames. Next returns io.EOF when the stream
// ends and ErrDisconnected (possibly wrapped) when the device is gone.
type FrameSource interface {
	Next(ctx context.Context) (DepthFrame, error)
	Close() error
}
