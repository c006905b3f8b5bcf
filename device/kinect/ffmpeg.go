package kinect

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// V4L2Config describes how the depth node is opened.
type V4L2Config struct {
	// Path is the V4L2 device node, e.g. /dev/video1.
	Path string
	// FFmpegPath is the ffmpeg binary. Defaults to "ffmpeg" on $PATH.
	FFmpegPath string
	Width      int
	Height     int
	FPS        int
}

// ffmpegArgs reads the device and writes raw little-endian 16-bit depth
// samples to stdout, one frame after another.
func (c V4L2Config) ffmpegArgs() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"-framerate", strconv.Itoa(c.FPS),
		"-i", c.Path,
		"-f", "rawvideo",
		"-pix_fmt", "gray16le",
		"-",
	}
}

// commandContext allows overriding process creation for testing.
var commandContext = exec.CommandContext

// StreamSource decodes consecutive gray16le frames from a byte stream.
type StreamSource struct {
	r      *bufio.Reader
	width  int
	height int
	buf    []byte
	seq    uint64
	now    func() time.Time

	// classify turns read errors into source errors, e.g. ErrDisconnected.
	classify func(error) error
	closer   func() error
}

// NewStreamSource reads frames of width x height from r.
func NewStreamSource(r io.Reader, width, height int) *StreamSource {
	return &StreamSource{
		r:        bufio.NewReaderSize(r, width*height*2),
		width:    width,
		height:   height,
		buf:      make([]byte, width*height*2),
		now:      time.Now,
		classify: func(err error) error { return err },
		closer:   func() error { return nil },
	}
}

// Next blocks until a whole frame has been read. A partial trailing frame is
// reported as io.ErrUnexpectedEOF.
func (s *StreamSource) Next(ctx context.Context) (DepthFrame, error) {
	if err := ctx.Err(); err != nil {
		return DepthFrame{}, err
	}
	if _, err := io.ReadFull(s.r, s.buf); err != nil {
		return DepthFrame{}, s.classify(err)
	}

	depth := make([]uint16, s.width*s.height)
	for i := range depth {
		depth[i] = binary.LittleEndian.Uint16(s.buf[2*i:])
	}
	f := DepthFrame{
		Width:    s.width,
		Height:   s.height,
		Depth:    depth,
		Seq:      s.seq,
		Captured: s.now(),
	}
	s.seq++
	return f, nil
}

// Close releases the underlying stream.
func (s *StreamSource) Close() error {
	return s.closer()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// disconnectMarkers are ffmpeg/v4l2 messages seen when the camera is unplugged.
var disconnectMarkers = []string{
	"No such device",
	"No such file or directory",
	"Input/output error",
}

func classifyStderr(readErr error, stderr string) error {
	for _, marker := range disconnectMarkers {
		if strings.Contains(stderr, marker) {
			return fmt.Errorf("%w: %s", ErrDisconnected, stderr)
		}
	}
	if errors.Is(readErr, io.EOF) && stderr == "" {
		return io.EOF
	}
	if stderr != "" {
		return fmt.Errorf("%w (ffmpeg: %s)", readErr, stderr)
	}
	return readErr
}

// OpenV4L2 starts ffmpeg on the device node and returns a source reading
// its output. Closing the source stops ffmpeg.
func OpenV4L2(ctx context.Context, cfg V4L2Config) (*StreamSource, error) {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return nil, fmt.Errorf("v4l2: invalid mode %dx%d@%d", cfg.Width, cfg.Height, cfg.FPS)
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := commandContext(procCtx, cfg.FFmpegPath, cfg.ffmpegArgs()...)
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("v4l2: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("v4l2: start %s: %w", cfg.FFmpegPath, err)
	}

	src := NewStreamSource(stdout, cfg.Width, cfg.Height)

	var waitOnce sync.Once
	var waitErr error
	wait := func() error {
		waitOnce.Do(func() { waitErr = cmd.Wait() })
		return waitErr
	}

	src.classify = func(readErr error) error {
		// Reap the process so stderr is complete before classifying.
		_ = wait()
		return classifyStderr(readErr, stderr.String())
	}
	src.closer = func() error {
		cancel()
		err := wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) || errors.Is(err, context.Canceled) {
			// ffmpeg killed by our cancel is the normal way to stop.
			return nil
		}
		return err
	}
	return src, nil
}
