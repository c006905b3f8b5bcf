package kinect

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeFrames(frames ...[]uint16) []byte {
	var buf bytes.Buffer
	for _, f := range frames {
		for _, d := range f {
			_ = binary.Write(&buf, binary.LittleEndian, d)
		}
	}
	return buf.Bytes()
}

func TestV4L2Config_FFmpegArgs(t *testing.T) {
	cfg := V4L2Config{Path: "/dev/video1", Width: 640, Height: 480, FPS: 30}
	assert.Equal(t, []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", "640x480",
		"-framerate", "30",
		"-i", "/dev/video1",
		"-f", "rawvideo",
		"-pix_fmt", "gray16le",
		"-",
	}, cfg.ffmpegArgs())
}

func TestStreamSource_DecodesFrames(t *testing.T) {
	data := encodeFrames([]uint16{1, 2, 3, 4}, []uint16{500, 0, 65535, 1200})
	src := NewStreamSource(bytes.NewReader(data), 2, 2)

	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2, 3, 4}, f.Depth)
	assert.Equal(t, uint64(0), f.Seq)

	f, err = src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint16{500, 0, 65535, 1200}, f.Depth)
	assert.Equal(t, uint64(1), f.Seq)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, src.Close())
}

func TestStreamSource_PartialFrame(t *testing.T) {
	data := encodeFrames([]uint16{1, 2, 3})
	src := NewStreamSource(bytes.NewReader(data), 2, 2)

	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStreamSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := NewStreamSource(bytes.NewReader(nil), 2, 2)

	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifyStderr(t *testing.T) {
	tests := []struct {
		name    string
		readErr error
		stderr  string
		want    error
	}{
		{"unplugged", io.EOF, "/dev/video1: No such device", ErrDisconnected},
		{"missing node", io.EOF, "/dev/video1: No such file or directory", ErrDisconnected},
		{"io error", io.ErrUnexpectedEOF, "ioctl(VIDIOC_DQBUF): Input/output error", ErrDisconnected},
		{"clean end", io.EOF, "", io.EOF},
		{"other", io.EOF, "Invalid argument", io.EOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyStderr(tt.readErr, tt.stderr), tt.want)
		})
	}

	err := classifyStderr(io.EOF, "Invalid argument")
	assert.Contains(t, err.Error(), "ffmpeg: Invalid argument")
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 8}
	_, _ = tb.Write([]byte("0123456789"))
	_, _ = tb.Write([]byte("ab"))
	assert.Equal(t, "456789ab", tb.String())
}

func TestOpenV4L2_InvalidMode(t *testing.T) {
	_, err := OpenV4L2(context.Background(), V4L2Config{Path: "/dev/video1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mode")
}

func TestOpenV4L2_StartFailure(t *testing.T) {
	_, err := OpenV4L2(context.Background(), V4L2Config{
		Path:       "/dev/video1",
		FFmpegPath: "/nonexistent/ffmpeg",
		Width:      2,
		Height:     2,
		FPS:        30,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start /nonexistent/ffmpeg")
}

func TestOpenV4L2_ReadsProcessOutput(t *testing.T) {
	original := commandContext
	defer func() { commandContext = original }()

	var gotArgs []string
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		gotArgs = args
		// Two 2x1 frames: 1,2 and 3,4 little-endian.
		return exec.CommandContext(ctx, "printf", `\001\000\002\000\003\000\004\000`)
	}

	src, err := OpenV4L2(context.Background(), V4L2Config{Path: "/dev/video1", Width: 2, Height: 1, FPS: 30})
	require.NoError(t, err)
	defer src.Close()
	assert.Contains(t, gotArgs, "/dev/video1")

	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2}, f.Depth)
	f, err = src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint16{3, 4}, f.Depth)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenV4L2_Disconnect(t *testing.T) {
	original := commandContext
	defer func() { commandContext = original }()

	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "echo '/dev/video1: No such device' >&2; exit 1")
	}

	src, err := OpenV4L2(context.Background(), V4L2Config{Path: "/dev/video1", Width: 2, Height: 1, FPS: 30})
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next(context.Background())
	assert.True(t, errors.Is(err, ErrDisconnected), "got %v", err)
}
