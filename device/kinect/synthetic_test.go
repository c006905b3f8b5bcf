package kinect

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticSource_Defaults(t *testing.T) {
	src := NewSyntheticSource(SyntheticConfig{})
	defer src.Close()

	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64, f.Width)
	assert.Equal(t, 48, f.Height)
	assert.Len(t, f.Depth, 64*48)
	assert.Equal(t, uint16(0), f.Depth[0])
	assert.Equal(t, uint16(3000), f.Depth[64])
}

func TestSyntheticSource_Visitor(t *testing.T) {
	src := NewSyntheticSource(SyntheticConfig{Width: 9, Height: 3, Period: 2})
	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return fixed }

	var frames []DepthFrame
	for i := 0; i < 4; i++ {
		f, err := src.Next(context.Background())
		require.NoError(t, err)
		frames = append(frames, f)
	}

	assert.Equal(t, uint64(3), frames[3].Seq)
	assert.Equal(t, fixed, frames[0].Captured)
	// Row 1, column 4 sits in the middle third.
	assert.Equal(t, uint16(3000), frames[1].Depth[9+4])
	assert.Equal(t, uint16(900), frames[2].Depth[9+4])
	assert.Equal(t, uint16(3000), frames[2].Depth[9+0])
}

func TestSyntheticSource_EndsAndFails(t *testing.T) {
	boom := errors.New("boom")
	src := NewSyntheticSource(SyntheticConfig{Frames: 2, Fail: boom, FailAt: 1})

	_, err := src.Next(context.Background())
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, boom)
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestSyntheticSource_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	unpaced := NewSyntheticSource(SyntheticConfig{})
	_, err := unpaced.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	paced := NewSyntheticSource(SyntheticConfig{FPS: 1})
	defer paced.Close()
	_, err = paced.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
