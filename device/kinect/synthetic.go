package kinect

import (
	"context"
	"io"
	"time"
)

// SyntheticConfig shapes generated frames.
type SyntheticConfig struct {
	Width  int
	Height int
	// FPS paces Next. Zero returns frames as fast as they are requested.
	FPS int
	// Period is how many frames a simulated visitor stays, then leaves for
	// as many frames. Zero keeps the scene empty.
	Period int
	// BackgroundMM and SubjectMM are the depths of the wall and the visitor.
	BackgroundMM uint16
	SubjectMM    uint16
	// Frames ends the stream with io.EOF after that many frames. Zero is unbounded.
	Frames uint64
	// Fail, when set, is returned instead of the frame with Seq == FailAt.
	Fail   error
	FailAt uint64
}

// SyntheticSource generates a static scene with a visitor that periodically
// walks in front of the camera. It needs no hardware.
type SyntheticSource struct {
	cfg    SyntheticConfig
	seq    uint64
	ticker *time.Ticker
	now    func() time.Time
}

// NewSyntheticSource returns a generator with defaults filled in.
func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	if cfg.Width <= 0 {
		cfg.Width = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 48
	}
	if cfg.BackgroundMM == 0 {
		cfg.BackgroundMM = 3000
	}
	if cfg.SubjectMM == 0 {
		cfg.SubjectMM = 900
	}
	s := &SyntheticSource{cfg: cfg, now: time.Now}
	if cfg.FPS > 0 {
		s.ticker = time.NewTicker(time.Second / time.Duration(cfg.FPS))
	}
	return s
}

// Next returns the next generated frame.
func (s *SyntheticSource) Next(ctx context.Context) (DepthFrame, error) {
	if s.cfg.Frames > 0 && s.seq >= s.cfg.Frames {
		return DepthFrame{}, io.EOF
	}
	if s.ticker != nil {
		select {
		case <-ctx.Done():
			return DepthFrame{}, ctx.Err()
		case <-s.ticker.C:
		}
	} else if err := ctx.Err(); err != nil {
		return DepthFrame{}, err
	}

	seq := s.seq
	s.seq++
	if s.cfg.Fail != nil && seq == s.cfg.FailAt {
		return DepthFrame{}, s.cfg.Fail
	}

	return DepthFrame{
		Width:    s.cfg.Width,
		Height:   s.cfg.Height,
		Depth:    s.render(seq),
		Seq:      seq,
		Captured: s.now(),
	}, nil
}

func (s *SyntheticSource) visitorPresent(seq uint64) bool {
	if s.cfg.Period <= 0 {
		return false
	}
	return (seq/uint64(s.cfg.Period))%2 == 1
}

// render draws the background and, when present, a visitor covering the
// middle third of the frame. The top row has no readings, like the dead band
// a real sensor reports.
func (s *SyntheticSource) render(seq uint64) []uint16 {
	w, h := s.cfg.Width, s.cfg.Height
	depth := make([]uint16, w*h)
	visitor := s.visitorPresent(seq)
	for y := 1; y < h; y++ {
		for x := 0; x < w; x++ {
			d := s.cfg.BackgroundMM
			if visitor && x >= w/3 && x < 2*w/3 {
				d = s.cfg.SubjectMM
			}
			depth[y*w+x] = d
		}
	}
	return depth
}

// Close stops the pacing ticker.
func (s *SyntheticSource) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return nil
}
