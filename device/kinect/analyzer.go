package kinect

import "math"

// Stats summarises one depth frame.
type Stats struct {
	MinMM      uint16
	MaxMM      uint16
	MeanMM     float64
	ValidRatio float64
	NearRatio  float64
}

// Analyzer turns frames into statistics and presence transitions. A subject
// is considered present once NearRatio reaches PresenceRatio and absent
// again only when it falls below half of it, so borderline frames do not
// flap.
type Analyzer struct {
	NearThresholdMM uint16
	PresenceRatio   float64

	present bool
}

// Present reports the current presence state.
func (a *Analyzer) Present() bool {
	return a.present
}

// Analyze computes frame statistics. changed is true when the presence state
// flipped on this frame.
func (a *Analyzer) Analyze(f DepthFrame) (stats Stats, changed bool) {
	stats = summarize(f.Depth, a.NearThresholdMM)

	switch {
	case !a.present && stats.NearRatio >= a.PresenceRatio:
		a.present = true
		changed = true
	case a.present && stats.NearRatio < a.PresenceRatio/2:
		a.present = false
		changed = true
	}
	return stats, changed
}

func summarize(depth []uint16, near uint16) Stats {
	if len(depth) == 0 {
		return Stats{}
	}

	var (
		minMM uint16 = math.MaxUint16
		maxMM uint16
		sum   uint64
		valid int
		nearN int
	)
	for _, d := range depth {
		if d == 0 {
			continue
		}
		valid++
		sum += uint64(d)
		if d < minMM {
			minMM = d
		}
		if d > maxMM {
			maxMM = d
		}
		if d < near {
			nearN++
		}
	}
	if valid == 0 {
		return Stats{}
	}

	total := float64(len(depth))
	return Stats{
		MinMM:      minMM,
		MaxMM:      maxMM,
		MeanMM:     float64(sum) / float64(valid),
		ValidRatio: float64(valid) / total,
		NearRatio:  float64(nearN) / total,
	}
}
