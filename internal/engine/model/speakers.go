package model

import (
	"fmt"
	"math"
	"sync"

	"github.com/meetwren/wren/internal/domain"
)

// voiceprint is a coarse acoustic fingerprint of a PCM chunk. The chunk
// transcription API does not diarise, so speaker attribution clusters
// chunks by signal shape instead: root-mean-square energy plus
// zero-crossing rate separates voices well enough at two-second
// granularity, and crucially is stable, so the same voice keeps the same
// speaker id for the whole session.
type voiceprint struct {
	rms       float64
	zeroCross float64
}

// distance is the euclidean distance between two voiceprints in the
// normalised (rms, zeroCross) plane.
func (v voiceprint) distance(o voiceprint) float64 {
	dr := v.rms - o.rms
	dz := v.zeroCross - o.zeroCross
	return math.Sqrt(dr*dr + dz*dz)
}

// fingerprint computes the voiceprint of little-endian 16-bit PCM samples.
func fingerprint(pcm []byte) voiceprint {
	n := len(pcm) / 2
	if n == 0 {
		return voiceprint{}
	}

	var sumSq float64
	var crossings int
	var prev int16
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(pcm[i]) | int16(pcm[i+1])<<8
		f := float64(s) / 32768.0
		sumSq += f * f
		if i > 0 && (s >= 0) != (prev >= 0) {
			crossings++
		}
		prev = s
	}

	return voiceprint{
		rms:       math.Sqrt(sumSq / float64(n)),
		zeroCross: float64(crossings) / float64(n),
	}
}

// speakerTracker clusters voiceprints into speakers. The first voice a
// tracker sees is assumed to be the host.
type speakerTracker struct {
	mu        sync.Mutex
	tolerance float64
	known     []trackedSpeaker
}

type trackedSpeaker struct {
	print   voiceprint
	speaker domain.Speaker
}

func newSpeakerTracker(tolerance float64) *speakerTracker {
	if tolerance <= 0 {
		tolerance = 0.05
	}
	return &speakerTracker{tolerance: tolerance}
}

// identify returns the speaker whose voiceprint is nearest to the chunk's,
// registering a new speaker when nothing is within tolerance.
func (t *speakerTracker) identify(pcm []byte) domain.Speaker {
	print := fingerprint(pcm)

	t.mu.Lock()
	defer t.mu.Unlock()

	best := -1
	bestDist := math.Inf(1)
	for i, ts := range t.known {
		if d := print.distance(ts.print); d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best >= 0 && bestDist <= t.tolerance {
		return t.known[best].speaker
	}

	ord := len(t.known)
	role := domain.RoleParticipant
	if ord == 0 {
		role = domain.RoleHost
	}
	sp := domain.Speaker{
		SpeakerID:      fmt.Sprintf("speaker-%d", ord),
		Name:           fmt.Sprintf("Speaker %d", ord+1),
		Role:           role,
		Confidence:     0.7,
		VoiceSignature: fmt.Sprintf("vp-%.3f-%.3f", print.rms, print.zeroCross),
	}
	t.known = append(t.known, trackedSpeaker{print: print, speaker: sp})
	return sp
}

// speakers returns all speakers identified so far, in discovery order.
func (t *speakerTracker) speakers() []domain.Speaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Speaker, len(t.known))
	for i, ts := range t.known {
		out[i] = ts.speaker
	}
	return out
}
