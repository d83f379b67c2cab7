package narration

import (
	"math"
	"sync"
	"time"

	"github.com/book-expert/narration-service/internal/narration/qc"
)

// MaxVoiceProfiles bounds the voice profile cache. The oldest entry is
// evicted when a new (voice, prosody) pair would exceed it.
const MaxVoiceProfiles = 64

const (
	// profileHalfLife controls how quickly older observations stop
	// influencing the smoothed profile.
	profileHalfLife = 10 * time.Minute

	// profileMaxAge is the staleness bound; entries untouched for longer
	// are swept.
	profileMaxAge = 30 * time.Minute
)

type voiceKey struct {
	voice   string
	prosody string
}

type voiceProfile struct {
	updatedAt time.Time
	analysis  qc.Analysis
	weight    float64
}

// VoiceProfileCache accumulates a smoothed acoustic profile per (voice,
// prosody context) pair across narration runs. Each run folds its reference
// analysis in with a time-decayed weight, so the profile tracks what a voice
// normally sounds like and a run that deviates sharply from it can be
// flagged. Entries untouched for profileMaxAge are swept on access.
type VoiceProfileCache struct {
	mu      sync.Mutex
	entries map[voiceKey]*voiceProfile
	now     func() time.Time
}

// NewVoiceProfileCache creates an empty cache. A nil now func uses time.Now;
// tests inject a fake clock.
func NewVoiceProfileCache(now func() time.Time) *VoiceProfileCache {
	if now == nil {
		now = time.Now
	}

	return &VoiceProfileCache{
		entries: make(map[voiceKey]*voiceProfile),
		now:     now,
	}
}

// Observe folds one run's reference analysis into the profile for the given
// voice and prosody context. The update is a time-decayed weighted mean: the
// existing profile's weight halves every profileHalfLife, then the new
// observation joins with weight 1.
func (c *VoiceProfileCache) Observe(voice, prosody string, analysis *qc.Analysis) {
	if analysis == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)

	key := voiceKey{voice: voice, prosody: prosody}

	entry, ok := c.entries[key]
	if !ok {
		c.evictOldestLocked()

		c.entries[key] = &voiceProfile{
			updatedAt: now,
			analysis:  *analysis,
			weight:    1,
		}

		return
	}

	decayed := entry.weight * decayFactor(now.Sub(entry.updatedAt))
	weight := decayed + 1

	entry.analysis = lerpAnalysis(entry.analysis, *analysis, 1/weight)
	entry.weight = weight
	entry.updatedAt = now
}

// Lookup returns a copy of the smoothed profile for the given voice and
// prosody context, when one is cached and fresh.
func (c *VoiceProfileCache) Lookup(voice, prosody string) (qc.Analysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked(c.now())

	entry, ok := c.entries[voiceKey{voice: voice, prosody: prosody}]
	if !ok {
		return qc.Analysis{}, false
	}

	return entry.analysis, true
}

// Len reports the number of live entries after sweeping stale ones.
func (c *VoiceProfileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked(c.now())

	return len(c.entries)
}

func (c *VoiceProfileCache) sweepLocked(now time.Time) {
	for key, entry := range c.entries {
		if now.Sub(entry.updatedAt) > profileMaxAge {
			delete(c.entries, key)
		}
	}
}

func (c *VoiceProfileCache) evictOldestLocked() {
	if len(c.entries) < MaxVoiceProfiles {
		return
	}

	var (
		oldestKey voiceKey
		oldestAt  time.Time
		found     bool
	)

	for key, entry := range c.entries {
		if !found || entry.updatedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.updatedAt
			found = true
		}
	}

	if found {
		delete(c.entries, oldestKey)
	}
}

func decayFactor(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}

	return math.Pow(0.5, elapsed.Seconds()/profileHalfLife.Seconds())
}

func lerpAnalysis(from, to qc.Analysis, t float64) qc.Analysis {
	return qc.Analysis{
		RMS:               lerp(from.RMS, to.RMS, t),
		Peak:              lerp(from.Peak, to.Peak, t),
		SpectralCentroid:  lerp(from.SpectralCentroid, to.SpectralCentroid, t),
		SpectralBandwidth: lerp(from.SpectralBandwidth, to.SpectralBandwidth, t),
		SpectralRolloff:   lerp(from.SpectralRolloff, to.SpectralRolloff, t),
		SpectralFlatness:  lerp(from.SpectralFlatness, to.SpectralFlatness, t),
		LowEnergyRatio:    lerp(from.LowEnergyRatio, to.LowEnergyRatio, t),
		MidEnergyRatio:    lerp(from.MidEnergyRatio, to.MidEnergyRatio, t),
		HighEnergyRatio:   lerp(from.HighEnergyRatio, to.HighEnergyRatio, t),
		MFCCVariance:      lerp(from.MFCCVariance, to.MFCCVariance, t),
		PitchMean:         lerp(from.PitchMean, to.PitchMean, t),
		PitchRange:        lerp(from.PitchRange, to.PitchRange, t),
		PitchVariance:     lerp(from.PitchVariance, to.PitchVariance, t),
		SpeechRate:        lerp(from.SpeechRate, to.SpeechRate, t),
		EnergyVariance:    lerp(from.EnergyVariance, to.EnergyVariance, t),
		FirstFormant:      lerp(from.FirstFormant, to.FirstFormant, t),
		SecondFormant:     lerp(from.SecondFormant, to.SecondFormant, t),
		Jitter:            lerp(from.Jitter, to.Jitter, t),
		Shimmer:           lerp(from.Shimmer, to.Shimmer, t),
		HarmonicToNoise:   lerp(from.HarmonicToNoise, to.HarmonicToNoise, t),
	}
}

func lerp(from, to, t float64) float64 {
	return from + (to-from)*t
}
