package narration_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/narration"
	"github.com/book-expert/narration-service/internal/narration/qc"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func profileAnalysis(rms, pitch float64) *qc.Analysis {
	return &qc.Analysis{
		RMS:               rms,
		Peak:              rms * 3,
		SpectralCentroid:  1800,
		SpectralBandwidth: 2600,
		SpectralRolloff:   5200,
		SpectralFlatness:  0.4,
		LowEnergyRatio:    0.2,
		MidEnergyRatio:    0.6,
		HighEnergyRatio:   0.2,
		MFCCVariance:      0.8,
		PitchMean:         pitch,
		PitchRange:        60,
		PitchVariance:     150,
		SpeechRate:        3.5,
		EnergyVariance:    0.5,
		FirstFormant:      450,
		SecondFormant:     1700,
		Jitter:            0.02,
		Shimmer:           0.1,
		HarmonicToNoise:   12,
	}
}

func TestVoiceProfileCacheStoresFirstObservation(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := narration.NewVoiceProfileCache(clock.Now)

	cache.Observe("narrator-a", "calm", profileAnalysis(0.2, 100))

	profile, ok := cache.Lookup("narrator-a", "calm")
	require.True(t, ok)
	assert.InDelta(t, 0.2, profile.RMS, 1e-9)
	assert.InDelta(t, 100, profile.PitchMean, 1e-9)

	_, ok = cache.Lookup("narrator-a", "excited")
	assert.False(t, ok)

	_, ok = cache.Lookup("narrator-b", "calm")
	assert.False(t, ok)
}

func TestVoiceProfileCacheBlendsWithTimeDecay(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := narration.NewVoiceProfileCache(clock.Now)

	cache.Observe("narrator-a", "calm", profileAnalysis(0.2, 100))

	// One half-life later the stored weight has decayed from 1 to 0.5, so
	// the new observation carries weight 1/(0.5+1) = 2/3 of the blend.
	clock.Advance(10 * time.Minute)
	cache.Observe("narrator-a", "calm", profileAnalysis(0.4, 200))

	profile, ok := cache.Lookup("narrator-a", "calm")
	require.True(t, ok)
	assert.InDelta(t, 0.2+0.2*(2.0/3.0), profile.RMS, 1e-6)
	assert.InDelta(t, 100+100*(2.0/3.0), profile.PitchMean, 1e-6)
}

func TestVoiceProfileCacheSweepsStaleEntries(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := narration.NewVoiceProfileCache(clock.Now)

	cache.Observe("narrator-a", "calm", profileAnalysis(0.2, 100))
	require.Equal(t, 1, cache.Len())

	clock.Advance(31 * time.Minute)

	_, ok := cache.Lookup("narrator-a", "calm")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestVoiceProfileCacheEvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := narration.NewVoiceProfileCache(clock.Now)

	for i := 0; i < narration.MaxVoiceProfiles; i++ {
		cache.Observe(fmt.Sprintf("narrator-%03d", i), "calm", profileAnalysis(0.2, 100))
		clock.Advance(time.Second)
	}

	require.Equal(t, narration.MaxVoiceProfiles, cache.Len())

	cache.Observe("narrator-overflow", "calm", profileAnalysis(0.2, 100))

	assert.Equal(t, narration.MaxVoiceProfiles, cache.Len())

	_, ok := cache.Lookup("narrator-000", "calm")
	assert.False(t, ok)

	_, ok = cache.Lookup("narrator-overflow", "calm")
	assert.True(t, ok)
}

func TestVoiceProfileCacheIgnoresNilAnalysis(t *testing.T) {
	t.Parallel()

	cache := narration.NewVoiceProfileCache(nil)

	cache.Observe("narrator-a", "calm", nil)

	assert.Equal(t, 0, cache.Len())
}
