// Package qc extracts acoustic features from rendered audio and scores each
// chunk against the reference fingerprint of its generation run.
//
// The feature extraction is deliberately lightweight. Dominant frequencies
// come from zero-crossing rates of short windows, pitch from naive
// autocorrelation, band energies from bucketed window sums. The values are
// proxies, not laboratory measurements, tuned for comparing one chunk against
// another rendered by the same engine, which is all quality control needs.
package qc

import (
	"math"
	"sort"

	"github.com/book-expert/narration-service/internal/pcm"
)

const (
	analysisWindowSeconds = 0.02
	pitchWindowSeconds    = 0.04
	maxPitchWindows       = 64

	pitchFloorHz       = 75.0
	pitchCeilingHz     = 400.0
	voicedGateRMS      = 0.02
	voicedGateCorr     = 0.3
	maxHarmonicToNoise = 40.0

	lowBandCeilingHz = 300.0
	midBandCeilingHz = 3400.0

	rolloffEnergyFraction = 0.85

	firstFormantFloorHz    = 200.0
	firstFormantCeilingHz  = 1000.0
	secondFormantFloorHz   = 1000.0
	secondFormantCeilingHz = 3000.0

	onsetGateRatio = 0.5

	energyEpsilon = 1e-12
)

// Analysis is the acoustic feature vector of one audio buffer.
//
// Band ratios are fractions of total energy below 300 Hz, between 300 Hz and
// 3400 Hz, and above 3400 Hz. Pitch fields are zero when no voiced window was
// found.
type Analysis struct {
	RMS  float64
	Peak float64

	SpectralCentroid  float64
	SpectralBandwidth float64
	SpectralRolloff   float64
	SpectralFlatness  float64

	LowEnergyRatio  float64
	MidEnergyRatio  float64
	HighEnergyRatio float64

	MFCCVariance float64

	PitchMean     float64
	PitchRange    float64
	PitchVariance float64

	SpeechRate     float64
	EnergyVariance float64

	FirstFormant  float64
	SecondFormant float64

	Jitter          float64
	Shimmer         float64
	HarmonicToNoise float64
}

type windowFeature struct {
	energy    float64
	rms       float64
	frequency float64
}

type pitchPoint struct {
	hz   float64
	corr float64
}

// Analyze extracts the feature vector of a decoded clip.
func Analyze(clip *pcm.Clip) *Analysis {
	analysis := &Analysis{}
	if clip == nil || len(clip.Samples) == 0 {
		return analysis
	}

	samples := normalizeSamples(clip.Samples)
	analysis.RMS, analysis.Peak = overallLevel(samples)

	windows := splitWindows(samples, clip.SampleRate)
	if len(windows) == 0 {
		return analysis
	}

	analysis.SpectralCentroid, analysis.SpectralBandwidth = spectralMoments(windows)
	analysis.SpectralRolloff = spectralRolloff(windows)
	analysis.SpectralFlatness = spectralFlatness(windows)
	analysis.LowEnergyRatio, analysis.MidEnergyRatio, analysis.HighEnergyRatio = bandRatios(windows)
	analysis.MFCCVariance = logEnergyVariance(windows)
	analysis.FirstFormant = bandCentroid(windows, firstFormantFloorHz, firstFormantCeilingHz)
	analysis.SecondFormant = bandCentroid(windows, secondFormantFloorHz, secondFormantCeilingHz)
	analysis.SpeechRate = speechRate(windows, analysisWindowSeconds)
	analysis.EnergyVariance = energyVariance(windows)
	analysis.Shimmer = shimmer(windows)

	track := pitchTrack(samples, clip.SampleRate)
	analysis.PitchMean, analysis.PitchRange, analysis.PitchVariance = pitchStatistics(track)
	analysis.Jitter = jitter(track, analysis.PitchMean)
	analysis.HarmonicToNoise = harmonicToNoise(track)

	return analysis
}

func normalizeSamples(samples []int) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768.0
	}

	return out
}

func overallLevel(samples []float64) (float64, float64) {
	energy := 0.0
	peak := 0.0

	for _, s := range samples {
		energy += s * s

		if a := math.Abs(s); a > peak {
			peak = a
		}
	}

	rms := math.Sqrt(energy / float64(len(samples)))

	return rms, peak
}

// splitWindows cuts the signal into fixed analysis windows. Each window's
// dominant frequency is estimated from its zero-crossing count: a pure tone
// at f crosses zero 2f times per second.
func splitWindows(samples []float64, sampleRate int) []windowFeature {
	size := int(analysisWindowSeconds * float64(sampleRate))
	if size < 16 {
		size = 16
	}

	var windows []windowFeature

	for start := 0; start < len(samples); start += size {
		end := start + size
		if end > len(samples) {
			end = len(samples)
		}

		window := samples[start:end]
		if len(window) < size/2 && len(windows) > 0 {
			break
		}

		windows = append(windows, windowFeatureOf(window, sampleRate))
	}

	return windows
}

func windowFeatureOf(window []float64, sampleRate int) windowFeature {
	energy := 0.0
	crossings := 0

	for i, s := range window {
		energy += s * s

		if i > 0 && (s >= 0) != (window[i-1] >= 0) {
			crossings++
		}
	}

	seconds := float64(len(window)) / float64(sampleRate)
	frequency := float64(crossings) / (2 * seconds)

	return windowFeature{
		energy:    energy,
		rms:       math.Sqrt(energy / float64(len(window))),
		frequency: frequency,
	}
}

func spectralMoments(windows []windowFeature) (float64, float64) {
	totalEnergy := 0.0
	weightedFreq := 0.0

	for _, w := range windows {
		totalEnergy += w.energy
		weightedFreq += w.energy * w.frequency
	}

	if totalEnergy <= energyEpsilon {
		return 0, 0
	}

	centroid := weightedFreq / totalEnergy

	spread := 0.0
	for _, w := range windows {
		diff := w.frequency - centroid
		spread += w.energy * diff * diff
	}

	return centroid, math.Sqrt(spread / totalEnergy)
}

// spectralRolloff finds the frequency below which 85% of the total energy
// lies.
func spectralRolloff(windows []windowFeature) float64 {
	ordered := make([]windowFeature, len(windows))
	copy(ordered, windows)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].frequency < ordered[j].frequency
	})

	totalEnergy := 0.0
	for _, w := range ordered {
		totalEnergy += w.energy
	}

	if totalEnergy <= energyEpsilon {
		return 0
	}

	accumulated := 0.0
	for _, w := range ordered {
		accumulated += w.energy
		if accumulated >= rolloffEnergyFraction*totalEnergy {
			return w.frequency
		}
	}

	return ordered[len(ordered)-1].frequency
}

func spectralFlatness(windows []windowFeature) float64 {
	logSum := 0.0
	sum := 0.0

	for _, w := range windows {
		logSum += math.Log(w.energy + energyEpsilon)
		sum += w.energy
	}

	count := float64(len(windows))
	geometric := math.Exp(logSum / count)
	arithmetic := sum / count

	if arithmetic <= energyEpsilon {
		return 0
	}

	return clamp01(geometric / arithmetic)
}

func bandRatios(windows []windowFeature) (float64, float64, float64) {
	var low, mid, high, total float64

	for _, w := range windows {
		total += w.energy

		switch {
		case w.frequency < lowBandCeilingHz:
			low += w.energy
		case w.frequency <= midBandCeilingHz:
			mid += w.energy
		default:
			high += w.energy
		}
	}

	if total <= energyEpsilon {
		return 0, 0, 0
	}

	return low / total, mid / total, high / total
}

func logEnergyVariance(windows []windowFeature) float64 {
	logs := make([]float64, len(windows))
	for i, w := range windows {
		logs[i] = math.Log10(w.energy + energyEpsilon)
	}

	return clamp01(variance(logs))
}

func bandCentroid(windows []windowFeature, floorHz, ceilingHz float64) float64 {
	totalEnergy := 0.0
	weightedFreq := 0.0

	for _, w := range windows {
		if w.frequency < floorHz || w.frequency > ceilingHz {
			continue
		}

		totalEnergy += w.energy
		weightedFreq += w.energy * w.frequency
	}

	if totalEnergy <= energyEpsilon {
		return 0
	}

	return weightedFreq / totalEnergy
}

// speechRate counts energy onsets per second as a syllable-rate proxy.
func speechRate(windows []windowFeature, windowSeconds float64) float64 {
	meanRMS := 0.0
	for _, w := range windows {
		meanRMS += w.rms
	}

	meanRMS /= float64(len(windows))
	if meanRMS <= 0 {
		return 0
	}

	gate := onsetGateRatio * meanRMS
	onsets := 0

	for i := 1; i < len(windows); i++ {
		if windows[i].rms > gate && windows[i-1].rms <= gate {
			onsets++
		}
	}

	totalSeconds := float64(len(windows)) * windowSeconds

	return float64(onsets) / totalSeconds
}

func energyVariance(windows []windowFeature) float64 {
	values := make([]float64, len(windows))
	total := 0.0

	for i, w := range windows {
		values[i] = w.rms
		total += w.rms
	}

	mean := total / float64(len(windows))
	if mean <= 0 {
		return 0
	}

	return variance(values) / (mean * mean)
}

func shimmer(windows []windowFeature) float64 {
	var diffs, level float64

	voiced := 0

	for i := 1; i < len(windows); i++ {
		if windows[i].rms < voicedGateRMS || windows[i-1].rms < voicedGateRMS {
			continue
		}

		diffs += math.Abs(windows[i].rms - windows[i-1].rms)
		level += windows[i].rms
		voiced++
	}

	if voiced == 0 || level <= 0 {
		return 0
	}

	return (diffs / float64(voiced)) / (level / float64(voiced))
}

// pitchTrack estimates pitch on voiced windows via naive autocorrelation,
// striding so that long clips stay cheap.
func pitchTrack(samples []float64, sampleRate int) []pitchPoint {
	size := int(pitchWindowSeconds * float64(sampleRate))
	if size > len(samples) {
		size = len(samples)
	}

	if size < 64 {
		return nil
	}

	count := len(samples) / size

	stride := 1
	if count > maxPitchWindows {
		stride = count/maxPitchWindows + 1
	}

	var track []pitchPoint

	for w := 0; (w+1)*size <= len(samples); w += stride {
		window := samples[w*size : (w+1)*size]
		if windowRMS(window) < voicedGateRMS {
			continue
		}

		hz, corr := estimatePitch(window, sampleRate)
		if hz > 0 {
			track = append(track, pitchPoint{hz: hz, corr: corr})
		}
	}

	return track
}

func estimatePitch(window []float64, sampleRate int) (float64, float64) {
	minLag := int(float64(sampleRate) / pitchCeilingHz)
	maxLag := int(float64(sampleRate) / pitchFloorHz)

	if maxLag >= len(window) {
		maxLag = len(window) - 1
	}

	if minLag < 2 || minLag >= maxLag {
		return 0, 0
	}

	energy := 0.0
	for _, s := range window {
		energy += s * s
	}

	if energy <= energyEpsilon {
		return 0, 0
	}

	bestLag := 0
	bestCorr := 0.0

	for lag := minLag; lag <= maxLag; lag++ {
		sum := 0.0
		for i := 0; i+lag < len(window); i++ {
			sum += window[i] * window[i+lag]
		}

		if corr := sum / energy; corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}

	if bestLag == 0 || bestCorr < voicedGateCorr {
		return 0, 0
	}

	return float64(sampleRate) / float64(bestLag), bestCorr
}

func pitchStatistics(track []pitchPoint) (float64, float64, float64) {
	if len(track) == 0 {
		return 0, 0, 0
	}

	values := make([]float64, len(track))
	minHz := track[0].hz
	maxHz := track[0].hz
	total := 0.0

	for i, p := range track {
		values[i] = p.hz
		total += p.hz

		if p.hz < minHz {
			minHz = p.hz
		}

		if p.hz > maxHz {
			maxHz = p.hz
		}
	}

	return total / float64(len(track)), maxHz - minHz, variance(values)
}

func jitter(track []pitchPoint, pitchMean float64) float64 {
	if len(track) < 2 || pitchMean <= 0 {
		return 0
	}

	diffs := 0.0
	for i := 1; i < len(track); i++ {
		diffs += math.Abs(track[i].hz - track[i-1].hz)
	}

	return (diffs / float64(len(track)-1)) / pitchMean
}

func harmonicToNoise(track []pitchPoint) float64 {
	if len(track) == 0 {
		return 0
	}

	meanCorr := 0.0
	for _, p := range track {
		meanCorr += p.corr
	}

	meanCorr /= float64(len(track))

	if meanCorr < 0.01 {
		meanCorr = 0.01
	}

	if meanCorr > 0.99 {
		meanCorr = 0.99
	}

	hnr := 10 * math.Log10(meanCorr/(1-meanCorr))
	if hnr < 0 {
		return 0
	}

	if hnr > maxHarmonicToNoise {
		return maxHarmonicToNoise
	}

	return hnr
}

func windowRMS(window []float64) float64 {
	energy := 0.0
	for _, s := range window {
		energy += s * s
	}

	return math.Sqrt(energy / float64(len(window)))
}

func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}

	mean /= float64(len(values))

	spread := 0.0
	for _, v := range values {
		diff := v - mean
		spread += diff * diff
	}

	return spread / float64(len(values))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}
