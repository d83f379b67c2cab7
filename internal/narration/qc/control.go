package qc

import (
	"fmt"
	"math"
)

// Quality gates. A chunk must clear every enabled check to be accepted.
const (
	VolumeToleranceDB        = 2.0
	CentroidTolerance        = 0.15
	VoiceSimilarityThreshold = 0.90
	MinBandwidthHz           = 2000.0
	MaxRolloffHz             = 6000.0
	MinFrequencyBalance      = 0.3
	MinMFCCVariance          = 0.5

	// GibberishScoreCap is the multiplier applied when transcription
	// validation rejects the audio.
	GibberishScoreCap = 0.3
)

// Telephone-artifact indicators. Two firing halves the score, three or more
// cuts it to a fifth.
const (
	phoneBandwidthHz     = 1500.0
	phoneRolloffHz       = 4000.0
	phoneLowRatio        = 0.10
	phoneHighRatio       = 0.10
	phoneMidRatio        = 0.80
	phoneIndicatorCount  = 5
	severePhoneCount     = 3
	moderatePhoneCount   = 2
	severePhonePenalty   = 0.2
	moderatePhonePenalty = 0.5
)

// Voice similarity blends normalized differences of five traits.
const (
	similaritySpectralWeight  = 0.30
	similarityAmplitudeWeight = 0.20
	similarityPitchWeight     = 0.25
	similarityRateWeight      = 0.15
	similarityHarmonicWeight  = 0.10
)

const scoreSlackFactor = 3.0

// Check names as they appear in results and logs.
const (
	CheckVolume     = "volume consistency"
	CheckSpectral   = "spectral consistency"
	CheckSimilarity = "voice similarity"
	CheckBandwidth  = "spectral bandwidth"
	CheckRolloff    = "spectral rolloff"
	CheckBalance    = "frequency balance"
	CheckMFCC       = "mfcc variance"
	CheckPhone      = "phone artifact"
	CheckGibberish  = "gibberish"
)

// CheckResult is one named check's outcome.
type CheckResult struct {
	Name   string
	Detail string
	Score  float64
	Passed bool
}

// Result is the aggregate quality control verdict for one chunk.
type Result struct {
	FailureReason string
	Checks        []CheckResult
	OverallScore  float64
	Passed        bool
}

// Evaluate scores an analysis against the run's reference analysis.
//
// With no reference yet there is nothing to compare against, so the result is
// a pass. The caller installs the first analysis as the reference and then
// evaluates every chunk, including the first, against it: comparative checks
// are trivially clean for the reference chunk while the absolute band checks
// still apply to it.
//
// The overall score multiplies per-check scores rather than averaging them,
// so one severe defect dominates the regeneration decision even when every
// other check is clean.
func Evaluate(analysis, reference *Analysis) *Result {
	if reference == nil {
		return &Result{
			FailureReason: "",
			Checks:        nil,
			OverallScore:  1.0,
			Passed:        true,
		}
	}

	checks := []CheckResult{
		volumeCheck(analysis, reference),
		spectralCheck(analysis, reference),
		similarityCheck(analysis, reference),
		bandwidthCheck(analysis),
		rolloffCheck(analysis),
		balanceCheck(analysis),
		mfccCheck(analysis),
		phoneCheck(analysis),
	}

	result := &Result{
		FailureReason: "",
		Checks:        checks,
		OverallScore:  1.0,
		Passed:        true,
	}

	for _, check := range checks {
		result.OverallScore *= check.Score

		if !check.Passed {
			result.Passed = false
		}
	}

	result.OverallScore = clamp01(result.OverallScore)
	result.FailureReason = failureReason(checks)

	return result
}

// MarkGibberish records a failed transcription validation on an otherwise
// evaluated result, capping the score.
func (r *Result) MarkGibberish(transcribed string, similarity float64) {
	detail := fmt.Sprintf("transcription %.0f%% similar: %q", similarity*100, transcribed)

	r.Checks = append(r.Checks, CheckResult{
		Name:   CheckGibberish,
		Detail: detail,
		Score:  GibberishScoreCap,
		Passed: false,
	})

	r.OverallScore = clamp01(r.OverallScore * GibberishScoreCap)
	r.Passed = false

	if r.FailureReason == "" {
		r.FailureReason = "gibberish detected: " + detail
	}
}

// failureReason picks the message regeneration logs carry. A confirmed phone
// artifact outranks individual threshold misses.
func failureReason(checks []CheckResult) string {
	for _, check := range checks {
		if check.Name == CheckPhone && !check.Passed {
			return check.Detail
		}
	}

	for _, check := range checks {
		if !check.Passed {
			return check.Name + ": " + check.Detail
		}
	}

	return ""
}

func volumeCheck(analysis, reference *Analysis) CheckResult {
	diffDB := math.Abs(decibels(analysis.RMS) - decibels(reference.RMS))

	return CheckResult{
		Name:   CheckVolume,
		Detail: fmt.Sprintf("%.2f dB from reference", diffDB),
		Score:  toleranceScore(diffDB, VolumeToleranceDB),
		Passed: diffDB <= VolumeToleranceDB,
	}
}

func spectralCheck(analysis, reference *Analysis) CheckResult {
	diff := relativeDifference(analysis.SpectralCentroid, reference.SpectralCentroid)

	return CheckResult{
		Name:   CheckSpectral,
		Detail: fmt.Sprintf("centroid %.0f%% from reference", diff*100),
		Score:  toleranceScore(diff, CentroidTolerance),
		Passed: diff <= CentroidTolerance,
	}
}

func similarityCheck(analysis, reference *Analysis) CheckResult {
	similarity := VoiceSimilarity(analysis, reference)

	return CheckResult{
		Name:   CheckSimilarity,
		Detail: fmt.Sprintf("similarity %.3f", similarity),
		Score:  similarity,
		Passed: similarity >= VoiceSimilarityThreshold,
	}
}

func bandwidthCheck(analysis *Analysis) CheckResult {
	return CheckResult{
		Name:   CheckBandwidth,
		Detail: fmt.Sprintf("%.0f Hz", analysis.SpectralBandwidth),
		Score:  floorScore(analysis.SpectralBandwidth, MinBandwidthHz),
		Passed: analysis.SpectralBandwidth >= MinBandwidthHz,
	}
}

func rolloffCheck(analysis *Analysis) CheckResult {
	return CheckResult{
		Name:   CheckRolloff,
		Detail: fmt.Sprintf("%.0f Hz", analysis.SpectralRolloff),
		Score:  ceilingScore(analysis.SpectralRolloff, MaxRolloffHz),
		Passed: analysis.SpectralRolloff <= MaxRolloffHz,
	}
}

func balanceCheck(analysis *Analysis) CheckResult {
	balance := FrequencyBalance(analysis)

	return CheckResult{
		Name:   CheckBalance,
		Detail: fmt.Sprintf("balance %.2f", balance),
		Score:  floorScore(balance, MinFrequencyBalance),
		Passed: balance >= MinFrequencyBalance,
	}
}

func mfccCheck(analysis *Analysis) CheckResult {
	return CheckResult{
		Name:   CheckMFCC,
		Detail: fmt.Sprintf("variance %.2f", analysis.MFCCVariance),
		Score:  floorScore(analysis.MFCCVariance, MinMFCCVariance),
		Passed: analysis.MFCCVariance >= MinMFCCVariance,
	}
}

func phoneCheck(analysis *Analysis) CheckResult {
	fired := PhoneIndicatorCount(analysis)

	score := 1.0
	passed := true

	switch {
	case fired >= severePhoneCount:
		score = severePhonePenalty
		passed = false
	case fired == moderatePhoneCount:
		score = moderatePhonePenalty
	}

	return CheckResult{
		Name: CheckPhone,
		Detail: fmt.Sprintf(
			"telephone effect indicators %d/%d", fired, phoneIndicatorCount,
		),
		Score:  score,
		Passed: passed,
	}
}

// PhoneIndicatorCount reports how many narrow-band indicators fire for an
// analysis.
func PhoneIndicatorCount(analysis *Analysis) int {
	fired := 0

	if analysis.SpectralBandwidth < phoneBandwidthHz {
		fired++
	}

	if analysis.SpectralRolloff < phoneRolloffHz {
		fired++
	}

	if analysis.LowEnergyRatio < phoneLowRatio {
		fired++
	}

	if analysis.HighEnergyRatio < phoneHighRatio {
		fired++
	}

	if analysis.MidEnergyRatio > phoneMidRatio {
		fired++
	}

	return fired
}

// FrequencyBalance is the ratio of mid-plus-high band energy to low band
// energy. Low-heavy, rumbling audio scores near zero.
func FrequencyBalance(analysis *Analysis) float64 {
	low := analysis.LowEnergyRatio
	if low < energyEpsilon {
		low = energyEpsilon
	}

	return (analysis.MidEnergyRatio + analysis.HighEnergyRatio) / low
}

// VoiceSimilarity compares two analyses across spectral shape, level, pitch,
// speech rate and harmonicity, returning a score in [0,1].
func VoiceSimilarity(analysis, reference *Analysis) float64 {
	weighted := similaritySpectralWeight*relativeDifference(analysis.SpectralCentroid, reference.SpectralCentroid) +
		similarityAmplitudeWeight*relativeDifference(analysis.RMS, reference.RMS) +
		similarityPitchWeight*relativeDifference(analysis.PitchMean, reference.PitchMean) +
		similarityRateWeight*relativeDifference(analysis.SpeechRate, reference.SpeechRate) +
		similarityHarmonicWeight*relativeDifference(analysis.HarmonicToNoise, reference.HarmonicToNoise)

	return clamp01(1 - weighted)
}

// relativeDifference is |a−b| normalized by the larger magnitude, clamped to
// [0,1]. Two zeros are identical, not undefined.
func relativeDifference(a, b float64) float64 {
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger < energyEpsilon {
		return 0
	}

	return clamp01(math.Abs(a-b) / larger)
}

// toleranceScore maps a difference to a score that is 1 at zero difference
// and falls to 0 at three times the tolerance.
func toleranceScore(diff, tolerance float64) float64 {
	return clamp01(1 - diff/(scoreSlackFactor*tolerance))
}

func floorScore(value, floor float64) float64 {
	if floor <= 0 {
		return 1
	}

	return clamp01(value / floor)
}

func ceilingScore(value, ceiling float64) float64 {
	if value <= ceiling {
		return 1
	}

	return clamp01(ceiling / value)
}

func decibels(linear float64) float64 {
	if linear < energyEpsilon {
		linear = energyEpsilon
	}

	return 20 * math.Log10(linear)
}
