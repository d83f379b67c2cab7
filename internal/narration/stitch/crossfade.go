package stitch

import "math"

// Crossfade curves, picked by boundary similarity. Higher-order curves spend
// more of the fade near the endpoints, masking rougher joins.
type fadeCurve int

const (
	curveLinear fadeCurve = iota
	curveSmoothstep
	curveSmootherstep
	curveExponential
)

const expCurveSteepness = 4.0

// Similarity thresholds for curve selection.
const (
	nearLinearSimilarity   = 0.9
	smoothstepSimilarity   = 0.7
	smootherstepSimilarity = 0.4
)

// Gain clamps for the loudness normalization inside a crossfade.
const (
	minCrossfadeGain = 0.5
	maxCrossfadeGain = 2.0
)

func (c fadeCurve) String() string {
	switch c {
	case curveLinear:
		return "linear"
	case curveSmoothstep:
		return "smoothstep"
	case curveSmootherstep:
		return "smootherstep"
	case curveExponential:
		return "exponential"
	default:
		return "unknown"
	}
}

func (c fadeCurve) weight(t float64) float64 {
	switch c {
	case curveSmoothstep:
		return t * t * (3 - 2*t)
	case curveSmootherstep:
		return t * t * t * (t*(6*t-15) + 10)
	case curveExponential:
		return (math.Exp(expCurveSteepness*t) - 1) / (math.Exp(expCurveSteepness) - 1)
	case curveLinear:
		return t
	default:
		return t
	}
}

func curveForSimilarity(similarity float64) fadeCurve {
	switch {
	case similarity > nearLinearSimilarity:
		return curveLinear
	case similarity > smoothstepSimilarity:
		return curveSmoothstep
	case similarity > smootherstepSimilarity:
		return curveSmootherstep
	default:
		return curveExponential
	}
}

// blendBoundary overwrites the last fade samples of merged with a crossfade
// into head, normalizing each blended sample toward an RMS interpolated
// between the two sides of the join. Both paths that join audio use this one
// primitive.
func blendBoundary(merged, head []int, fade int, curve fadeCurve, fromRMS, toRMS float64) {
	if fade <= 0 {
		return
	}

	offset := len(merged) - fade

	for i := 0; i < fade; i++ {
		t := float64(i) / float64(fade)
		w := curve.weight(t)

		blended := float64(merged[offset+i])*(1-w) + float64(head[i])*w

		target := fromRMS + (toRMS-fromRMS)*t
		local := math.Sqrt((1-w)*(1-w)*fromRMS*fromRMS + w*w*toRMS*toRMS)

		if local > 1e-9 && target > 1e-9 {
			gain := target / local
			if gain < minCrossfadeGain {
				gain = minCrossfadeGain
			}

			if gain > maxCrossfadeGain {
				gain = maxCrossfadeGain
			}

			blended *= gain
		}

		merged[offset+i] = clampSample(blended)
	}
}

func clampSample(v float64) int {
	if v > 32767 {
		return 32767
	}

	if v < -32768 {
		return -32768
	}

	return int(v)
}
