// Package stitch merges trimmed chunk audio into one continuous narration.
//
// Each boundary is joined through a small graph: chunks contribute two or
// three short analysis windows as nodes, every pairing across the boundary
// becomes a weighted edge, and the cheapest edge decides the crossfade length
// and curve. Boundaries do not interact, so each one is settled greedily on
// its own. Buffers that cannot be decoded degrade to a byte-level
// concatenation with a warning instead of failing the run.
package stitch

import (
	"errors"
	"fmt"
	"math"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/pcm"
)

// Analysis window and crossfade tuning.
const (
	windowSeconds          = 0.1
	middleWindowMinSeconds = 2.0

	shortCrossfadeSeconds  = 0.05
	mediumCrossfadeSeconds = 0.10
	longCrossfadeSeconds   = 0.15

	shortFadeSimilarity  = 0.8
	mediumFadeSimilarity = 0.5

	centroidSubWindows = 5
)

// Edge weight terms.
const (
	rmsDiffWeight      = 0.3
	spectralDiffWeight = 0.2
	positionPenalty    = 0.25
)

// Node similarity blend.
const (
	nodeRMSWeight      = 0.3
	nodePeakWeight     = 0.2
	nodeCentroidWeight = 0.3
	nodeCrossingWeight = 0.2
)

// ErrNoAudio is returned when there is nothing to concatenate.
var ErrNoAudio = errors.New("no audio buffers to concatenate")

type nodePosition int

const (
	positionStart nodePosition = iota
	positionMiddle
	positionEnd
)

type node struct {
	rms       float64
	peak      float64
	centroid  float64
	crossings float64
	position  nodePosition
}

type edge struct {
	similarity  float64
	weight      float64
	fadeSeconds float64
	curve       fadeCurve
	fromRMS     float64
	toRMS       float64
}

// Boundary records how one join was made.
type Boundary struct {
	Similarity       float64
	Weight           float64
	CrossfadeSeconds float64
	Curve            string
}

// Result is the merged narration audio.
type Result struct {
	Audio      []byte
	Seconds    float64
	Boundaries []Boundary
	Degraded   bool
}

// Stitcher joins ordered chunk buffers.
type Stitcher struct {
	log *logger.Logger
}

// New builds a Stitcher.
func New(log *logger.Logger) *Stitcher {
	return &Stitcher{log: log}
}

// Concatenate merges ordered audio buffers into one. A single buffer passes
// through untouched. Undecodable input degrades to byte concatenation.
func (s *Stitcher) Concatenate(buffers [][]byte) (*Result, error) {
	if len(buffers) == 0 {
		return nil, ErrNoAudio
	}

	if len(buffers) == 1 {
		return s.passthrough(buffers[0]), nil
	}

	clips, decodeErr := decodeAll(buffers)
	if decodeErr != nil {
		s.log.Warn("stitch degrading to byte concatenation: %v", decodeErr)

		return byteConcat(buffers, clips), nil
	}

	return s.graphStitch(clips)
}

func (s *Stitcher) passthrough(audio []byte) *Result {
	clip, decodeErr := pcm.Decode(audio)
	if decodeErr != nil {
		s.log.Warn("stitch degrading to byte concatenation: %v", decodeErr)

		return byteConcat([][]byte{audio}, nil)
	}

	return &Result{
		Audio:      audio,
		Seconds:    clip.Seconds(),
		Boundaries: nil,
		Degraded:   false,
	}
}

// graphStitch walks the boundaries in order, picking the cheapest edge at
// each one and blending through the shared crossfade primitive.
func (s *Stitcher) graphStitch(clips []*pcm.Clip) (*Result, error) {
	nodes := make([][]node, len(clips))
	for i, clip := range clips {
		nodes[i] = nodesOf(clip)
	}

	merged := make([]int, 0, totalSamples(clips))
	merged = append(merged, clips[0].Samples...)

	boundaries := make([]Boundary, 0, len(clips)-1)
	sampleRate := clips[0].SampleRate

	for i := 1; i < len(clips); i++ {
		best := bestEdge(nodes[i-1], nodes[i])

		fade := clips[i].SamplesInSeconds(best.fadeSeconds)
		if limit := len(clips[i-1].Samples) / 2; fade > limit {
			fade = limit
		}

		if limit := len(clips[i].Samples) / 2; fade > limit {
			fade = limit
		}

		blendBoundary(merged, clips[i].Samples, fade, best.curve, best.fromRMS, best.toRMS)
		merged = append(merged, clips[i].Samples[fade:]...)

		boundaries = append(boundaries, Boundary{
			Similarity:       best.similarity,
			Weight:           best.weight,
			CrossfadeSeconds: float64(fade) / float64(sampleRate),
			Curve:            best.curve.String(),
		})

		s.log.Info(
			"stitched boundary %d: similarity %.3f, %s crossfade %.0fms",
			i-1, best.similarity, best.curve, float64(fade)/float64(sampleRate)*1000,
		)
	}

	out := &pcm.Clip{Samples: merged, SampleRate: sampleRate}

	encoded, err := out.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode stitched audio: %w", err)
	}

	return &Result{
		Audio:      encoded,
		Seconds:    out.Seconds(),
		Boundaries: boundaries,
		Degraded:   false,
	}, nil
}

// decodeAll decodes every buffer, or reports the first failure along with
// whatever did decode so the fallback can still estimate a duration.
func decodeAll(buffers [][]byte) ([]*pcm.Clip, error) {
	clips := make([]*pcm.Clip, 0, len(buffers))

	for i, audio := range buffers {
		clip, err := pcm.Decode(audio)
		if err != nil {
			return clips, fmt.Errorf("decode chunk %d: %w", i, err)
		}

		if len(clips) > 0 && clip.SampleRate != clips[0].SampleRate {
			return clips, fmt.Errorf(
				"decode chunk %d: sample rate %d differs from %d",
				i, clip.SampleRate, clips[0].SampleRate,
			)
		}

		clips = append(clips, clip)
	}

	return clips, nil
}

func byteConcat(buffers [][]byte, decoded []*pcm.Clip) *Result {
	size := 0
	for _, b := range buffers {
		size += len(b)
	}

	audio := make([]byte, 0, size)
	for _, b := range buffers {
		audio = append(audio, b...)
	}

	seconds := 0.0
	for _, clip := range decoded {
		seconds += clip.Seconds()
	}

	return &Result{
		Audio:      audio,
		Seconds:    seconds,
		Boundaries: nil,
		Degraded:   true,
	}
}

// nodesOf extracts the chunk's analysis windows: start and end always, and a
// middle window once the chunk is long enough to have one.
func nodesOf(clip *pcm.Clip) []node {
	window := clip.SamplesInSeconds(windowSeconds)
	if window > len(clip.Samples) {
		window = len(clip.Samples)
	}

	if window == 0 {
		window = len(clip.Samples)
	}

	total := len(clip.Samples)

	nodes := []node{
		characterize(clip.Samples[:window], clip.SampleRate, positionStart),
	}

	if clip.Seconds() >= middleWindowMinSeconds {
		mid := total / 2
		half := window / 2
		nodes = append(nodes, characterize(
			clip.Samples[mid-half:mid-half+window], clip.SampleRate, positionMiddle,
		))
	}

	nodes = append(nodes, characterize(clip.Samples[total-window:], clip.SampleRate, positionEnd))

	return nodes
}

func characterize(window []int, sampleRate int, position nodePosition) node {
	energy := 0.0
	peak := 0.0
	crossings := 0

	for i, s := range window {
		v := float64(s) / 32768.0
		energy += v * v

		if a := math.Abs(v); a > peak {
			peak = a
		}

		if i > 0 && (window[i-1] < 0) != (s < 0) {
			crossings++
		}
	}

	return node{
		rms:       math.Sqrt(energy / float64(len(window))),
		peak:      peak,
		centroid:  windowCentroid(window, sampleRate),
		crossings: float64(crossings),
		position:  position,
	}
}

// windowCentroid estimates spectral centroid as the energy-weighted mean of
// sub-window zero-crossing frequencies.
func windowCentroid(window []int, sampleRate int) float64 {
	sub := len(window) / centroidSubWindows
	if sub < 2 {
		sub = len(window)
	}

	totalEnergy := 0.0
	weighted := 0.0

	for start := 0; start+sub <= len(window); start += sub {
		energy := 0.0
		crossings := 0

		for i := start; i < start+sub; i++ {
			v := float64(window[i]) / 32768.0
			energy += v * v

			if i > start && (window[i-1] < 0) != (window[i] < 0) {
				crossings++
			}
		}

		seconds := float64(sub) / float64(sampleRate)
		frequency := float64(crossings) / (2 * seconds)

		totalEnergy += energy
		weighted += energy * frequency
	}

	if totalEnergy <= 1e-12 {
		return 0
	}

	return weighted / totalEnergy
}

// bestEdge scores every node pairing across one boundary and keeps the
// cheapest.
func bestEdge(left, right []node) edge {
	best := edge{
		similarity:  0,
		weight:      math.MaxFloat64,
		fadeSeconds: longCrossfadeSeconds,
		curve:       curveExponential,
		fromRMS:     0,
		toRMS:       0,
	}

	for _, from := range left {
		for _, to := range right {
			candidate := scoreEdge(from, to)
			if candidate.weight < best.weight {
				best = candidate
			}
		}
	}

	return best
}

func scoreEdge(from, to node) edge {
	similarity := nodeSimilarity(from, to)

	weight := (1 - similarity) +
		joinPenalty(from, to) +
		rmsDiffWeight*relativeDiff(from.rms, to.rms) +
		spectralDiffWeight*relativeDiff(from.centroid, to.centroid)

	return edge{
		similarity:  similarity,
		weight:      weight,
		fadeSeconds: fadeForSimilarity(similarity),
		curve:       curveForSimilarity(similarity),
		fromRMS:     from.rms,
		toRMS:       to.rms,
	}
}

func nodeSimilarity(from, to node) float64 {
	diff := nodeRMSWeight*relativeDiff(from.rms, to.rms) +
		nodePeakWeight*relativeDiff(from.peak, to.peak) +
		nodeCentroidWeight*relativeDiff(from.centroid, to.centroid) +
		nodeCrossingWeight*relativeDiff(from.crossings, to.crossings)

	similarity := 1 - diff
	if similarity < 0 {
		return 0
	}

	return similarity
}

// joinPenalty favors the natural end-to-start join over mid-window pairings.
func joinPenalty(from, to node) float64 {
	penalty := 0.0

	if from.position != positionEnd {
		penalty += positionPenalty
	}

	if to.position != positionStart {
		penalty += positionPenalty
	}

	return penalty
}

func fadeForSimilarity(similarity float64) float64 {
	switch {
	case similarity > shortFadeSimilarity:
		return shortCrossfadeSeconds
	case similarity > mediumFadeSimilarity:
		return mediumCrossfadeSeconds
	default:
		return longCrossfadeSeconds
	}
}

func relativeDiff(a, b float64) float64 {
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger < 1e-9 {
		return 0
	}

	diff := math.Abs(a-b) / larger
	if diff > 1 {
		return 1
	}

	return diff
}

func totalSamples(clips []*pcm.Clip) int {
	total := 0
	for _, clip := range clips {
		total += len(clip.Samples)
	}

	return total
}
