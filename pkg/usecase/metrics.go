package usecase

import (
	"errors"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/stat"
)

// ErrNoValidSamples is returned when a metric's validity mask selects zero
// positions. Averaging over nothing would silently report NaN, so the run
// fails instead.
var ErrNoValidSamples = errors.New("mask selects no valid samples")

// meanEuclidean computes the mean Euclidean distance between predicted and
// ground-truth points over the positions where mask is true.
func meanEuclidean(preds, gts [][]mgl64.Vec3, mask [][]bool) (float64, error) {
	var dists []float64
	for i := range preds {
		for j := range preds[i] {
			if !mask[i][j] {
				continue
			}
			dists = append(dists, preds[i][j].Sub(gts[i][j]).Len())
		}
	}
	if len(dists) == 0 {
		return 0, ErrNoValidSamples
	}
	return stat.Mean(dists, nil), nil
}

// multiLabelAccuracy is the fraction of unmasked samples whose predicted
// indicator vector exactly equals the ground truth.
func multiLabelAccuracy(preds, gts [][2]int, mask []bool) (float64, error) {
	var acc []float64
	for i := range preds {
		if !mask[i] {
			continue
		}
		v := 0.0
		if preds[i] == gts[i] {
			v = 1.0
		}
		acc = append(acc, v)
	}
	if len(acc) == 0 {
		return 0, ErrNoValidSamples
	}
	return stat.Mean(acc, nil), nil
}
