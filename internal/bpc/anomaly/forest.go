package anomaly

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/sampleuv"
)

const eulerGamma = 0.5772156649015329

type node struct {
	feature     int
	split       float64
	left, right *node
	size        int
}

func (n *node) leaf() bool {
	return n.left == nil
}

type forest struct {
	trees      []*node
	sampleSize int
}

// averagePathLength is the expected path length of an unsuccessful search in
// a binary search tree of n points, used to normalise isolation depths.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

func fitForest(x [][]float64, trees, maxSamples int, rng *rand.Rand) *forest {
	sampleSize := len(x)
	if maxSamples > 0 && maxSamples < sampleSize {
		sampleSize = maxSamples
	}
	depthLimit := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	f := &forest{trees: make([]*node, trees), sampleSize: sampleSize}
	for t := range f.trees {
		idx := make([]int, sampleSize)
		sampleuv.WithoutReplacement(idx, len(x), rng)
		f.trees[t] = buildTree(x, idx, 0, depthLimit, rng)
	}
	return f
}

func buildTree(x [][]float64, idx []int, depth, limit int, rng *rand.Rand) *node {
	if depth >= limit || len(idx) <= 1 {
		return &node{size: len(idx)}
	}

	nFeatures := len(x[idx[0]])
	mins := make([]float64, nFeatures)
	maxs := make([]float64, nFeatures)
	column := make([]float64, len(idx))
	var candidates []int
	for j := 0; j < nFeatures; j++ {
		for k, i := range idx {
			column[k] = x[i][j]
		}
		mins[j], maxs[j] = floats.Min(column), floats.Max(column)
		if maxs[j] > mins[j] {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return &node{size: len(idx)}
	}

	feature := candidates[rng.Intn(len(candidates))]
	split := mins[feature] + rng.Float64()*(maxs[feature]-mins[feature])

	var left, right []int
	for _, i := range idx {
		if x[i][feature] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &node{size: len(idx)}
	}

	return &node{
		feature: feature,
		split:   split,
		left:    buildTree(x, left, depth+1, limit, rng),
		right:   buildTree(x, right, depth+1, limit, rng),
	}
}

func pathLength(n *node, p []float64) float64 {
	depth := 0.0
	for !n.leaf() {
		if p[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return depth + averagePathLength(n.size)
}

// score returns the negated anomaly score in [-1, 0). Lower is more anomalous.
func (f *forest) score(p []float64) float64 {
	var total float64
	for _, t := range f.trees {
		total += pathLength(t, p)
	}
	mean := total / float64(len(f.trees))
	return -math.Pow(2, -mean/averagePathLength(f.sampleSize))
}
