package tree

import (
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ForestConfig controls an ensemble of trees.
type ForestConfig struct {
	Tree       Config
	NumTrees   int
	Bootstrap  bool
	Seed       int64
	MaxWorkers int
}

// BuildForest grows NumTrees trees concurrently. Tree i uses its own generator
// seeded with Seed+i, so the result does not depend on scheduling.
func BuildForest(cfg ForestConfig, features [][]float64, labels []float64) ([]*Node, error) {
	if cfg.NumTrees < 1 {
		return nil, fmt.Errorf("n_estimators must be positive, got %d", cfg.NumTrees)
	}
	if err := cfg.Tree.Validate(); err != nil {
		return nil, err
	}
	n := len(features)
	if n == 0 {
		return nil, fmt.Errorf("no training rows")
	}

	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]*Node, cfg.NumTrees)
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range trees {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(cfg.Seed + int64(i)))
			idx := make([]int, n)
			for j := range idx {
				if cfg.Bootstrap {
					idx[j] = rng.Intn(n)
				} else {
					idx[j] = j
				}
			}
			node, err := Build(cfg.Tree, features, labels, idx, rng)
			if err != nil {
				return fmt.Errorf("failed to build tree %d: %w", i, err)
			}
			trees[i] = node
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return trees, nil
}

// PredictForest averages the leaf values of every tree for one row.
func PredictForest(trees []*Node, row []float64) []float64 {
	var out []float64
	for _, t := range trees {
		v := t.Predict(row)
		if out == nil {
			out = make([]float64, len(v))
		}
		for i := range v {
			out[i] += v[i]
		}
	}
	for i := range out {
		out[i] /= float64(len(trees))
	}
	return out
}

// MaxFeatures resolves the max_features strategies for a feature count.
func MaxFeatures(strategy string, n int) (int, error) {
	switch strategy {
	case "auto", "all", "":
		return n, nil
	case "sqrt":
		return max(1, isqrt(n)), nil
	case "log2":
		k := 0
		for v := n; v > 1; v >>= 1 {
			k++
		}
		return max(1, k), nil
	default:
		return 0, fmt.Errorf("unknown max_features strategy: %s", strategy)
	}
}

func isqrt(n int) int {
	r := 0
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}
