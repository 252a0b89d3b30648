// Package tree implements CART decision trees shared by the tree and forest
// prediction plugins.
package tree

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Split criteria
const (
	CriterionGini    = "gini"
	CriterionEntropy = "entropy"
	CriterionMSE     = "mse"
	CriterionMAE     = "mae"
)

// maxThresholds bounds the candidate thresholds tried per feature.
const maxThresholds = 32

// Config controls tree growth.
type Config struct {
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures is the number of features drawn per split; 0 means all.
	MaxFeatures int
	// NumClasses is set for classification; labels are then class indices.
	NumClasses int
}

// Node is a tree node. Leaves carry Value: class probabilities for
// classification or a single mean for regression.
type Node struct {
	Feature   int       `json:"f,omitempty"`
	Threshold float64   `json:"t,omitempty"`
	Left      *Node     `json:"l,omitempty"`
	Right     *Node     `json:"r,omitempty"`
	Value     []float64 `json:"v,omitempty"`
	IsLeaf    bool      `json:"leaf,omitempty"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Criterion {
	case CriterionGini, CriterionEntropy:
		if c.NumClasses < 1 {
			return fmt.Errorf("criterion %s needs class labels", c.Criterion)
		}
	case CriterionMSE, CriterionMAE:
	default:
		return fmt.Errorf("unknown criterion: %s", c.Criterion)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be positive, got %d", c.MaxDepth)
	}
	if c.MinSamplesSplit < 2 {
		return fmt.Errorf("min_samples_split must be at least 2, got %d", c.MinSamplesSplit)
	}
	if c.MinSamplesLeaf < 1 {
		return fmt.Errorf("min_samples_leaf must be positive, got %d", c.MinSamplesLeaf)
	}
	return nil
}

type builder struct {
	cfg      Config
	features [][]float64
	labels   []float64
	rng      *rand.Rand
}

// Build grows a tree over the rows at idx. rng drives feature subsampling.
func Build(cfg Config, features [][]float64, labels []float64, idx []int, rng *rand.Rand) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("no training rows")
	}
	b := &builder{cfg: cfg, features: features, labels: labels, rng: rng}
	return b.build(idx, 0), nil
}

func (b *builder) build(idx []int, depth int) *Node {
	if depth >= b.cfg.MaxDepth || len(idx) < b.cfg.MinSamplesSplit || b.isHomogeneous(idx) {
		return b.leaf(idx)
	}

	feature, threshold, gain := b.findBestSplit(idx)
	if gain <= 0 {
		return b.leaf(idx)
	}

	left, right := b.splitData(idx, feature, threshold)
	return &Node{
		Feature:   feature,
		Threshold: threshold,
		Left:      b.build(left, depth+1),
		Right:     b.build(right, depth+1),
	}
}

func (b *builder) leaf(idx []int) *Node {
	if b.cfg.NumClasses > 0 {
		return &Node{IsLeaf: true, Value: b.distribution(idx)}
	}
	values := b.values(idx)
	if b.cfg.Criterion == CriterionMAE {
		sort.Float64s(values)
		return &Node{IsLeaf: true, Value: []float64{stat.Quantile(0.5, stat.Empirical, values, nil)}}
	}
	return &Node{IsLeaf: true, Value: []float64{stat.Mean(values, nil)}}
}

// candidateFeatures draws MaxFeatures distinct features, or all of them.
func (b *builder) candidateFeatures() []int {
	n := len(b.features[0])
	if b.cfg.MaxFeatures <= 0 || b.cfg.MaxFeatures >= n || b.rng == nil {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return b.rng.Perm(n)[:b.cfg.MaxFeatures]
}

// findBestSplit tries midpoints between sorted distinct values of each
// candidate feature and keeps the largest impurity decrease.
func (b *builder) findBestSplit(idx []int) (int, float64, float64) {
	bestFeature, bestThreshold, bestGain := 0, 0.0, 0.0
	parent := b.impurity(idx)
	total := float64(len(idx))

	for _, feature := range b.candidateFeatures() {
		for _, threshold := range b.thresholds(idx, feature) {
			left, right := b.splitData(idx, feature, threshold)
			if len(left) < b.cfg.MinSamplesLeaf || len(right) < b.cfg.MinSamplesLeaf {
				continue
			}
			lw := float64(len(left)) / total
			rw := float64(len(right)) / total
			gain := parent - (lw*b.impurity(left) + rw*b.impurity(right))
			if gain > bestGain+1e-12 {
				bestFeature, bestThreshold, bestGain = feature, threshold, gain
			}
		}
	}
	return bestFeature, bestThreshold, bestGain
}

func (b *builder) thresholds(idx []int, feature int) []float64 {
	values := make([]float64, len(idx))
	for i, r := range idx {
		values[i] = b.features[r][feature]
	}
	sort.Float64s(values)

	distinct := make([]float64, 0, len(values))
	for i, v := range values {
		if i == 0 || v != values[i-1] {
			distinct = append(distinct, v)
		}
	}
	if len(distinct) < 2 {
		return nil
	}

	mids := make([]float64, len(distinct)-1)
	for i := range mids {
		mids[i] = (distinct[i] + distinct[i+1]) / 2
	}
	if len(mids) <= maxThresholds {
		return mids
	}
	step := float64(len(mids)) / maxThresholds
	out := make([]float64, maxThresholds)
	for i := range out {
		out[i] = mids[int(float64(i)*step)]
	}
	return out
}

func (b *builder) splitData(idx []int, feature int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, r := range idx {
		if b.features[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return left, right
}

func (b *builder) isHomogeneous(idx []int) bool {
	first := b.labels[idx[0]]
	for _, r := range idx {
		if b.labels[r] != first {
			return false
		}
	}
	return true
}

func (b *builder) values(idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, r := range idx {
		out[i] = b.labels[r]
	}
	return out
}

func (b *builder) distribution(idx []int) []float64 {
	dist := make([]float64, b.cfg.NumClasses)
	for _, r := range idx {
		dist[int(b.labels[r])]++
	}
	for i := range dist {
		dist[i] /= float64(len(idx))
	}
	return dist
}

func (b *builder) impurity(idx []int) float64 {
	switch b.cfg.Criterion {
	case CriterionGini:
		impurity := 1.0
		for _, p := range b.distribution(idx) {
			impurity -= p * p
		}
		return impurity
	case CriterionEntropy:
		entropy := 0.0
		for _, p := range b.distribution(idx) {
			if p > 0 {
				entropy -= p * math.Log2(p)
			}
		}
		return entropy
	case CriterionMAE:
		values := b.values(idx)
		sort.Float64s(values)
		med := stat.Quantile(0.5, stat.Empirical, values, nil)
		sum := 0.0
		for _, v := range values {
			sum += math.Abs(v - med)
		}
		return sum / float64(len(values))
	default:
		_, std := stat.PopMeanStdDev(b.values(idx), nil)
		return std * std
	}
}

// Predict walks the tree for one row.
func (n *Node) Predict(row []float64) []float64 {
	node := n
	for !node.IsLeaf {
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value
}

// Depth returns the depth of the tree; a single leaf has depth 0.
func (n *Node) Depth() int {
	if n == nil || n.IsLeaf {
		return 0
	}
	return 1 + max(n.Left.Depth(), n.Right.Depth())
}
