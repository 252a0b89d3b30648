// Package prediction holds helpers shared by the classifier, regression and
// risk estimation plugins.
package prediction

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/params"
)

// Labels maps class values to contiguous indices.
type Labels struct {
	Values []float64 `json:"classes,omitempty"`
}

// Fit records the sorted distinct values of y and returns y as class indices.
func (l *Labels) Fit(y []float64) ([]float64, error) {
	seen := make(map[float64]bool)
	values := make([]float64, 0)
	for _, v := range y {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("labels contain NaN")
		}
		if !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("classification needs at least two classes, got %d", len(values))
	}
	sort.Float64s(values)
	l.Values = values

	index := make(map[float64]int, len(values))
	for i, v := range values {
		index[v] = i
	}
	encoded := make([]float64, len(y))
	for i, v := range y {
		encoded[i] = float64(index[v])
	}
	return encoded, nil
}

// Classes returns a copy of the class values.
func (l Labels) Classes() []float64 {
	return append([]float64(nil), l.Values...)
}

// Decode returns, for each row of proba, the class with the highest probability.
func (l Labels) Decode(proba *mat.Dense) []float64 {
	r, _ := proba.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		row := proba.RawRowView(i)
		best := 0
		for j, p := range row {
			if p > row[best] {
				best = j
			}
		}
		out[i] = l.Values[best]
	}
	return out
}

// Standardizer centers and scales columns; predictors that optimize by
// gradient use it internally.
type Standardizer struct {
	Means []float64 `json:"means,omitempty"`
	Stds  []float64 `json:"stds,omitempty"`
}

// Fit learns column means and standard deviations.
func (s *Standardizer) Fit(X *dataset.Frame) {
	s.Means = make([]float64, X.Ncol())
	s.Stds = make([]float64, X.Ncol())
	for j := range s.Means {
		mean, std := stat.PopMeanStdDev(X.ColumnAt(j), nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Means[j], s.Stds[j] = mean, std
	}
}

// Dense returns the standardized design matrix.
func (s *Standardizer) Dense(X *dataset.Frame) *mat.Dense {
	m := mat.NewDense(X.Nrow(), X.Ncol(), nil)
	for i, row := range X.Rows {
		for j, v := range row {
			m.Set(i, j, (v-s.Means[j])/s.Stds[j])
		}
	}
	return m
}

// Softmax normalizes each row of m in place.
func Softmax(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		maxv := math.Inf(-1)
		for _, v := range row {
			maxv = math.Max(maxv, v)
		}
		sum := 0.0
		for j, v := range row {
			row[j] = math.Exp(v - maxv)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
}

// Neighbors returns the indices of the k rows of train closest to x under the
// Minkowski distance of order p.
func Neighbors(train [][]float64, x []float64, k int, p float64) ([]int, []float64) {
	type cand struct {
		idx  int
		dist float64
	}
	cands := make([]cand, len(train))
	for i, row := range train {
		cands[i] = cand{idx: i, dist: minkowski(row, x, p)}
	}
	sort.SliceStable(cands, func(a, b int) bool { return cands[a].dist < cands[b].dist })

	k = min(k, len(cands))
	idx := make([]int, k)
	dist := make([]float64, k)
	for i := 0; i < k; i++ {
		idx[i], dist[i] = cands[i].idx, cands[i].dist
	}
	return idx, dist
}

func minkowski(a, b []float64, p float64) float64 {
	sum := 0.0
	for i := range a {
		sum += math.Pow(math.Abs(a[i]-b[i]), p)
	}
	return math.Pow(sum, 1/p)
}

// NeighborWeights returns uniform weights, or inverse distances for "distance".
// An exact match takes all the weight.
func NeighborWeights(scheme string, dist []float64) []float64 {
	w := make([]float64, len(dist))
	if scheme != "distance" {
		for i := range w {
			w[i] = 1
		}
		return w
	}
	for i, d := range dist {
		if d == 0 {
			for j := range w {
				w[j] = 0
			}
			w[i] = 1
			return w
		}
		w[i] = 1 / d
	}
	return w
}

// KNNArgs parses the arguments shared by the KNN plugins.
func KNNArgs(args map[string]interface{}) (int, string, float64, error) {
	k, err := params.IntArg(args, "n_neighbors", 5)
	if err != nil {
		return 0, "", 0, err
	}
	weights, err := params.StringArg(args, "weights", "uniform")
	if err != nil {
		return 0, "", 0, err
	}
	p, err := params.IntArg(args, "p", 2)
	if err != nil {
		return 0, "", 0, err
	}
	if k < 1 {
		return 0, "", 0, fmt.Errorf("n_neighbors must be positive, got %d", k)
	}
	if weights != "uniform" && weights != "distance" {
		return 0, "", 0, fmt.Errorf("unknown weights: %s", weights)
	}
	if p < 1 {
		return 0, "", 0, fmt.Errorf("p must be at least 1, got %d", p)
	}
	return k, weights, float64(p), nil
}

// KNNSpace is the search space of the KNN plugins.
func KNNSpace(opts plugins.SpaceOptions) []params.Param {
	high := 15
	if opts.NumSamples > 0 {
		high = max(1, min(high, opts.NumSamples/2))
	}
	return []params.Param{
		params.Integer{Name: "n_neighbors", Low: 1, High: high},
		params.Categorical{Name: "weights", Choices: []interface{}{"uniform", "distance"}},
		params.Integer{Name: "p", Low: 1, High: 2},
	}
}
