// Package imputers provides column-wise missing value imputation plugins.
package imputers

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/params"
)

// Imputation strategies
const (
	StrategyMean         = "mean"
	StrategyMedian       = "median"
	StrategyMostFrequent = "most_frequent"
	StrategyConstant     = "constant"
)

// Imputer replaces NaN cells with a per-column statistic learned at fit time.
type Imputer struct {
	plugins.Meta
	Strategy   string    `json:"strategy"`
	FillValue  float64   `json:"fill_value"`
	Statistics []float64 `json:"statistics,omitempty"`
	Fitted     bool      `json:"fitted"`
}

// Fit learns the replacement value of every column. Columns with no observed
// value fall back to FillValue.
func (m *Imputer) Fit(X *dataset.Frame, y []float64) error {
	if err := plugins.CheckFit(X, y); err != nil {
		return err
	}

	stats := make([]float64, X.Ncol())
	for j := range stats {
		observed := observedValues(X.ColumnAt(j))
		if len(observed) == 0 || m.Strategy == StrategyConstant {
			stats[j] = m.FillValue
			continue
		}
		switch m.Strategy {
		case StrategyMean:
			stats[j] = stat.Mean(observed, nil)
		case StrategyMedian:
			sort.Float64s(observed)
			stats[j] = medianSorted(observed)
		case StrategyMostFrequent:
			stats[j] = mostFrequent(observed)
		default:
			return fmt.Errorf("unknown imputation strategy: %s", m.Strategy)
		}
	}

	m.Statistics = stats
	m.Fitted = true
	return nil
}

// Transform returns a copy of X with missing cells filled.
func (m *Imputer) Transform(X *dataset.Frame) (*dataset.Frame, error) {
	if !m.Fitted {
		return nil, plugins.ErrNotFitted
	}
	if err := plugins.CheckColumns(X, len(m.Statistics)); err != nil {
		return nil, err
	}

	out := X.Clone()
	for _, row := range out.Rows {
		for j, v := range row {
			if math.IsNaN(v) {
				row[j] = m.Statistics[j]
			}
		}
	}
	return out, nil
}

// Save serializes the imputer.
func (m *Imputer) Save() ([]byte, error) {
	return plugins.EncodeState(m)
}

func observedValues(col []float64) []float64 {
	out := make([]float64, 0, len(col))
	for _, v := range col {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func medianSorted(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// mostFrequent returns the modal value, the smallest one on ties.
func mostFrequent(values []float64) float64 {
	counts := make(map[float64]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	best, bestCount := math.Inf(1), 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	return best
}

func factory(name, strategy, description string) *plugins.Factory {
	f := &plugins.Factory{
		Name:        name,
		Type:        plugins.TypeImputer,
		Subtype:     plugins.SubtypeDefault,
		Description: description,
	}
	f.New = func(args map[string]interface{}) (plugins.Plugin, error) {
		fill, err := params.FloatArg(args, "fill_value", 0)
		if err != nil {
			return nil, err
		}
		return &Imputer{Meta: plugins.NewMeta(f, args), Strategy: strategy, FillValue: fill}, nil
	}
	f.Load = func(_ *plugins.Registry, data []byte) (plugins.Plugin, error) {
		m := &Imputer{}
		if err := plugins.DecodeState(data, m); err != nil {
			return nil, err
		}
		if m.Strategy != strategy {
			return nil, fmt.Errorf("saved imputer uses strategy %q, expected %q", m.Strategy, strategy)
		}
		return m, nil
	}
	return f
}

// Factories returns the imputer plugin factories.
func Factories() []*plugins.Factory {
	return []*plugins.Factory{
		factory(StrategyMean, StrategyMean, "Replace missing values with the column mean"),
		factory(StrategyMedian, StrategyMedian, "Replace missing values with the column median"),
		factory(StrategyMostFrequent, StrategyMostFrequent, "Replace missing values with the most frequent column value"),
		factory(StrategyConstant, StrategyConstant, "Replace missing values with fill_value"),
	}
}
