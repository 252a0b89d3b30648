// Package preprocessors provides feature scaling and dimensionality reduction
// plugins.
package preprocessors

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
)

// Scaling methods
const (
	ScaleNop      = "nop"
	ScaleStandard = "scaler"
	ScaleMinMax   = "minmax_scaler"
	ScaleMaxAbs   = "maxabs_scaler"
)

// Scaler applies (x - Offset) / Scale column-wise.
type Scaler struct {
	plugins.Meta
	Method string    `json:"method"`
	Offset []float64 `json:"offset,omitempty"`
	Scale  []float64 `json:"scale,omitempty"`
	Fitted bool      `json:"fitted"`
}

// Fit learns the per-column offset and scale. Constant columns get a unit scale.
func (s *Scaler) Fit(X *dataset.Frame, y []float64) error {
	if err := plugins.CheckFit(X, y); err != nil {
		return err
	}

	n := X.Ncol()
	s.Offset = make([]float64, n)
	s.Scale = make([]float64, n)
	for j := 0; j < n; j++ {
		col := X.ColumnAt(j)
		offset, scale := 0.0, 1.0
		switch s.Method {
		case ScaleStandard:
			offset, scale = stat.PopMeanStdDev(col, nil)
		case ScaleMinMax:
			offset = floats.Min(col)
			scale = floats.Max(col) - offset
		case ScaleMaxAbs:
			scale = maxAbs(col)
		}
		if scale == 0 || math.IsNaN(scale) {
			scale = 1
		}
		s.Offset[j] = offset
		s.Scale[j] = scale
	}
	s.Fitted = true
	return nil
}

// Transform scales a copy of X.
func (s *Scaler) Transform(X *dataset.Frame) (*dataset.Frame, error) {
	if !s.Fitted {
		return nil, plugins.ErrNotFitted
	}
	if err := plugins.CheckColumns(X, len(s.Scale)); err != nil {
		return nil, err
	}

	out := X.Clone()
	for _, row := range out.Rows {
		for j := range row {
			row[j] = (row[j] - s.Offset[j]) / s.Scale[j]
		}
	}
	return out, nil
}

// Save serializes the scaler.
func (s *Scaler) Save() ([]byte, error) {
	return plugins.EncodeState(s)
}

func maxAbs(col []float64) float64 {
	m := 0.0
	for _, v := range col {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

func scalerFactory(method, description string) *plugins.Factory {
	f := &plugins.Factory{
		Name:        method,
		Type:        plugins.TypePreprocessor,
		Subtype:     plugins.SubtypeFeatureScaling,
		Description: description,
	}
	f.New = func(args map[string]interface{}) (plugins.Plugin, error) {
		return &Scaler{Meta: plugins.NewMeta(f, args), Method: method}, nil
	}
	f.Load = func(_ *plugins.Registry, data []byte) (plugins.Plugin, error) {
		s := &Scaler{}
		if err := plugins.DecodeState(data, s); err != nil {
			return nil, err
		}
		return s, nil
	}
	return f
}
