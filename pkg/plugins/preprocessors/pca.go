package preprocessors

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/params"
)

// PCA projects centered features onto their leading principal directions.
type PCA struct {
	plugins.Meta
	NComponents int `json:"n_components"`
	// Means and Components (features x k, row-major) are the fitted projection.
	Means      []float64   `json:"means,omitempty"`
	Components [][]float64 `json:"components,omitempty"`
	Fitted     bool        `json:"fitted"`
}

// Fit computes the principal components. The requested component count is
// clipped to min(n_components, rows, cols).
func (p *PCA) Fit(X *dataset.Frame, y []float64) error {
	if err := plugins.CheckFit(X, y); err != nil {
		return err
	}

	k := min(p.NComponents, X.Nrow(), X.Ncol())
	if k < 1 {
		return fmt.Errorf("pca needs at least one component, got %d", p.NComponents)
	}

	data := X.Dense()
	_, c := data.Dims()
	means := make([]float64, c)
	for j := range means {
		means[j] = stat.Mean(mat.Col(nil, j, data), nil)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(data, nil); !ok {
		return fmt.Errorf("pca decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	components := make([][]float64, c)
	for i := range components {
		row := make([]float64, k)
		for j := 0; j < k; j++ {
			row[j] = vecs.At(i, j)
		}
		components[i] = row
	}

	p.Means = means
	p.Components = components
	p.Fitted = true
	return nil
}

// Transform projects X; output columns are named "0".."k-1".
func (p *PCA) Transform(X *dataset.Frame) (*dataset.Frame, error) {
	if !p.Fitted {
		return nil, plugins.ErrNotFitted
	}
	if err := plugins.CheckColumns(X, len(p.Means)); err != nil {
		return nil, err
	}

	k := len(p.Components[0])
	rows := make([][]float64, X.Nrow())
	for r, in := range X.Rows {
		out := make([]float64, k)
		for i, v := range in {
			centered := v - p.Means[i]
			for j := 0; j < k; j++ {
				out[j] += centered * p.Components[i][j]
			}
		}
		rows[r] = out
	}
	return &dataset.Frame{Columns: dataset.GeneratedColumns(k), Rows: rows}, nil
}

// Save serializes the projection.
func (p *PCA) Save() ([]byte, error) {
	return plugins.EncodeState(p)
}

// ComponentsInterval returns the n_components search range for a feature count.
func ComponentsInterval(features int) (int, int) {
	cmin := min(2, max(features, 1))
	cmax := max(cmin, features-1)
	return cmin, cmax
}

func pcaFactory() *plugins.Factory {
	f := &plugins.Factory{
		Name:        "pca",
		Type:        plugins.TypePreprocessor,
		Subtype:     plugins.SubtypeDimensionalityReduction,
		Description: "Principal component analysis",
		Space: func(opts plugins.SpaceOptions) []params.Param {
			cmin, cmax := ComponentsInterval(opts.NumFeatures)
			return []params.Param{params.Integer{Name: "n_components", Low: cmin, High: cmax}}
		},
	}
	f.New = func(args map[string]interface{}) (plugins.Plugin, error) {
		n, err := params.IntArg(args, "n_components", 2)
		if err != nil {
			return nil, err
		}
		if n < 1 {
			return nil, fmt.Errorf("n_components must be positive, got %d", n)
		}
		return &PCA{Meta: plugins.NewMeta(f, args), NComponents: n}, nil
	}
	f.Load = func(_ *plugins.Registry, data []byte) (plugins.Plugin, error) {
		p := &PCA{}
		if err := plugins.DecodeState(data, p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return f
}
