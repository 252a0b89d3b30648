package regression

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/params"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/prediction/tree"
)

var (
	criterions = []string{tree.CriterionMSE, tree.CriterionMAE}
	features   = []string{"auto", "sqrt", "log2"}
)

// RandomForest averages depth-limited regression trees.
type RandomForest struct {
	plugins.Meta
	NumTrees        int    `json:"n_estimators"`
	Criterion       string `json:"criterion"`
	MaxFeatures     string `json:"max_features"`
	MaxDepth        int    `json:"max_depth"`
	MinSamplesSplit int    `json:"min_samples_split"`
	MinSamplesLeaf  int    `json:"min_samples_leaf"`
	Bootstrap       bool   `json:"bootstrap"`
	Seed            int64  `json:"random_state"`

	NumFeatures int          `json:"num_features"`
	Trees       []*tree.Node `json:"trees,omitempty"`
}

// Fit grows the trees.
func (m *RandomForest) Fit(X *dataset.Frame, y []float64, _ plugins.FitOptions) error {
	if err := plugins.CheckFit(X, y); err != nil {
		return err
	}
	maxFeatures, err := tree.MaxFeatures(m.MaxFeatures, X.Ncol())
	if err != nil {
		return err
	}

	trees, err := tree.BuildForest(tree.ForestConfig{
		Tree: tree.Config{
			Criterion:       m.Criterion,
			MaxDepth:        m.MaxDepth,
			MinSamplesSplit: m.MinSamplesSplit,
			MinSamplesLeaf:  m.MinSamplesLeaf,
			MaxFeatures:     maxFeatures,
		},
		NumTrees:  m.NumTrees,
		Bootstrap: m.Bootstrap,
		Seed:      m.Seed,
	}, X.Rows, y)
	if err != nil {
		return err
	}

	m.Trees = trees
	m.NumFeatures = X.Ncol()
	return nil
}

// Predict averages the tree outputs.
func (m *RandomForest) Predict(X *dataset.Frame) ([]float64, error) {
	if len(m.Trees) == 0 {
		return nil, plugins.ErrNotFitted
	}
	if err := plugins.CheckColumns(X, m.NumFeatures); err != nil {
		return nil, err
	}

	preds := make([]float64, X.Nrow())
	for i, row := range X.Rows {
		preds[i] = tree.PredictForest(m.Trees, row)[0]
	}
	return preds, nil
}

// PredictProba is not defined for regression.
func (m *RandomForest) PredictProba(*dataset.Frame) (*mat.Dense, error) {
	return nil, plugins.ErrNotSupported
}

// Save serializes the trees.
func (m *RandomForest) Save() ([]byte, error) {
	return plugins.EncodeState(m)
}

func index(args map[string]interface{}, name string, choices []string) (string, error) {
	i, err := params.IntArg(args, name, 0)
	if err != nil {
		return "", err
	}
	if i < 0 || i >= len(choices) {
		return "", fmt.Errorf("argument %s: index %d out of range [0, %d]", name, i, len(choices)-1)
	}
	return choices[i], nil
}

func newRandomForest(f *plugins.Factory, args map[string]interface{}) (*RandomForest, error) {
	var err error
	m := &RandomForest{Meta: plugins.NewMeta(f, args), MaxDepth: 4}

	if m.Criterion, err = index(args, "criterion", criterions); err != nil {
		return nil, err
	}
	if m.MaxFeatures, err = index(args, "max_features", features); err != nil {
		return nil, err
	}
	if m.NumTrees, err = params.IntArg(args, "n_estimators", 50); err != nil {
		return nil, err
	}
	iters, err := params.IntArg(args, "hyperparam_search_iterations", 0)
	if err != nil {
		return nil, err
	}
	if iters > 0 {
		m.NumTrees = iters
	}
	if m.MinSamplesSplit, err = params.IntArg(args, "min_samples_split", 2); err != nil {
		return nil, err
	}
	if m.MinSamplesLeaf, err = params.IntArg(args, "min_samples_leaf", 2); err != nil {
		return nil, err
	}
	if m.Bootstrap, err = params.BoolArg(args, "bootstrap", true); err != nil {
		return nil, err
	}
	seed, err := params.IntArg(args, "random_state", 0)
	if err != nil {
		return nil, err
	}
	m.Seed = int64(seed)
	return m, nil
}

func randomForestFactory() *plugins.Factory {
	f := &plugins.Factory{
		Name:        "random_forest_regressor",
		Type:        plugins.TypePrediction,
		Subtype:     plugins.SubtypeRegression,
		Description: "Random forest regressor",
		Space: func(plugins.SpaceOptions) []params.Param {
			return []params.Param{
				params.Integer{Name: "criterion", Low: 0, High: len(criterions) - 1},
				params.Integer{Name: "max_features", Low: 0, High: len(features) - 1},
				params.Categorical{Name: "min_samples_split", Choices: []interface{}{2, 5, 10}},
				params.Categorical{Name: "min_samples_leaf", Choices: []interface{}{2, 5, 10}},
			}
		},
	}
	f.New = func(args map[string]interface{}) (plugins.Plugin, error) {
		return newRandomForest(f, args)
	}
	f.Load = func(_ *plugins.Registry, data []byte) (plugins.Plugin, error) {
		m := &RandomForest{}
		if err := plugins.DecodeState(data, m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return f
}
