package classifiers

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/params"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/prediction"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/prediction/tree"
)

var (
	criterions = []string{tree.CriterionGini, tree.CriterionEntropy}
	features   = []string{"auto", "sqrt", "log2"}
)

// Forest is a bagged ensemble of CART trees. A decision tree is a forest of
// one tree grown on the full sample with every feature.
type Forest struct {
	plugins.Meta
	prediction.Labels
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
func (m *Forest) Fit(X *dataset.Frame, y []float64, _ plugins.FitOptions) error {
	if err := plugins.CheckFit(X, y); err != nil {
		return err
	}
	encoded, err := m.Labels.Fit(y)
	if err != nil {
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
			NumClasses:      len(m.Values),
		},
		NumTrees:  m.NumTrees,
		Bootstrap: m.Bootstrap,
		Seed:      m.Seed,
	}, X.Rows, encoded)
	if err != nil {
		return err
	}

	m.Trees = trees
	m.NumFeatures = X.Ncol()
	return nil
}

// PredictProba averages the leaf class distributions of every tree.
func (m *Forest) PredictProba(X *dataset.Frame) (*mat.Dense, error) {
	if len(m.Trees) == 0 {
		return nil, plugins.ErrNotFitted
	}
	if err := plugins.CheckColumns(X, m.NumFeatures); err != nil {
		return nil, err
	}

	proba := mat.NewDense(X.Nrow(), len(m.Values), nil)
	for i, row := range X.Rows {
		proba.SetRow(i, tree.PredictForest(m.Trees, row))
	}
	return proba, nil
}

// Predict returns the most probable class.
func (m *Forest) Predict(X *dataset.Frame) ([]float64, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return m.Decode(proba), nil
}

// Save serializes the trees.
func (m *Forest) Save() ([]byte, error) {
	return plugins.EncodeState(m)
}

// index reads an integer argument used as an index into choices.
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

func newForest(f *plugins.Factory, args map[string]interface{}, single bool) (*Forest, error) {
	criterion, err := index(args, "criterion", criterions)
	if err != nil {
		return nil, err
	}
	m := &Forest{Meta: plugins.NewMeta(f, args), Criterion: criterion, NumTrees: 1, MaxFeatures: "auto"}

	if !single {
		if m.NumTrees, err = params.IntArg(args, "n_estimators", 100); err != nil {
			return nil, err
		}
		if iters, err := params.IntArg(args, "hyperparam_search_iterations", 0); err != nil {
			return nil, err
		} else if iters > 0 {
			m.NumTrees = iters
		}
		if m.MaxFeatures, err = index(args, "max_features", features); err != nil {
			return nil, err
		}
		if m.Bootstrap, err = params.BoolArg(args, "bootstrap", true); err != nil {
			return nil, err
		}
	}
	if m.MaxDepth, err = params.IntArg(args, "max_depth", 6); err != nil {
		return nil, err
	}
	if m.MinSamplesSplit, err = params.IntArg(args, "min_samples_split", 2); err != nil {
		return nil, err
	}
	if m.MinSamplesLeaf, err = params.IntArg(args, "min_samples_leaf", 1); err != nil {
		return nil, err
	}
	if m.Seed, err = seed(args); err != nil {
		return nil, err
	}
	return m, nil
}

func seed(args map[string]interface{}) (int64, error) {
	s, err := params.IntArg(args, "random_state", 0)
	return int64(s), err
}

func forestLoader(_ *plugins.Registry, data []byte) (plugins.Plugin, error) {
	m := &Forest{}
	if err := plugins.DecodeState(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

func randomForestFactory() *plugins.Factory {
	f := &plugins.Factory{
		Name:        "random_forest",
		Type:        plugins.TypePrediction,
		Subtype:     plugins.SubtypeClassifier,
		Description: "Random forest classifier",
		Load:        forestLoader,
		Space: func(plugins.SpaceOptions) []params.Param {
			return []params.Param{
				params.Integer{Name: "criterion", Low: 0, High: len(criterions) - 1},
				params.Integer{Name: "max_features", Low: 0, High: len(features) - 1},
				params.Categorical{Name: "n_estimators", Choices: []interface{}{10, 50, 100}},
				params.Integer{Name: "max_depth", Low: 2, High: 6},
				params.Categorical{Name: "min_samples_split", Choices: []interface{}{2, 5, 10}},
				params.Categorical{Name: "min_samples_leaf", Choices: []interface{}{1, 2, 5}},
			}
		},
	}
	f.New = func(args map[string]interface{}) (plugins.Plugin, error) {
		return newForest(f, args, false)
	}
	return f
}

func decisionTreeFactory() *plugins.Factory {
	f := &plugins.Factory{
		Name:        "decision_tree",
		Type:        plugins.TypePrediction,
		Subtype:     plugins.SubtypeClassifier,
		Description: "CART decision tree classifier",
		Load:        forestLoader,
		Space: func(plugins.SpaceOptions) []params.Param {
			return []params.Param{
				params.Integer{Name: "criterion", Low: 0, High: len(criterions) - 1},
				params.Integer{Name: "max_depth", Low: 2, High: 10},
				params.Categorical{Name: "min_samples_split", Choices: []interface{}{2, 5, 10}},
				params.Categorical{Name: "min_samples_leaf", Choices: []interface{}{1, 2, 5}},
			}
		},
	}
	f.New = func(args map[string]interface{}) (plugins.Plugin, error) {
		return newForest(f, args, true)
	}
	return f
}
