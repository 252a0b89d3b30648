// Package builtin wires every bundled plugin into a registry.
package builtin

import (
	"github.com/mimir-aip/prognosis-go/pkg/pipeline"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/imputers"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/prediction/classifiers"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/prediction/regression"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/prediction/risk"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/preprocessors"
)

// NewRegistry returns a registry holding the imputers, preprocessors,
// predictors and model containers shipped with the module.
func NewRegistry() *plugins.Registry {
	reg := plugins.NewRegistry()

	groups := [][]*plugins.Factory{
		imputers.Factories(),
		preprocessors.Factories(),
		classifiers.Factories(),
		regression.Factories(),
		risk.Factories(),
		{pipeline.Factory(reg), pipeline.EnsembleFactory()},
	}
	for _, group := range groups {
		for _, f := range group {
			reg.MustRegister(f)
		}
	}
	return reg
}
