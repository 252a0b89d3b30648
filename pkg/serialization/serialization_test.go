package serialization

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/prognosis-go/pkg/dataset"
	"github.com/mimir-aip/prognosis-go/pkg/plugins"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/imputers"
)

func fittedImputer(t *testing.T) (*plugins.Registry, plugins.Transformer) {
	t.Helper()
	reg := plugins.NewRegistry()
	for _, f := range imputers.Factories() {
		require.NoError(t, reg.Register(f))
	}
	imp, err := reg.Transformer(plugins.TypeImputer, "median", nil)
	require.NoError(t, err)

	X, err := dataset.NewFrame([]string{"a"}, [][]float64{{1}, {2}, {9}})
	require.NoError(t, err)
	require.NoError(t, imp.Fit(X, nil))
	return reg, imp
}

func TestSaveLoadModel(t *testing.T) {
	reg, imp := fittedImputer(t)

	data, err := SaveModel(imp)
	require.NoError(t, err)

	loaded, err := LoadModel(reg, data)
	require.NoError(t, err)
	assert.Equal(t, "median", loaded.Name())
	assert.Equal(t, plugins.TypeImputer, loaded.Type())
	assert.Equal(t, imp.(*imputers.Imputer).Statistics, loaded.(*imputers.Imputer).Statistics)
}

func TestLoadModelCorrupt(t *testing.T) {
	reg, imp := fittedImputer(t)

	_, err := LoadModel(reg, []byte("not a model"))
	assert.Error(t, err)

	data, err := SaveModel(imp)
	require.NoError(t, err)
	_, err = LoadModel(plugins.NewRegistry(), data)
	assert.ErrorIs(t, err, plugins.ErrUnknownPlugin)
}

func TestDecodeVersion(t *testing.T) {
	reg, imp := fittedImputer(t)
	env, err := Encode(imp)
	require.NoError(t, err)

	env.Version = FormatVersion + 1
	_, err = Decode(reg, env)
	assert.Error(t, err)
}

func TestSaveModelToFile(t *testing.T) {
	reg, imp := fittedImputer(t)
	path := filepath.Join(t.TempDir(), "nested", "dir", "model.p")

	require.NoError(t, SaveModelToFile(path, imp))
	require.NoError(t, SaveModelToFile(path, imp), "overwrite")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must be cleaned up")

	loaded, err := LoadModelFromFile(reg, path)
	require.NoError(t, err)
	assert.Equal(t, "median", loaded.Name())

	_, err = LoadModelFromFile(reg, filepath.Join(t.TempDir(), "missing.p"))
	assert.Error(t, err)
}
