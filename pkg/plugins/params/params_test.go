package params

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSuggester answers every categorical draw with the same label.
type fixedSuggester struct {
	*RandomSuggester
	label string
	names []string
}

func (f *fixedSuggester) SuggestCategorical(name string, choices []string) (string, error) {
	f.names = append(f.names, name)
	return f.label, nil
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		param   Param
		wantErr bool
	}{
		{name: "integer", param: Integer{Name: "depth", Low: 2, High: 8}},
		{name: "integer single value", param: Integer{Name: "depth", Low: 4, High: 4}},
		{name: "integer inverted", param: Integer{Name: "depth", Low: 8, High: 2}, wantErr: true},
		{name: "integer unnamed", param: Integer{Low: 1, High: 2}, wantErr: true},
		{name: "float", param: Float{Name: "C", Low: 0.1, High: 10}},
		{name: "float inverted", param: Float{Name: "C", Low: 10, High: 0.1}, wantErr: true},
		{name: "float log from zero", param: Float{Name: "C", Low: 0, High: 10, Log: true}, wantErr: true},
		{name: "categorical", param: Categorical{Name: "leaf", Choices: []interface{}{2, 5, 10}}},
		{name: "categorical empty", param: Categorical{Name: "leaf"}, wantErr: true},
		{name: "categorical duplicate", param: Categorical{Name: "leaf", Choices: []interface{}{2, "2"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.param.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCategoricalSuggestKeepsChoiceType(t *testing.T) {
	s := &fixedSuggester{RandomSuggester: NewRandomSuggester(1), label: "5"}
	p := Categorical{Name: "min_samples_leaf", Choices: []interface{}{2, 5, 10}}

	v, err := p.Suggest(s, "random_forest.")
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.Equal(t, []string{"random_forest.min_samples_leaf"}, s.names)

	s.label = "7"
	_, err = p.Suggest(s, "")
	assert.Error(t, err)
}

func TestRandomSuggesterBounds(t *testing.T) {
	s := NewRandomSuggester(42)
	space := []Param{
		Integer{Name: "n", Low: 3, High: 6},
		Float{Name: "alpha", Low: -1, High: 1},
		Float{Name: "C", Low: 1e-3, High: 1e2, Log: true},
		Categorical{Name: "weights", Choices: []interface{}{"uniform", "distance"}},
	}

	for i := 0; i < 200; i++ {
		args, err := SuggestAll(s, "", space)
		require.NoError(t, err)

		n := args["n"].(int)
		assert.True(t, n >= 3 && n <= 6, "n=%d", n)
		alpha := args["alpha"].(float64)
		assert.True(t, alpha >= -1 && alpha <= 1, "alpha=%g", alpha)
		c := args["C"].(float64)
		assert.True(t, c >= 1e-3*(1-1e-12) && c <= 1e2*(1+1e-12), "C=%g", c)
		assert.Contains(t, []interface{}{"uniform", "distance"}, args["weights"])
	}

	_, err := s.SuggestInt("n", 5, 1)
	assert.Error(t, err)
	_, err = s.SuggestCategorical("w", nil)
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	args := Defaults([]Param{
		Integer{Name: "n", Low: 3, High: 6},
		Float{Name: "alpha", Low: 0, High: 1},
		Float{Name: "C", Low: 1, High: 100, Log: true},
		Categorical{Name: "criterion", Choices: []interface{}{"gini", "entropy"}},
	})
	assert.Equal(t, 3, args["n"])
	assert.InDelta(t, 0.5, args["alpha"], 1e-12)
	assert.InDelta(t, 10, args["C"], 1e-9)
	assert.Equal(t, "gini", args["criterion"])
}

func TestArgReadersAfterJSONRoundTrip(t *testing.T) {
	in := map[string]interface{}{
		"max_depth": 4,
		"C":         0.25,
		"bootstrap": true,
		"weights":   "distance",
		"n_str":     "7",
		"c_str":     "1.5",
		"b_str":     "false",
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	var args map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &args))

	n, err := IntArg(args, "max_depth", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = IntArg(args, "n_str", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	n, err = IntArg(args, "absent", 9)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	_, err = IntArg(args, "C", 0)
	assert.Error(t, err, "0.25 is not an integer")

	c, err := FloatArg(args, "C", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.25, c)
	c, err = FloatArg(args, "c_str", 0)
	require.NoError(t, err)
	assert.Equal(t, 1.5, c)
	_, err = FloatArg(args, "weights", 0)
	assert.Error(t, err)

	b, err := BoolArg(args, "bootstrap", false)
	require.NoError(t, err)
	assert.True(t, b)
	b, err = BoolArg(args, "b_str", true)
	require.NoError(t, err)
	assert.False(t, b)

	w, err := StringArg(args, "weights", "uniform")
	require.NoError(t, err)
	assert.Equal(t, "distance", w)

	cp := Copy(args)
	cp["weights"] = "uniform"
	assert.Equal(t, "distance", args["weights"])
}
