package dataset

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestReadCSV(t *testing.T) {
	data := "age,weight,sex,outcome\n" +
		"61,70.5,male,1\n" +
		"54,,female,0\n" +
		"70,81.2,male,1\n"

	frame, err := ReadCSV(strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"age", "weight", "sex", "outcome"}, frame.Columns)
	assert.Equal(t, 3, frame.Nrow())
	assert.True(t, frame.HasMissing())
	assert.True(t, math.IsNaN(frame.Rows[1][1]))

	sex, err := frame.Column("sex")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 1}, sex)
	assert.Equal(t, []string{"female", "male"}, frame.Categories["sex"])
}

func TestNewFrameChecksShape(t *testing.T) {
	_, err := NewFrame([]string{"a", "b"}, [][]float64{{1, 2}, {3}})
	assert.Error(t, err)

	_, err = NewFrame([]string{"a", "a"}, nil)
	assert.Error(t, err)
}

func TestSelectAndDrop(t *testing.T) {
	frame, err := NewFrame([]string{"a", "b", "c"}, [][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	frame.Categories = map[string][]string{"c": {"x", "y"}}

	sel, err := frame.Select("c", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, sel.Columns)
	assert.Equal(t, [][]float64{{3, 1}, {6, 4}}, sel.Rows)
	assert.Equal(t, []string{"x", "y"}, sel.Categories["c"])

	dropped, err := frame.Drop("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, dropped.Columns)

	_, err = frame.Select("missing")
	assert.Error(t, err)
	_, err = frame.Drop("missing")
	assert.Error(t, err)
}

func TestSplitTarget(t *testing.T) {
	frame, err := NewFrame([]string{"x", "time", "event"}, [][]float64{{1, 10, 1}, {2, 20, 0}})
	require.NoError(t, err)

	X, targets, err := SplitTarget(frame, "time", "event")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, X.Columns)
	assert.Equal(t, [][]float64{{10, 20}, {1, 0}}, targets)

	frame.Rows[1][2] = math.NaN()
	_, _, err = SplitTarget(frame, "event")
	assert.Error(t, err)
}

func TestDenseRoundTrip(t *testing.T) {
	frame, err := NewFrame([]string{"a", "b"}, [][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)

	m := frame.Dense()
	assert.True(t, mat.Equal(mat.NewDense(2, 2, []float64{1, 2, 3, 4}), m))

	back := FromDense(nil, m)
	assert.Equal(t, []string{"0", "1"}, back.Columns)
	assert.Equal(t, frame.Rows, back.Rows)

	clone := frame.Clone()
	clone.Rows[0][0] = 99
	assert.Equal(t, 1.0, frame.Rows[0][0])

	taken := frame.Take([]int{1})
	assert.Equal(t, [][]float64{{3, 4}}, taken.Rows)
}
