package tensorcl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/tensorcl/pkg/graph"
)

func newTestReducer(t *testing.T) (*Reducer, *Factory) {
	t.Helper()
	s := newTestSession(t)
	f := NewFactory(s)
	return NewReducer(s, f), f
}

func TestNormalizeAxis(t *testing.T) {
	cases := []struct{ x, rank, want int }{
		{0, 3, 0},
		{2, 3, 2},
		{-1, 3, 2},
		{-3, 3, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, normalizeAxis(c.x, c.rank), "normalizeAxis(%d, %d)", c.x, c.rank)
	}
}

func TestReduceSumAllAxes(t *testing.T) {
	r, f := newTestReducer(t)
	input, err := f.Convert("x", graph.Float32, graph.Shape{2, 2}, []float32{1, 2, 3, 4}, nil)
	require.NoError(t, err)
	result, err := r.Reduce("sum_x", "sum", input, []int{0, 1}, false)
	require.NoError(t, err)
	assert.Equal(t, float64(10), result.ElementAsFloat64(0))
}

func TestReduceSumSingleAxisKeepdims(t *testing.T) {
	r, f := newTestReducer(t)
	input, err := f.Convert("x", graph.Float32, graph.Shape{2, 2}, []float32{1, 2, 3, 4}, nil)
	require.NoError(t, err)
	// reduce axis 1 (columns): rows [1,2] -> 3, [3,4] -> 7
	result, err := r.Reduce("sum_axis1", "sum", input, []int{1}, true)
	require.NoError(t, err)
	assert.True(t, result.Shape.Equal(graph.Shape{2, 1}), "keepdims shape = %v, want [2 1]", result.Shape)
	assert.Equal(t, float64(3), result.ElementAsFloat64(0))
	assert.Equal(t, float64(7), result.ElementAsFloat64(1))
}

func TestReduceProd(t *testing.T) {
	r, f := newTestReducer(t)
	input, err := f.Convert("x", graph.Float32, graph.Shape{3}, []float32{2, 3, 4}, nil)
	require.NoError(t, err)
	result, err := r.Reduce("prod_x", "prod", input, []int{0}, false)
	require.NoError(t, err)
	assert.Equal(t, float64(24), result.ElementAsFloat64(0))
}

func TestBroadcastGradientArgsIdenticalShapes(t *testing.T) {
	axesA, axesB := BroadcastGradientArgs(graph.Shape{2, 3}, graph.Shape{2, 3})
	assert.Empty(t, axesA)
	assert.Empty(t, axesB)
}

func TestBroadcastGradientArgsAsymmetric(t *testing.T) {
	axesA, axesB := BroadcastGradientArgs(graph.Shape{3, 1}, graph.Shape{1, 4})
	assert.Equal(t, []int{0}, axesA)
	assert.Equal(t, []int{1}, axesB)
}
