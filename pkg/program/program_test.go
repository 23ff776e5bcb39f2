package program

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProgram() *Program {
	return &Program{
		Ops: []*OpDesc{
			{Type: OpFeed, Outputs: map[string][]string{"Out": {"x"}}, Attrs: map[string]any{"col": 0}},
			{Type: "mul", Inputs: map[string][]string{"X": {"x"}, "Y": {"w"}}, Outputs: map[string][]string{"Out": {"y"}}},
			{Type: OpFetch, Inputs: map[string][]string{"X": {"y"}}, Attrs: map[string]any{"col": 0}},
		},
		Params: []*Param{
			{Name: "w", Type: FP32, Dims: []int64{2, 2}, FP32: []float32{1, 0, 0, 1}},
		},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, testProgram().Validate())

	noType := testProgram()
	noType.Ops[1].Type = ""
	assert.Error(t, noType.Validate())

	badParam := testProgram()
	badParam.Params[0].FP32 = []float32{1}
	assert.Error(t, badParam.Validate(), "value/dims mismatch must be rejected")

	dupParam := testProgram()
	dupParam.Params = append(dupParam.Params, dupParam.Params[0])
	assert.Error(t, dupParam.Validate())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "model.json")

	require.NoError(t, Save(ctx, testProgram(), path))

	loaded, err := Load(ctx, path)
	require.NoError(t, err)

	require.Len(t, loaded.Ops, 3)
	assert.Equal(t, OpFeed, loaded.Ops[0].Type)
	assert.Equal(t, []string{"x"}, loaded.Ops[0].Outputs["Out"])

	col, ok := loaded.Ops[0].IntAttr("col")
	require.True(t, ok, "col attribute must survive the round trip")
	assert.Equal(t, 0, col)

	require.Len(t, loaded.Params, 1)
	assert.Equal(t, []float32{1, 0, 0, 1}, loaded.Params[0].FP32)
	assert.Equal(t, []int64{2, 2}, loaded.Params[0].Dims)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "no-such-model.json"))
	assert.Error(t, err)
}

func TestOpDescSlots(t *testing.T) {
	op := testProgram().Ops[1]

	name, err := op.Input("X")
	require.NoError(t, err)
	assert.Equal(t, "x", name)

	_, err = op.Input("Z")
	assert.Error(t, err, "unbound slot must be an error")

	name, err = op.Output("Out")
	require.NoError(t, err)
	assert.Equal(t, "y", name)
}

func TestPlaceCheck(t *testing.T) {
	assert.NoError(t, CPUPlace().Check())
	assert.Error(t, GPUPlace(0).Check())
	assert.Equal(t, "gpu:1", GPUPlace(1).String())
}
