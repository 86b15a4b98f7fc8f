package inference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntraOpThreads(t *testing.T) {
	cases := map[int]int{0: 1, 1: 1, 2: 1, 3: 3, 4: 3, 6: 5, 8: 6, 10: 8, 16: 12}
	for cpus, want := range cases {
		assert.Equal(t, want, IntraOpThreads(cpus), "cpus=%d", cpus)
	}
}

func TestPolicyFor(t *testing.T) {
	tests := []struct {
		name string
		want OptLevel
	}{
		{"fbcnn_color.onnx", OptExtended},
		{"models/fbcnn_gray_double.onnx", OptExtended},
		{"scunet_color_real_psnr.onnx", OptNone},
		{"SCUNet_gray.onnx", OptNone},
		{"fbcnn_color.ort", OptNone},
		{"mystery.onnx", OptExtended},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PolicyFor(tt.name, 8)
			assert.Equal(t, tt.want, p.Optimization)
			assert.Equal(t, 6, p.IntraOpThreads)
			assert.Equal(t, 4, p.InterOpThreads)
		})
	}
}

func TestParseOptLevel(t *testing.T) {
	for _, l := range []OptLevel{OptNone, OptBasic, OptExtended, OptAll} {
		got, err := ParseOptLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := ParseOptLevel("turbo")
	assert.Error(t, err)
}

func TestTensorSpec(t *testing.T) {
	s := TensorSpec{Name: "input", ElementType: Float32, Shape: []int64{1, 3, -1, -1}}
	assert.Equal(t, 4, s.Rank())
	assert.Equal(t, int64(3), s.Extent(1))
	assert.Equal(t, int64(Dynamic), s.Extent(2))
	assert.Equal(t, int64(Dynamic), s.Extent(9))
	assert.Equal(t, "input float32[1,3,?,?]", s.String())
}

func TestValidateBindings(t *testing.T) {
	inputs := map[string]TensorSpec{
		"input": {Name: "input", ElementType: Float32, Shape: []int64{1, 3, -1, -1}},
		"qf":    {Name: "qf", ElementType: Float32, Shape: []int64{1, 1}},
	}
	img := Binding{Name: "input", Shape: []int64{1, 3, 2, 2}, Data: make([]float32, 12)}
	qf := Binding{Name: "qf", Shape: []int64{1, 1}, Data: []float32{0.5}}

	require.NoError(t, ValidateBindings(inputs, []Binding{img, qf}))

	bad := []struct {
		name     string
		bindings []Binding
	}{
		{"missing", []Binding{img}},
		{"unknown", []Binding{img, qf, {Name: "x", Shape: []int64{1}, Data: []float32{0}}}},
		{"duplicate", []Binding{img, qf, qf}},
		{"rank", []Binding{{Name: "input", Shape: []int64{3, 2, 2}, Data: make([]float32, 12)}, qf}},
		{"static extent", []Binding{{Name: "input", Shape: []int64{1, 1, 2, 2}, Data: make([]float32, 4)}, qf}},
		{"length", []Binding{{Name: "input", Shape: []int64{1, 3, 2, 2}, Data: make([]float32, 11)}, qf}},
		{"zero extent", []Binding{{Name: "input", Shape: []int64{1, 3, 0, 2}}, qf}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBindings(inputs, tt.bindings)
			var re *RunError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, InputShapeMismatch, re.Kind)
		})
	}
}

func TestRunErrorMatching(t *testing.T) {
	err := fmt.Errorf("tile 3: %w", &RunError{Kind: InferenceAborted, Err: errors.New("terminated")})
	assert.ErrorIs(t, err, ErrAborted)
	assert.NotErrorIs(t, err, &RunError{Kind: BackendError})
	assert.Contains(t, err.Error(), "inference aborted: terminated")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.onnx"), PolicyFor("absent.onnx", 4))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, FileMissing, le.Kind)
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "fbcnn_color.onnx")
	require.NoError(t, os.WriteFile(path, []byte("not a model"), 0o644))
	_, err = Load(path, PolicyFor(path, 4))
	require.ErrorAs(t, err, &le)
	assert.Equal(t, IncompatibleRuntime, le.Kind, "runtime is never initialized in tests")
}

func TestDefaultLibraryPathHonoursEnv(t *testing.T) {
	t.Setenv(LibraryEnv, "/opt/ort/libonnxruntime.so.1")
	assert.Equal(t, "/opt/ort/libonnxruntime.so.1", DefaultLibraryPath())
}
