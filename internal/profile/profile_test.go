package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/dejpeg/internal/inference"
)

func image4(name string, c int64) inference.TensorSpec {
	return inference.TensorSpec{Name: name, ElementType: inference.Float32, Shape: []int64{1, c, -1, -1}}
}

func scalar(name string, shape ...int64) inference.TensorSpec {
	return inference.TensorSpec{Name: name, ElementType: inference.Float32, Shape: shape}
}

func inputsOf(specs ...inference.TensorSpec) map[string]inference.TensorSpec {
	m := make(map[string]inference.TensorSpec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return m
}

var rgbOut = []inference.TensorSpec{image4("output", 3)}

func TestDeriveFBCNNColor(t *testing.T) {
	p, err := Derive("models/fbcnn_color.onnx",
		inputsOf(image4("input", 3), scalar("qf", 1, 1)), rgbOut, Overrides{})
	require.NoError(t, err)

	assert.Equal(t, FBCNN, p.Family)
	assert.Equal(t, "fbcnn_color.onnx", p.Name)
	assert.Equal(t, "input", p.PrimaryInput)
	assert.Equal(t, "qf", p.StrengthInput)
	assert.True(t, p.HasStrength())
	assert.True(t, p.Color())
	assert.Equal(t, 3, p.OutputChannels)
	assert.Equal(t, DefaultTileMax, p.TileMax)
	assert.Equal(t, DefaultOverlap, p.Overlap)
	assert.False(t, p.Static())
}

func TestDeriveSCUNetDefaults(t *testing.T) {
	p, err := Derive("scunet_color_real_gan.onnx", inputsOf(image4("input", 3)), rgbOut, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, SCUNet, p.Family)
	assert.Equal(t, SCUNetTileMax, p.TileMax)
	assert.Equal(t, SCUNetOverlap, p.Overlap)
	assert.False(t, p.HasStrength())
}

func TestDeriveOverrides(t *testing.T) {
	p, err := Derive("scunet_gray.onnx", inputsOf(image4("input", 1)),
		[]inference.TensorSpec{image4("output", 1)}, Overrides{TileMax: 512, Overlap: 16})
	require.NoError(t, err)
	assert.Equal(t, 512, p.TileMax)
	assert.Equal(t, SCUNetOverlap, p.Overlap, "scunet overlap has a floor")

	p, err = Derive("fbcnn_color.onnx", inputsOf(image4("input", 3)), rgbOut, Overrides{TileMax: 8, Overlap: 64})
	require.NoError(t, err)
	assert.Equal(t, MinTileMax, p.TileMax)
	assert.Less(t, p.Overlap, p.TileMax)
}

func TestDeriveDynamicChannels(t *testing.T) {
	dyn := inputsOf(image4("x", -1))
	out := []inference.TensorSpec{image4("y", -1)}

	tests := []struct {
		name     string
		override int
		want     int
	}{
		{"fbcnn_color.onnx", 0, 3},
		{"fbcnn_gray.onnx", 0, 1},
		{"Restorer_GRAY.onnx", 0, 1},
		{"unknown.onnx", 0, 3},
		{"unknown.onnx", 1, 1},
	}
	for _, tt := range tests {
		p, err := Derive(tt.name, dyn, out, Overrides{Channels: tt.override})
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, p.Channels, tt.name)
		assert.Equal(t, tt.want, p.OutputChannels, tt.name)
	}
}

func TestDeriveStrengthDetection(t *testing.T) {
	p, err := Derive("m.onnx", inputsOf(image4("input", 3), scalar("qf", -1, 1)), rgbOut, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "qf", p.StrengthInput, "dynamic axes resolve to 1")

	p, err = Derive("m.onnx", inputsOf(image4("input", 3), scalar("a", 1, 1), scalar("b", 1, 1)), rgbOut, Overrides{})
	require.NoError(t, err)
	assert.Empty(t, p.StrengthInput, "ambiguous scalars are ignored")

	p, err = Derive("m.onnx", inputsOf(image4("input", 3), scalar("v", 1, 4)), rgbOut, Overrides{})
	require.NoError(t, err)
	assert.Empty(t, p.StrengthInput)

	half := inference.TensorSpec{Name: "h", ElementType: inference.Float16, Shape: []int64{1, 1}}
	p, err = Derive("m.onnx", inputsOf(image4("input", 3), half), rgbOut, Overrides{})
	require.NoError(t, err)
	assert.Empty(t, p.StrengthInput)
}

func TestDeriveStaticExtents(t *testing.T) {
	in := inference.TensorSpec{Name: "input", ElementType: inference.Float32, Shape: []int64{1, 3, 256, 512}}
	p, err := Derive("fixed.onnx", inputsOf(in), rgbOut, Overrides{})
	require.NoError(t, err)
	assert.True(t, p.Static())
	assert.Equal(t, 256, p.StaticHeight)
	assert.Equal(t, 512, p.StaticWidth)
	assert.Equal(t, 256, p.TileMax)
}

func TestDeriveErrors(t *testing.T) {
	tests := []struct {
		name    string
		inputs  map[string]inference.TensorSpec
		outputs []inference.TensorSpec
		kind    ErrorKind
	}{
		{"no inputs", inputsOf(), rgbOut, NoImageInput},
		{"two images", inputsOf(image4("a", 3), image4("b", 3)), rgbOut, NoImageInput},
		{"half precision", inputsOf(inference.TensorSpec{Name: "a", ElementType: inference.Float16, Shape: []int64{1, 3, -1, -1}}), rgbOut, NoImageInput},
		{"four channels", inputsOf(image4("a", 4)), rgbOut, UnsupportedChannels},
		{"no output", inputsOf(image4("a", 3)), []inference.TensorSpec{scalar("s", 1, 1)}, NoImageOutput},
		{"output channels", inputsOf(image4("a", 3)), []inference.TensorSpec{image4("o", 2)}, UnsupportedChannels},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Derive("m.onnx", tt.inputs, tt.outputs, Overrides{})
			var pe *Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.kind, pe.Kind)
		})
	}
}

func TestPrimaryOutputSkipsAuxiliary(t *testing.T) {
	outs := []inference.TensorSpec{scalar("qf_est", 1, 1), image4("restored", 3)}
	p, err := Derive("fbcnn_color.onnx", inputsOf(image4("input", 3)), outs, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, 1, p.PrimaryOutput)
}

func TestDeriveUsesDescriptorKeys(t *testing.T) {
	inputs := map[string]inference.TensorSpec{
		"pixel_values": image4("x", 3),
		"quality":      scalar("q", 1, 1),
	}
	p, err := Derive("m.onnx", inputs, rgbOut, Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "pixel_values", p.PrimaryInput)
	assert.Equal(t, "quality", p.StrengthInput)
}
