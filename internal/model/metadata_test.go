package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nfnt/resize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/resnet-api/internal/preprocess"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMetadata_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "model_metadata.json", `{"class_index": "imagenet_class_index.json"}`)

	metadata, err := LoadMetadata(path)
	require.NoError(t, err)

	assert.Equal(t, "input", metadata.InputName)
	assert.Equal(t, "output", metadata.OutputName)
	assert.Equal(t, []int64{1, 224, 224, 3}, metadata.InputShape)
	assert.Equal(t, []int64{1, 1000}, metadata.OutputShape)
	assert.Equal(t, 1000, metadata.NumClasses())
	assert.Equal(t, 224*224*3, metadata.InputLen())
	assert.Equal(t, filepath.Join(dir, "imagenet_class_index.json"), metadata.ClassIndex)

	opts := metadata.ImageOptions()
	assert.Equal(t, preprocess.DefaultOptions(), opts)
}

func TestLoadMetadata_Custom(t *testing.T) {
	path := writeFile(t, t.TempDir(), "meta.json", `{
		"input_name": "input_1",
		"output_name": "predictions",
		"image_size": 32,
		"output_shape": [1, 3],
		"classes": ["a", "b", "c"],
		"channel_order": "RGB",
		"mean": [1, 2, 3],
		"resample": "nearest",
		"apply_softmax": true
	}`)

	metadata, err := LoadMetadata(path)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 32, 32, 3}, metadata.InputShape)
	assert.True(t, metadata.ApplySoftmax)

	opts := metadata.ImageOptions()
	assert.Equal(t, 32, opts.Size)
	assert.Equal(t, preprocess.ChannelsRGB, opts.ChannelOrder)
	assert.Equal(t, [3]float32{1, 2, 3}, opts.Mean)
	assert.Equal(t, resize.NearestNeighbor, opts.Filter)
}

func TestLoadMetadata_Invalid(t *testing.T) {
	cases := map[string]string{
		"nchw":          `{"input_shape": [1, 3, 224, 224]}`,
		"output shape":  `{"output_shape": [1000]}`,
		"mean":          `{"mean": [1, 2]}`,
		"channel order": `{"channel_order": "YUV"}`,
		"resample":      `{"resample": "box"}`,
		"json":          `{`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "meta.json", content)
			_, err := LoadMetadata(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadMetadata(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadClassIndex(t *testing.T) {
	path := writeFile(t, t.TempDir(), "index.json", `{
		"1": ["n01443537", "goldfish"],
		"0": ["n01440764", "tench"],
		"2": ["n01484850", "great_white_shark"]
	}`)

	labels, err := LoadClassIndex(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"tench", "goldfish", "great_white_shark"}, labels)
}

func TestLoadClassIndex_BadKey(t *testing.T) {
	path := writeFile(t, t.TempDir(), "index.json", `{"0": ["n1", "a"], "7": ["n2", "b"]}`)

	_, err := LoadClassIndex(path)
	assert.Error(t, err)
}

func TestLoadClassIndex_MissingFileNamesSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imagenet_class_index.json")

	_, err := LoadClassIndex(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), path)
	assert.Contains(t, err.Error(), ClassIndexURL)
}

func TestLoadClassIndex_DuplicateIndex(t *testing.T) {
	// "00" and "0" parse to the same index and leave index 1 unset
	path := writeFile(t, t.TempDir(), "index.json", `{"0": ["n1", "a"], "00": ["n2", "b"]}`)

	_, err := LoadClassIndex(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listed twice")
}

func TestResolveLabels(t *testing.T) {
	dir := t.TempDir()
	index := writeFile(t, dir, "index.json", `{"0": ["n1", "x"], "1": ["n2", "y"]}`)

	metadata := Metadata{OutputShape: []int64{1, 2}, Classes: []string{"a", "b"}}

	labels, err := resolveLabels(metadata, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, labels)

	labels, err = resolveLabels(metadata, index)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, labels)

	_, err = resolveLabels(Metadata{OutputShape: []int64{1, 3}, Classes: []string{"a"}}, "")
	assert.Error(t, err)

	_, err = resolveLabels(Metadata{OutputShape: []int64{1, 3}}, "")
	assert.Error(t, err)
}
