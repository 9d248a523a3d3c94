package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/Brownie44l1/resnet-api/internal/preprocess"
)

const defaultImageSize = 224

// ClassIndexURL is where the Keras ImageNet class index is published.
const ClassIndexURL = "https://storage.googleapis.com/download.tensorflow.org/data/imagenet_class_index.json"

// LoadMetadata reads the metadata file and fills in defaults for a Keras
// ResNet50 export.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	metadata.applyDefaults()
	if metadata.ClassIndex != "" && !filepath.IsAbs(metadata.ClassIndex) {
		metadata.ClassIndex = filepath.Join(filepath.Dir(path), metadata.ClassIndex)
	}

	if err := metadata.validate(); err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

func (m *Metadata) applyDefaults() {
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if m.ImageSize == 0 {
		m.ImageSize = defaultImageSize
	}
	if len(m.InputShape) == 0 {
		s := int64(m.ImageSize)
		m.InputShape = []int64{1, s, s, 3}
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = []int64{1, 1000}
	}
	if m.ChannelOrder == "" {
		m.ChannelOrder = preprocess.ChannelsBGR
	}
	if len(m.Mean) == 0 {
		m.Mean = append([]float32(nil), preprocess.CaffeMean[:]...)
	}
	if m.Resample == "" {
		m.Resample = "bicubic"
	}
}

func (m *Metadata) validate() error {
	s := int64(m.ImageSize)
	if want := []int64{1, s, s, 3}; !slices.Equal(m.InputShape, want) {
		return fmt.Errorf("input shape %v does not match NHWC %v", m.InputShape, want)
	}
	if len(m.OutputShape) != 2 || m.OutputShape[0] != 1 || m.OutputShape[1] <= 0 {
		return fmt.Errorf("output shape %v is not [1, classes]", m.OutputShape)
	}
	if len(m.Mean) != 3 {
		return fmt.Errorf("mean needs 3 values, got %d", len(m.Mean))
	}
	if m.ChannelOrder != preprocess.ChannelsRGB && m.ChannelOrder != preprocess.ChannelsBGR {
		return fmt.Errorf("unknown channel order %q", m.ChannelOrder)
	}
	if _, err := preprocess.ParseFilter(m.Resample); err != nil {
		return err
	}
	return nil
}

// NumClasses is the width of the output layer.
func (m Metadata) NumClasses() int {
	return int(m.OutputShape[len(m.OutputShape)-1])
}

// InputLen is the number of float32 values in one input tensor.
func (m Metadata) InputLen() int {
	n := 1
	for _, d := range m.InputShape {
		n *= int(d)
	}
	return n
}

// ImageOptions returns the preprocessing the network was trained with.
// Metadata is validated on load, so the filter always parses.
func (m Metadata) ImageOptions() preprocess.Options {
	filter, _ := preprocess.ParseFilter(m.Resample)
	opts := preprocess.Options{
		Size:         m.ImageSize,
		ChannelOrder: m.ChannelOrder,
		Filter:       filter,
	}
	copy(opts.Mean[:], m.Mean)
	return opts
}

// LoadClassIndex parses a Keras class index file of the form
// {"0": ["n01440764", "tench"], ...} into labels ordered by index.
func LoadClassIndex(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("class index %s not found, download it from %s: %w", path, ClassIndexURL, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read class index: %w", err)
	}

	var index map[string][2]string
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("failed to parse class index: %w", err)
	}

	labels := make([]string, len(index))
	seen := make([]bool, len(index))
	for key, entry := range index {
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(index) {
			return nil, fmt.Errorf("class index key %q out of range", key)
		}
		if seen[i] {
			return nil, fmt.Errorf("class index %d listed twice (key %q)", i, key)
		}
		seen[i] = true
		labels[i] = entry[1]
	}
	return labels, nil
}
