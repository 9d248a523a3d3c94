package model

import (
	"errors"
	"fmt"
)

var (
	// ErrModelLoad wraps every failure that prevents the model from loading.
	ErrModelLoad = errors.New("load model")
	// ErrInference wraps forward-pass failures.
	ErrInference = errors.New("inference failed")
	// ErrShapeMismatch is an ErrInference for tensors that do not match the
	// model input.
	ErrShapeMismatch = fmt.Errorf("%w: tensor shape mismatch", ErrInference)
)

// Metadata describes the exported network. It is stored as JSON next to the
// .onnx file.
type Metadata struct {
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
	ImageSize   int     `json:"image_size"`

	// Classes lists labels by output index. When empty, ClassIndex names a
	// Keras imagenet_class_index.json, relative to the metadata file.
	Classes    []string `json:"classes"`
	ClassIndex string   `json:"class_index"`

	ChannelOrder string    `json:"channel_order"`
	Mean         []float32 `json:"mean"`
	Resample     string    `json:"resample"`
	// ApplySoftmax is set when the graph emits logits instead of probabilities.
	ApplySoftmax bool `json:"apply_softmax"`
}

// Prediction is one ranked label.
type Prediction struct {
	Label       string  `json:"label"`
	Probability float32 `json:"probability"`
}

// PredictionRequest carries an already preprocessed, flattened tensor.
type PredictionRequest struct {
	Image []float32 `json:"image"`
}
