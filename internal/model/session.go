package model

import (
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// session is one forward-pass slot with its own bound tensors. A session is
// never run by two goroutines at once.
type session interface {
	Input() []float32
	Output() []float32
	Run() error
	Destroy() error
}

type ortSession struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func newORTSession(modelPath string, metadata Metadata, options *ort.SessionOptions) (*ortSession, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	advanced, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor},
		options)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ortSession{
		session:      advanced,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (s *ortSession) Input() []float32  { return s.inputTensor.GetData() }
func (s *ortSession) Output() []float32 { return s.outputTensor.GetData() }
func (s *ortSession) Run() error        { return s.session.Run() }

func (s *ortSession) Destroy() error {
	return errors.Join(
		s.session.Destroy(),
		s.inputTensor.Destroy(),
		s.outputTensor.Destroy(),
	)
}
