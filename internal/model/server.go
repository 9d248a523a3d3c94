package model

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/resnet-api/internal/preprocess"
)

// Options locates the model files and sizes the session pool.
type Options struct {
	ModelPath    string
	MetadataPath string
	// ClassIndexPath overrides the class index named in the metadata.
	ClassIndexPath string
	// LibraryPath points at libonnxruntime when it is not on the loader path.
	LibraryPath    string
	Sessions       int
	IntraOpThreads int
	TopK           int
}

// Server owns the loaded network. It is read-only after NewServer and safe
// for concurrent use.
type Server struct {
	Metadata Metadata
	labels   []string
	topK     int
	sessions []session
	pool     chan session
	ownsEnv  bool
	log      logrus.FieldLogger
}

// NewServer loads the network and its labels. Every error wraps ErrModelLoad.
func NewServer(opts Options, log logrus.FieldLogger) (*Server, error) {
	metadata, err := LoadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	labels, err := resolveLabels(metadata, opts.ClassIndexPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize ONNX environment: %w", ErrModelLoad, err)
	}

	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("%w: failed to create session options: %w", ErrModelLoad, err)
	}
	defer sessionOptions.Destroy()

	if opts.IntraOpThreads > 0 {
		if err := sessionOptions.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			ort.DestroyEnvironment()
			return nil, fmt.Errorf("%w: failed to set intra-op threads: %w", ErrModelLoad, err)
		}
	}

	n := max(opts.Sessions, 1)
	sessions := make([]session, 0, n)
	for i := 0; i < n; i++ {
		s, err := newORTSession(opts.ModelPath, metadata, sessionOptions)
		if err != nil {
			for _, created := range sessions {
				created.Destroy()
			}
			ort.DestroyEnvironment()
			return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
		}
		sessions = append(sessions, s)
	}

	server := newServer(metadata, labels, opts.TopK, sessions, log)
	server.ownsEnv = true
	return server, nil
}

func newServer(metadata Metadata, labels []string, topK int, sessions []session, log logrus.FieldLogger) *Server {
	if topK <= 0 {
		topK = 5
	}
	pool := make(chan session, len(sessions))
	for _, s := range sessions {
		pool <- s
	}
	return &Server{
		Metadata: metadata,
		labels:   labels,
		topK:     topK,
		sessions: sessions,
		pool:     pool,
		log:      log,
	}
}

func resolveLabels(metadata Metadata, override string) ([]string, error) {
	path := metadata.ClassIndex
	if override != "" {
		path = override
	}

	labels := metadata.Classes
	if path != "" {
		loaded, err := LoadClassIndex(path)
		if err != nil {
			return nil, err
		}
		labels = loaded
	}

	if len(labels) == 0 {
		return nil, fmt.Errorf("no class labels in metadata or class index")
	}
	if len(labels) != metadata.NumClasses() {
		return nil, fmt.Errorf("%d labels for %d output classes", len(labels), metadata.NumClasses())
	}
	return labels, nil
}

// Labels returns the class names by output index.
func (s *Server) Labels() []string {
	return s.labels
}

// ImageOptions returns the preprocessing the network expects.
func (s *Server) ImageOptions() preprocess.Options {
	return s.Metadata.ImageOptions()
}

// Classify runs one forward pass over a preprocessed image and returns the
// top-K labels.
func (s *Server) Classify(ctx context.Context, t *preprocess.Tensor) ([]Prediction, error) {
	if len(t.Shape) != len(s.Metadata.InputShape) {
		return nil, fmt.Errorf("%w: got %v, want %v", ErrShapeMismatch, t.Shape, s.Metadata.InputShape)
	}
	for i, d := range t.Shape {
		if d != s.Metadata.InputShape[i] {
			return nil, fmt.Errorf("%w: got %v, want %v", ErrShapeMismatch, t.Shape, s.Metadata.InputShape)
		}
	}
	return s.ClassifyRaw(ctx, t.Data)
}

// ClassifyRaw classifies a flattened NHWC tensor.
func (s *Server) ClassifyRaw(ctx context.Context, data []float32) ([]Prediction, error) {
	if want := s.Metadata.InputLen(); len(data) != want {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrShapeMismatch, want, len(data))
	}

	var sess session
	select {
	case sess = <-s.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { s.pool <- sess }()

	copy(sess.Input(), data)
	if err := sess.Run(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	return TopK(sess.Output(), s.labels, s.topK, s.Metadata.ApplySoftmax), nil
}

// Close releases the sessions and the ONNX environment.
func (s *Server) Close() {
	for _, sess := range s.sessions {
		if err := sess.Destroy(); err != nil {
			s.log.WithError(err).Warn("failed to destroy session")
		}
	}
	s.sessions = nil
	if s.ownsEnv {
		if err := ort.DestroyEnvironment(); err != nil {
			s.log.WithError(err).Warn("failed to destroy ONNX environment")
		}
	}
}
