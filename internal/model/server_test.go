package model

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/resnet-api/internal/preprocess"
)

// fakeSession scores class i as input[i] so results depend on the input.
type fakeSession struct {
	input     []float32
	output    []float32
	runErr    error
	running   atomic.Int32
	overlap   atomic.Bool
	destroyed bool
}

func newFakeSession(inputLen, classes int) *fakeSession {
	return &fakeSession{
		input:  make([]float32, inputLen),
		output: make([]float32, classes),
	}
}

func (f *fakeSession) Input() []float32  { return f.input }
func (f *fakeSession) Output() []float32 { return f.output }

func (f *fakeSession) Run() error {
	if f.running.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.running.Add(-1)
	time.Sleep(time.Millisecond)

	if f.runErr != nil {
		return f.runErr
	}
	copy(f.output, f.input)
	return nil
}

func (f *fakeSession) Destroy() error {
	f.destroyed = true
	return nil
}

func testMetadata() Metadata {
	m := Metadata{ImageSize: 2, OutputShape: []int64{1, 6}}
	m.applyDefaults()
	return m
}

func newTestServer(sessions ...session) *Server {
	logger, _ := test.NewNullLogger()
	labels := []string{"zero", "one", "two", "three", "four", "five"}
	return newServer(testMetadata(), labels, 3, sessions, logger)
}

func tensorWith(values ...float32) *preprocess.Tensor {
	data := make([]float32, 2*2*3)
	copy(data, values)
	return &preprocess.Tensor{Shape: []int64{1, 2, 2, 3}, Data: data}
}

func TestServer_Classify(t *testing.T) {
	s := newTestServer(newFakeSession(12, 6))

	got, err := s.Classify(context.Background(), tensorWith(0.1, 0.5, 0, 0.3, 0.05, 0.05))
	require.NoError(t, err)

	assert.Equal(t, []Prediction{
		{Label: "one", Probability: 0.5},
		{Label: "three", Probability: 0.3},
		{Label: "zero", Probability: 0.1},
	}, got)
}

func TestServer_ClassifyDeterministic(t *testing.T) {
	s := newTestServer(newFakeSession(12, 6))
	in := tensorWith(0.2, 0.2, 0.1, 0.3, 0.1, 0.1)

	first, err := s.Classify(context.Background(), in)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Classify(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestServer_ShapeMismatch(t *testing.T) {
	s := newTestServer(newFakeSession(12, 6))

	_, err := s.Classify(context.Background(), &preprocess.Tensor{Shape: []int64{1, 3, 2, 2}, Data: make([]float32, 12)})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.ErrorIs(t, err, ErrInference)

	_, err = s.ClassifyRaw(context.Background(), make([]float32, 5))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestServer_RunError(t *testing.T) {
	sess := newFakeSession(12, 6)
	sess.runErr = errors.New("boom")
	s := newTestServer(sess)

	_, err := s.Classify(context.Background(), tensorWith())
	assert.ErrorIs(t, err, ErrInference)
	assert.NotErrorIs(t, err, ErrShapeMismatch)

	// the session goes back to the pool after a failure
	sess.runErr = nil
	_, err = s.Classify(context.Background(), tensorWith())
	assert.NoError(t, err)
}

func TestServer_SessionsNeverOverlap(t *testing.T) {
	a, b := newFakeSession(12, 6), newFakeSession(12, 6)
	s := newTestServer(a, b)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Classify(context.Background(), tensorWith(1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, a.overlap.Load())
	assert.False(t, b.overlap.Load())
}

func TestServer_WaitHonoursContext(t *testing.T) {
	s := newTestServer(newFakeSession(12, 6))
	held := <-s.pool
	defer func() { s.pool <- held }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Classify(ctx, tensorWith())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServer_Close(t *testing.T) {
	sess := newFakeSession(12, 6)
	s := newTestServer(sess)

	s.Close()
	assert.True(t, sess.destroyed)
}

func TestServer_DefaultTopK(t *testing.T) {
	s := newServer(testMetadata(), nil, 0, []session{newFakeSession(12, 6)}, logrus.New())
	got, err := s.Classify(context.Background(), tensorWith(6, 5, 4, 3, 2, 1))
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestNewServer_MetadataErrorIsModelLoad(t *testing.T) {
	_, err := NewServer(Options{MetadataPath: "does/not/exist.json"}, logrus.New())
	assert.ErrorIs(t, err, ErrModelLoad)
}
