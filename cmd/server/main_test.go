package main

import (
	"net"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	assert.Equal(t, "", resolve("/srv", ""))
	assert.Equal(t, "/opt/model.onnx", resolve("/srv", "/opt/model.onnx"))
	assert.Equal(t, filepath.Join("/srv", "models", "resnet50.onnx"), resolve("/srv", "models/resnet50.onnx"))
}

func TestServe_ListenErrorIsReturned(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	log, _ := test.NewNullLogger()
	srv := &http.Server{Addr: taken.Addr().String(), Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- serve(srv, make(chan os.Signal), time.Second, log) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), taken.Addr().String())
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after the listener failed")
	}
}

func TestServe_ShutsDownOnSignal(t *testing.T) {
	log, hook := test.NewNullLogger()
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	quit := make(chan os.Signal, 1)
	quit <- syscall.SIGTERM

	require.NoError(t, serve(srv, quit, time.Second, log))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Shutting down server", hook.LastEntry().Message)
}
