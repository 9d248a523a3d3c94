package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/resnet-api/internal/config"
	"github.com/Brownie44l1/resnet-api/internal/handlers"
	"github.com/Brownie44l1/resnet-api/internal/logging"
	"github.com/Brownie44l1/resnet-api/internal/metrics"
	"github.com/Brownie44l1/resnet-api/internal/model"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logrus.Fatalf("Server failed: %v", err)
	}
}

// run blocks until a shutdown signal arrives or the listener fails. Either
// way the model server is closed before it returns.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	root, err := projectRoot()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	modelPath := resolve(root, cfg.Model.Path)
	log.Infof("Loading model from: %s", modelPath)

	modelServer, err := model.NewServer(model.Options{
		ModelPath:      modelPath,
		MetadataPath:   resolve(root, cfg.Model.MetadataPath),
		ClassIndexPath: resolve(root, cfg.Model.ClassIndexPath),
		LibraryPath:    cfg.Model.LibraryPath,
		Sessions:       cfg.Model.Sessions,
		IntraOpThreads: cfg.Model.IntraOpThreads,
		TopK:           cfg.Predict.TopK,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize model server: %w", err)
	}
	defer modelServer.Close()

	if log.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.New()
	handler := handlers.NewHandler(modelServer, m, log, cfg.Upload.MaxBytes)
	router := handlers.NewRouter(handler, m, log)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	log.WithFields(logrus.Fields{
		"addr":     srv.Addr,
		"classes":  len(modelServer.Labels()),
		"sessions": cfg.Model.Sessions,
	}).Info("Server starting")
	log.Info("Endpoints:")
	log.Info("  GET  /               - Upload form")
	log.Info("  POST /               - Predict from upload (field 'file')")
	log.Info("  POST /predict        - Predict from upload (field 'image')")
	log.Info("  POST /predict/tensor - Raw array prediction")
	log.Info("  GET  /health         - Health check")
	log.Info("  GET  /metrics        - Prometheus metrics")
	log.Infof("Upload test: curl -X POST -F \"image=@cat.jpg\" http://localhost%s/predict", srv.Addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	return serve(srv, quit, cfg.Server.ShutdownTimeout, log)
}

// serve runs srv until quit fires or the listener fails. A listener error is
// returned instead of exiting so callers' deferred cleanup still runs.
func serve(srv *http.Server, quit <-chan os.Signal, timeout time.Duration, log logrus.FieldLogger) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	case <-quit:
	}
	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Server shutdown")
	}
	return nil
}

// projectRoot is the working directory, or the repository root when started
// from cmd/server.
func projectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if filepath.Base(wd) == "server" {
		wd = filepath.Join(wd, "../..")
	}
	return wd, nil
}

func resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
