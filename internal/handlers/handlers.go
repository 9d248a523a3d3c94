package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/resnet-api/internal/metrics"
	"github.com/Brownie44l1/resnet-api/internal/model"
	"github.com/Brownie44l1/resnet-api/internal/preprocess"
)

// Classifier is the part of model.Server the handlers depend on.
type Classifier interface {
	Classify(ctx context.Context, t *preprocess.Tensor) ([]model.Prediction, error)
	ClassifyRaw(ctx context.Context, data []float32) ([]model.Prediction, error)
	ImageOptions() preprocess.Options
}

// PredictResponse is the body of every classification route. A missing
// upload yields exactly {"success": false}.
type PredictResponse struct {
	Success     bool               `json:"success"`
	Predictions []model.Prediction `json:"predictions,omitempty"`
	Error       string             `json:"error,omitempty"`
}

type Handler struct {
	classifier Classifier
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
	maxUpload  int64
}

func NewHandler(classifier Classifier, m *metrics.Metrics, log logrus.FieldLogger, maxUpload int64) *Handler {
	return &Handler{
		classifier: classifier,
		metrics:    m,
		log:        log,
		maxUpload:  maxUpload,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Home serves the upload form on GET and classifies the "file" field on POST.
func (h *Handler) Home(c *gin.Context) {
	if c.Request.Method == http.MethodGet {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(uploadForm))
		return
	}
	h.classifyUpload(c, "file")
}

// Predict classifies the "image" field.
func (h *Handler) Predict(c *gin.Context) {
	h.classifyUpload(c, "image")
}

func (h *Handler) classifyUpload(c *gin.Context, field string) {
	log := h.requestLogger(c)

	if c.Request.Method != http.MethodPost {
		h.metrics.CountPrediction(metrics.OutcomeMissingInput)
		c.JSON(http.StatusOK, PredictResponse{})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	header, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, PredictResponse{Error: "upload exceeds size limit"})
			return
		}
		log.WithError(err).Debugf("no %q file in request", field)
		h.metrics.CountPrediction(metrics.OutcomeMissingInput)
		c.JSON(http.StatusOK, PredictResponse{})
		return
	}

	log.Infof("Received file: %s, size: %d bytes", header.Filename, header.Size)

	file, err := header.Open()
	if err != nil {
		h.fail(c, log, metrics.OutcomeDecodeError, err)
		return
	}
	defer file.Close()

	img, format, err := preprocess.Decode(file)
	if err != nil {
		h.fail(c, log, metrics.OutcomeDecodeError, err)
		return
	}
	log.Debugf("Image format: %s, dimensions: %dx%d", format, img.Bounds().Dx(), img.Bounds().Dy())

	tensor, err := preprocess.Image(img, h.classifier.ImageOptions())
	if err != nil {
		h.fail(c, log, metrics.OutcomeInferenceErr, err)
		return
	}

	start := time.Now()
	predictions, err := h.classifier.Classify(c.Request.Context(), tensor)
	h.metrics.ObserveInference(time.Since(start))
	if err != nil {
		h.fail(c, log, metrics.OutcomeInferenceErr, err)
		return
	}

	h.metrics.CountPrediction(metrics.OutcomeSuccess)
	c.JSON(http.StatusOK, PredictResponse{Success: true, Predictions: predictions})
}

// PredictTensor classifies an already preprocessed, flattened tensor.
func (h *Handler) PredictTensor(c *gin.Context) {
	log := h.requestLogger(c)

	var req model.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, PredictResponse{Error: "invalid JSON"})
		return
	}

	start := time.Now()
	predictions, err := h.classifier.ClassifyRaw(c.Request.Context(), req.Image)
	h.metrics.ObserveInference(time.Since(start))
	if errors.Is(err, model.ErrShapeMismatch) {
		c.JSON(http.StatusBadRequest, PredictResponse{Error: err.Error()})
		return
	}
	if err != nil {
		h.fail(c, log, metrics.OutcomeInferenceErr, err)
		return
	}

	h.metrics.CountPrediction(metrics.OutcomeSuccess)
	c.JSON(http.StatusOK, PredictResponse{Success: true, Predictions: predictions})
}

// fail reports decode and inference errors as server faults.
func (h *Handler) fail(c *gin.Context, log logrus.FieldLogger, outcome string, err error) {
	log.WithError(err).Error("classification failed")
	h.metrics.CountPrediction(outcome)

	msg := "prediction failed"
	if errors.Is(err, preprocess.ErrDecode) {
		msg = "invalid image: " + err.Error()
	}
	c.JSON(http.StatusInternalServerError, PredictResponse{Error: msg})
}

func (h *Handler) requestLogger(c *gin.Context) logrus.FieldLogger {
	return h.log.WithField("request_id", c.GetString(requestIDKey))
}
