package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/resnet-api/internal/metrics"
)

// NewRouter wires the routes. "/" and "/predict" accept every method so
// non-POST requests get {"success": false} rather than 404/405.
func NewRouter(h *Handler, m *metrics.Metrics, log logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(CORS(), RequestID(), AccessLog(log, m), Recovery(log))

	router.GET("/health", h.Health)
	router.Any("/", h.Home)
	router.Any("/predict", h.Predict)
	router.POST("/predict/tensor", h.PredictTensor)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	return router
}
