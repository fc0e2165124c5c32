package server

import (
	"image"

	"github.com/gin-gonic/gin"

	"github.com/krau/triclassify/classifier"
	"github.com/krau/triclassify/metrics"
)

// Classifier is the part of the orchestrator the HTTP layer needs.
type Classifier interface {
	Classify(img image.Image)
	Slots() []classifier.SlotInfo
}

type Server struct {
	classifier Classifier
	board      *classifier.Board
	latency    *metrics.LatencyTracker
	token      string
}

func New(c Classifier, board *classifier.Board, latency *metrics.LatencyTracker, token string) *Server {
	return &Server{
		classifier: c,
		board:      board,
		latency:    latency,
		token:      token,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", s.HealthHandler)

	api := r.Group("/", s.authMiddleware)
	api.POST("/classify", s.ClassifyHandler)
	api.GET("/results", s.ResultsHandler)
	api.GET("/results/stream", s.StreamHandler)
	api.GET("/stats", s.StatsHandler)
	return r
}
