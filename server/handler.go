package server

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/krau/triclassify/classifier"
	"github.com/krau/triclassify/metrics"
)

var (
	errUnauthorized = errors.New("unauthorized")
)

func (s *Server) authenticate(c *gin.Context) error {
	auth := c.GetHeader("Authorization")

	if s.token == "" {
		return nil
	}
	providedToken := ""
	if len(auth) > 7 && auth[:7] == "Bearer " {
		providedToken = auth[7:]
	}
	if subtle.ConstantTimeCompare([]byte(providedToken), []byte(s.token)) != 1 {
		return errUnauthorized
	}

	return nil
}

func (s *Server) authMiddleware(c *gin.Context) {
	if err := s.authenticate(c); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}
	c.Next()
}

func (s *Server) ClassifyHandler(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot open uploaded file"})
		return
	}
	defer file.Close()

	img, format, err := decodeImage(file)
	if err != nil {
		slog.Debug("Image decode failed",
			slog.String("file", fileHeader.Filename),
			slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot decode image"})
		return
	}
	slog.Info("Image received",
		slog.String("file", fileHeader.Filename),
		slog.String("format", format),
		slog.Int("width", img.Bounds().Dx()),
		slog.Int("height", img.Bounds().Dy()))

	s.classifier.Classify(img)
	c.JSON(http.StatusAccepted, gin.H{"request_accepted": true})
}

func (s *Server) ResultsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": s.board.Version(),
		"results": s.board.Snapshot(),
	})
}

// StreamHandler pushes a server-sent event for every slot change.
func (s *Server) StreamHandler(c *gin.Context) {
	ch, cancel := s.board.Subscribe()
	defer cancel()

	for _, v := range s.board.Snapshot() {
		c.SSEvent("result", v)
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case name := <-ch:
			v, ok := s.board.Get(name)
			if !ok {
				continue
			}
			c.SSEvent("result", v)
			c.Writer.Flush()
		}
	}
}

func (s *Server) HealthHandler(c *gin.Context) {
	slots := s.classifier.Slots()
	status := "healthy"
	for _, sl := range slots {
		if !sl.Available {
			status = "degraded"
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "models": slots})
}

func (s *Server) StatsHandler(c *gin.Context) {
	stats := map[string]metrics.ModelLatency{}
	if s.latency != nil {
		stats = s.latency.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{"latency": stats})
}

var _ Classifier = (*classifier.Orchestrator)(nil)
