package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-gonic/gin"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/krau/triclassify/classifier"
	"github.com/krau/triclassify/config"
	"github.com/krau/triclassify/metrics"
	"github.com/krau/triclassify/onnx"
	"github.com/krau/triclassify/server"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	setupLogger(config.C().LogLevel)
	slog.Info("Starting triclassify")

	ort.SetSharedLibraryPath(onnx.LibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("Failed to initialize ONNX Runtime environment", slog.String("error", err.Error()))
		return
	}
	defer ort.DestroyEnvironment()

	models := config.C().Models
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	board := classifier.NewBoard(names...)
	latency := metrics.NewLatencyTracker(0.2)

	orch := classifier.New(ctx, onnx.Loaders(config.C().ModelDir, models), board,
		classifier.WithLatency(latency),
	)
	defer orch.Close()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              config.C().Host + ":" + config.C().Port,
		Handler:           server.New(orch, board, latency, config.C().Token).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("Listening on", slog.String("address", srv.Addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", slog.String("error", err.Error()))
	}
}

func setupLogger(level string) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})))
}
