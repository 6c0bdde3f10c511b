package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/t0mk/applogger"
)

func main() {
	settings := applogger.DefaultSettings()
	settings.APIToken = os.Getenv("APPLOGGER_API_TOKEN")
	settings.AppName = "example"
	settings.AppVersion = "1.0.0"
	settings.Host = "http://localhost:8081" // Collector started with cmd/applogger-collector
	settings.LogLevel = applogger.LevelInformation

	client, err := applogger.New(applogger.Options{
		Settings: settings,
		Store:    applogger.NewYAMLSettingsStore("applogger.yaml"),
		Compress: true,
		Attachments: []applogger.AttachmentProvider{
			applogger.NewLogFileAttachment("example.log"),
		},
	})
	if err != nil {
		log.Fatal("Failed to initialize applogger client:", err)
	}
	defer client.Close()

	// Store.Load replaces settings at Start, so seed the file on first run.
	if _, statErr := os.Stat("applogger.yaml"); errors.Is(statErr, os.ErrNotExist) {
		if err := applogger.NewYAMLSettingsStore("applogger.yaml").Save(settings); err != nil {
			log.Fatal("Failed to write settings:", err)
		}
	}

	// Route the application's own slog output through the client as well.
	slog.SetDefault(slog.New(client.Handler()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := client.Start(ctx); err != nil {
			log.Printf("applogger not started: %v", err)
		}
	}()

	r := gin.Default()
	r.Use(applogger.GinRecovery(client), applogger.GinMiddleware(client))

	r.GET("/", func(c *gin.Context) {
		client.TrackEvent("page_view", applogger.LevelInformation, applogger.D(
			"page", "home",
			"user_id", "123",
		))
		c.JSON(http.StatusOK, gin.H{"message": "Hello World"})
	})

	r.GET("/api/slow", func(c *gin.Context) {
		time.Sleep(100 * time.Millisecond)
		slog.Warn("slow endpoint hit", "event_id", "slow-1", "delay_ms", 100)
		c.JSON(http.StatusOK, gin.H{"message": "slow response"})
	})

	r.POST("/api/checkout", applogger.GinTrackEvent(client, "checkout", applogger.D("flow", "cart")), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "order placed"})
	})

	r.GET("/api/panic", func(c *gin.Context) {
		panic("something broke")
	})

	srv := &http.Server{Addr: ":8080", Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start web server:", err)
		}
	}()
	log.Println("Starting web server on port 8080...")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := client.Stop(shutdownCtx); err != nil {
		log.Printf("applogger stop: %v", err)
	}
}
