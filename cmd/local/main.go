package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/resumesite/oidc-gatekeeper/pkg/handler"
	"github.com/resumesite/oidc-gatekeeper/pkg/utils"
	"github.com/resumesite/oidc-gatekeeper/pkg/version"
)

// Settings for the local server
type ServerSettings struct {
	Port       int
	ConfigPath string
	LogLevel   string
}

func main() {
	settings := parseCliFlags()
	setupLogging(settings.LogLevel)

	versionInfo := version.Get()
	slog.Info("Starting OIDC Gatekeeper local server",
		slog.String("version", versionInfo.Version),
		slog.String("commit", versionInfo.Commit),
		slog.String("date", versionInfo.Date),
	)

	bootstrap, err := handler.NewBootstrap()
	if err != nil {
		slog.Error("Failed to initialize", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := handler.NewRouter(bootstrap.Config, bootstrap.Registry, bootstrap.AssetStore, bootstrap.Trail)

	addr := fmt.Sprintf(":%d", settings.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  handler.DefaultTimeout,
		WriteTimeout: handler.DefaultTimeout,
	}

	// Handle graceful shutdown
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		slog.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := bootstrap.Trail.Flush(ctx); err != nil {
			slog.Error("Failed to flush audit trail", slog.String("error", err.Error()))
		}

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("Starting local development server",
		slog.Int("port", settings.Port),
		slog.String("userinfoEndpoint", fmt.Sprintf("http://localhost:%d/userinfo", settings.Port)),
		slog.String("healthEndpoint", fmt.Sprintf("http://localhost:%d/health", settings.Port)))

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("Server error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("Server stopped")
}

func parseCliFlags() ServerSettings {
	settings := ServerSettings{}

	flag.IntVar(&settings.Port, "port", 8080, "Port to listen on")
	flag.StringVar(&settings.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&settings.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	// Set config path as environment variable if provided
	if settings.ConfigPath != "" {
		if err := os.Setenv("CONFIG_PATH", settings.ConfigPath); err != nil {
			slog.Error("Error setting CONFIG_PATH environment variable", "error", err)
		}
	}

	return settings
}

func setupLogging(level string) {
	logLevel, err := utils.ParseLogLevel(level)
	if err != nil {
		logLevel = slog.LevelInfo
	}

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(logHandler))
}
