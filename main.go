package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/resumesite/oidc-gatekeeper/pkg/handler"
	"github.com/resumesite/oidc-gatekeeper/pkg/utils"
	"github.com/resumesite/oidc-gatekeeper/pkg/version"
)

func init() {
	var programLevel = new(slog.LevelVar) // Default to Info
	programLevel.Set(slog.LevelInfo)

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel != "" {
		if level, err := utils.ParseLogLevel(logLevel); err == nil {
			programLevel.Set(level)
		} else {
			slog.Info("Invalid LOG_LEVEL, defaulting to Info", slog.String("value", logLevel))
		}
	}

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: programLevel,
	})
	slog.SetDefault(slog.New(logHandler))

	versionInfo := version.Get()
	slog.Info(
		fmt.Sprintf("Starting %s", versionInfo.BinName),
		slog.String("version", versionInfo.Version),
		slog.String("commit", versionInfo.Commit),
		slog.String("date", versionInfo.Date),
	)
}

func main() {
	bootstrap, err := handler.NewBootstrap()
	if err != nil {
		slog.Error("Failed to initialize", slog.String("error", err.Error()))
		panic(err)
	}

	h := handler.NewAwsApiGateway(bootstrap.Registry, bootstrap.Trail)
	lambda.Start(h.Handler)
}
