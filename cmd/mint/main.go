// Command mint issues an HMAC fallback token from the local
// configuration, for smoke tests and deployments that run without a
// managed identity provider.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/resumesite/oidc-gatekeeper/pkg/config"
	"github.com/resumesite/oidc-gatekeeper/pkg/fallback"
)

func main() {
	subject := flag.String("subject", "", "Subject identifier for the token")
	email := flag.String("email", "", "Email claim (optional)")
	groups := flag.String("groups", "", "Comma-separated group memberships (optional)")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: mint -subject <sub> [-email <email>] [-groups g1,g2]")
		os.Exit(2)
	}

	if *configPath != "" {
		if err := os.Setenv("CONFIG_PATH", *configPath); err != nil {
			slog.Error("Error setting CONFIG_PATH environment variable", "error", err)
		}
	}

	cfg, err := config.NewConfig()
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if cfg.Fallback == nil || !cfg.Fallback.Enabled {
		slog.Error("Fallback mode is not enabled in the configuration")
		os.Exit(1)
	}

	var groupList []string
	if *groups != "" {
		groupList = strings.Split(*groups, ",")
	}

	token, err := fallback.NewSigner(cfg.Fallback).Issue(*subject, *email, groupList)
	if err != nil {
		slog.Error("Failed to issue token", slog.String("error", err.Error()))
		os.Exit(1)
	}

	fmt.Println(token)
}
