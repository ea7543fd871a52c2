package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"

	acme "github.com/caasmo/acme-lifecycle"
)

func generateBlueprintConfig() acme.Config {
	cfg := acme.DefaultConfig("/var/lib/acme")
	cfg.EnableClient = true
	cfg.CertificateDomains = []acme.DomainEntry{
		{Domain: "example.com", Directory: "example.com"},
		{Domain: "www.example.com", Directory: "www.example.com"},
	}
	cfg.DirectoryEndpoint = "https://acme-staging-v02.api.letsencrypt.org/directory"
	cfg.ChallengeHandlerType = acme.ChallengeHandlerServer
	cfg.ControlAuthSecret = "REPLACE_WITH_A_RANDOM_SECRET"
	cfg.OperatorNotifyEmail = "ops@example.com"
	return cfg
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	outputFileFlag := flag.String("output", "acme.blueprint.toml", "Output file path for the blueprint TOML configuration")
	flag.StringVar(outputFileFlag, "o", "acme.blueprint.toml", "Output file path (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generates a blueprint ACME TOML configuration file with example values.\n")
		fmt.Fprintf(os.Stderr, "Remember to replace placeholder values and load secrets securely.\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	logger.Info("generating ACME blueprint configuration")
	blueprintCfg := generateBlueprintConfig()

	if err := blueprintCfg.Validate(); err != nil {
		logger.Warn("generated blueprint configuration has validation issues, this is expected for placeholders", "error", err)
	}

	tomlBytes, err := toml.Marshal(blueprintCfg)
	if err != nil {
		logger.Error("failed to marshal blueprint config to TOML", "error", err)
		os.Exit(1)
	}

	logger.Info("writing blueprint configuration", "path", *outputFileFlag)
	if err := os.WriteFile(*outputFileFlag, tomlBytes, 0644); err != nil {
		logger.Error("failed to write blueprint config file", "path", *outputFileFlag, "error", err)
		os.Exit(1)
	}

	logger.Info("ACME blueprint configuration generated successfully", "path", *outputFileFlag)
	logger.Warn("review the generated file, replace placeholders, and load secrets (control_auth_secret, account key) securely before deploying")
}
