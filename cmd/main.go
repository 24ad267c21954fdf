package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"statement-analyzer/handler"
	"statement-analyzer/internal/analysis"
	"statement-analyzer/internal/config"
	"statement-analyzer/internal/integrations/gemini"
	"statement-analyzer/internal/integrations/paramstore"
	"statement-analyzer/internal/repository"
	"statement-analyzer/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	apiKey, err := gemini.ResolveAPIKey(ctx, cfg.GeminiAPIKey, ssmClient, cfg.APIKeyParameter())
	if err != nil {
		slog.Error("Gemini API key is not configured", "key", "GEMINI_API_KEY", "parameter", cfg.APIKeyParameter(), "err", err)
		os.Exit(1)
	}
	geminiClient, err := gemini.NewClient(ctx, apiKey, gemini.WithModel(cfg.GeminiModel))
	if err != nil {
		slog.Error("failed to create Gemini client", "err", err)
		os.Exit(1)
	}

	var store usecase.SessionStore
	if cfg.SessionTable == "" {
		slog.Warn("SESSION_TABLE is not set, sessions are kept in memory")
		store = repository.NewMemory()
	} else {
		store, err = repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.SessionTable, cfg.SessionTTL)
		if err != nil {
			slog.Error("failed to create session store", "err", err)
			os.Exit(1)
		}
	}

	// ---- Handler ----
	service, err := usecase.NewAnalyzeService(geminiClient, store, analysis.NewCache(), cfg.MaxQuestionLength)
	if err != nil {
		slog.Error("failed to create analyze service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(service)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
