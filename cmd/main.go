package main

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"ops-agent/handler"
	"ops-agent/internal/agents"
	"ops-agent/internal/classifier"
	"ops-agent/internal/config"
	"ops-agent/internal/integrations/gateway"
	"ops-agent/internal/integrations/openai"
	"ops-agent/internal/integrations/paramstore"
	"ops-agent/internal/ledger"
	"ops-agent/internal/logging"
	"ops-agent/internal/repository"
	"ops-agent/internal/session"
	"ops-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(cfg.LogDebug, cfg.LogFormat)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load AWS config")
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create SSM client")
	}
	runtime, err := config.LoadRuntime(ctx, ssmClient, cfg.ParamPrefix)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load runtime configuration")
	}

	llmOpts := []openai.Option{
		openai.WithModel(runtime.Model),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.ModelTimeout}),
	}
	if cfg.OpenAIBaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	llm, err := openai.NewClient(ssmClient, cfg.ParamPrefix, llmOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create OpenAI client")
	}

	tokens, err := gateway.NewParamToken(ssmClient, runtime.GatewayTokenParam)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway token source")
	}
	gatewayClient, err := gateway.New(runtime.GatewayURL, tokens,
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.DiscoveryTimeout}))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway client")
	}

	var store session.Store
	if cfg.StateTable != "" {
		store, err = repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create state client")
		}
	} else {
		log.Warn().Msg("STATE_TABLE not set, conversation state is kept in memory")
		store = session.NewMemoryStore()
	}

	// ---- Handlers ----
	discovery, err := agents.NewDiscovery(gatewayClient, cfg.SemanticSearch, cfg.DiscoveryTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create discovery")
	}
	fixes := ledger.New()

	intent, err := classifier.New(llm, store,
		classifier.WithHistoryTurns(cfg.HistoryTurns),
		classifier.WithTimeout(cfg.ModelTimeout))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create classifier")
	}
	troubleshooting, err := agents.NewTroubleshooting(llm, discovery, fixes, cfg.ModelTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create troubleshooting handler")
	}
	execution, err := agents.NewExecution(llm, discovery, fixes, cfg.ModelTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create execution handler")
	}
	documentation, err := agents.NewDocumentation(llm, cfg.ModelTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create documentation handler")
	}
	validation, err := agents.NewValidation(llm, discovery, cfg.ModelTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create validation handler")
	}

	orchestrator, err := usecase.New(intent, store, fixes, usecase.Handlers{
		Troubleshooting: troubleshooting,
		Execution:       execution,
		Documentation:   documentation,
		Validation:      validation,
	},
		usecase.WithHistoryTurns(cfg.HistoryTurns),
		usecase.WithMaxPromptLength(cfg.MaxPromptLength),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create orchestrator")
	}

	h, err := handler.NewHandler(orchestrator)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create handler")
	}

	log.Info().
		Bool("debug", logging.DebugEnabled()).
		Bool("semantic_search", cfg.SemanticSearch).
		Bool("dynamodb_state", cfg.StateTable != "").
		Str("model", runtime.Model).
		Msg("ops agent starting")
	lambda.Start(h.Handle)
}
