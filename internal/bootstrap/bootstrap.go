package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkravets/taxcore/internal/config"
	"github.com/mkravets/taxcore/internal/core/ports"
	"github.com/mkravets/taxcore/internal/core/usecase"
	"github.com/mkravets/taxcore/internal/infrastructure/llm/ollama"
	"github.com/mkravets/taxcore/internal/infrastructure/queue/nats"
	"github.com/mkravets/taxcore/internal/infrastructure/repository/postgres"
	"github.com/mkravets/taxcore/internal/infrastructure/resilience"
	"github.com/mkravets/taxcore/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config

	Queue    ports.MessageQueue
	Subjects ports.SubjectStore

	Taxonomy ports.TaxonomyService
	Classify ports.ClassificationService
	Review   ports.ReviewService
	Search   ports.SearchService
	Ingestor ports.ChunkIngestor

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	taxonomyRepo := postgres.NewTaxonomyRepository(db)
	assignmentRepo := postgres.NewAssignmentRepository(db)
	reviewRepo := postgres.NewReviewRepository(db)
	chunkRepo := postgres.NewChunkRepository(db)

	executor := resilience.NewExecutor(resilience.DefaultPolicy())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	modelTimeout := time.Duration(cfg.ModelTimeoutSeconds) * time.Second
	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, modelTimeout)
	classifier := ollama.NewResilientClassifier(ollama.NewClassifier(ollamaClient), executor)
	embedder := ollama.NewResilientEmbedder(ollama.NewEmbedder(ollamaClient), executor)

	vectorIndex := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)

	ruleDefs, err := loadRuleDefinitions(cfg.RulesPath)
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("load classification rules: %w", err)
	}
	ruleSet, err := usecase.CompileRules(ruleDefs)
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("compile classification rules: %w", err)
	}

	taxonomyUC := usecase.NewTaxonomyUseCase(taxonomyRepo)
	reviewUC := usecase.NewReviewUseCase(reviewRepo, usecase.ReviewPolicy{
		DefaultSLAMinutes: cfg.ReviewSLAMinutes,
	}, logger)
	classifyUC := usecase.NewClassifyUseCase(taxonomyUC, ruleSet, classifier, assignmentRepo, reviewUC, usecase.GatePolicy{
		RuleConfidence:      cfg.RuleConfidence,
		AutoCommitThreshold: cfg.AutoCommitThreshold,
		RejectFloor:         cfg.RejectFloor,
		ReviewSLAMinutes:    cfg.ReviewSLAMinutes,
	}, logger)
	searchUC := usecase.NewSearchUseCase(embedder, vectorIndex, assignmentRepo, taxonomyUC, usecase.SearchPolicy{
		DefaultTopK:         cfg.SearchTopK,
		MinCandidates:       cfg.SearchMinCandidates,
		CandidateMultiplier: cfg.SearchCandidateFactor,
		RerankTopM:          cfg.SearchRerankTopM,
		WeightLexical:       cfg.SearchWeightLexical,
		WeightVector:        cfg.SearchWeightVector,
		ScopeBoostFactor:    cfg.SearchScopeBoost,
	}, logger)
	ingestUC := usecase.NewIngestChunksUseCase(chunkRepo, vectorIndex, embedder)

	return &App{
		Config: cfg,

		Queue:    queue,
		Subjects: chunkRepo,

		Taxonomy: taxonomyUC,
		Classify: classifyUC,
		Review:   reviewUC,
		Search:   searchUC,
		Ingestor: ingestUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func loadRuleDefinitions(path string) ([]usecase.RuleDefinition, error) {
	ruleConfigs, err := config.LoadRules(path)
	if err != nil {
		return nil, err
	}
	defs := make([]usecase.RuleDefinition, 0, len(ruleConfigs))
	for _, rc := range ruleConfigs {
		defs = append(defs, usecase.RuleDefinition{
			Name:     rc.Name,
			Label:    rc.Label,
			Keywords: rc.Keywords,
			Pattern:  rc.Pattern,
		})
	}
	return defs, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
