package server

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/insight/backend/internal/auth"
	"github.com/OFFIS-RIT/insight/backend/internal/db"
	mid "github.com/OFFIS-RIT/insight/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/insight/backend/internal/storage"
	"github.com/OFFIS-RIT/insight/backend/internal/util"
	"github.com/OFFIS-RIT/insight/backend/pkg/ai"
	oai "github.com/OFFIS-RIT/insight/backend/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/insight/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/insight/backend/pkg/analysis"
	"github.com/OFFIS-RIT/insight/backend/pkg/graph"
	"github.com/OFFIS-RIT/insight/backend/pkg/insights"
	"github.com/OFFIS-RIT/insight/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"
	"github.com/OFFIS-RIT/insight/backend/pkg/store"
	"github.com/OFFIS-RIT/insight/backend/pkg/store/memory"
	"github.com/OFFIS-RIT/insight/backend/pkg/store/neo4j"
	pgxstore "github.com/OFFIS-RIT/insight/backend/pkg/store/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Components are the long lived dependencies of the server and the worker.
// Close releases them in reverse order of creation.
type Components struct {
	App *mid.App

	closers []func()
}

func (c *Components) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// NewComponents builds every component from the environment.
func NewComponents(ctx context.Context) (*Components, error) {
	comps := &Components{App: &mid.App{
		MasterAPIKey:   util.GetEnv("MASTER_API_KEY"),
		MasterUserID:   util.GetEnv("MASTER_USER_ID"),
		MasterUserRole: util.GetEnv("MASTER_USER_ROLE"),
	}}
	app := comps.App

	var pool *pgxpool.Pool
	if dsn := util.GetEnv("DATABASE_URL"); dsn != "" {
		if util.GetEnvBool("MIGRATE_ON_START", true) {
			if err := db.Migrate(dsn); err != nil {
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}
		p, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		pool = p
		comps.onClose(pool.Close)
		app.Health = append(app.Health, mid.HealthCheck{
			Name:  "postgres",
			Check: func(c echo.Context) error { return pool.Ping(c.Request().Context()) },
		})
	}

	graphStore, err := newGraphStore(ctx, pool)
	if err != nil {
		comps.Close()
		return nil, err
	}
	comps.onClose(func() {
		if err := graphStore.Close(context.Background()); err != nil {
			logger.Error("Failed to close graph store", "err", err)
		}
	})
	app.Graph = graphStore
	app.Health = append(app.Health, mid.HealthCheck{
		Name:  "graph",
		Check: func(c echo.Context) error { return graphStore.Ping(c.Request().Context()) },
	})

	locker, err := newLocker(ctx, comps, pool)
	if err != nil {
		comps.Close()
		return nil, err
	}

	aiClient, err := newAIClient()
	if err != nil {
		comps.Close()
		return nil, err
	}
	app.AIClient = aiClient

	s3Client, err := storage.NewS3Client(ctx)
	if err != nil {
		comps.Close()
		return nil, err
	}
	var archive graph.ResponseArchive
	if s3Client != nil {
		app.S3 = storage.NewS3Store(s3Client, util.GetEnv("AWS_BUCKET"))
		archive = app.S3
	} else {
		logger.Info("AWS_BUCKET not set, audio uploads and response archives are disabled")
	}

	counter, err := ai.NewTokenCounter(ai.DefaultEncoding)
	if err != nil {
		logger.Warn("Token counter unavailable, transcript token limit disabled", "err", err)
	}

	pipeline, err := graph.NewSessionPipeline(graph.NewSessionPipelineParams{
		Store:    graphStore,
		AIClient: aiClient,
		PromptBuilder: analysis.NewPromptBuilder(analysis.NewPromptBuilderParams{
			MaxTranscriptChars:  util.GetEnvInt("ANALYSIS_MAX_TRANSCRIPT_CHARS", analysis.DefaultMaxTranscriptChars),
			MaxTranscriptTokens: util.GetEnvInt("ANALYSIS_MAX_TRANSCRIPT_TOKENS", 0),
			TokenCounter:        counter,
		}),
		Parser:         analysis.NewParser(nil),
		Locker:         locker,
		Archive:        archive,
		MaxAttempts:    util.GetEnvInt("ANALYSIS_MAX_ATTEMPTS", 3),
		AttemptTimeout: util.GetEnvDuration("AI_REQUEST_TIMEOUT", 2*time.Minute),
	})
	if err != nil {
		comps.Close()
		return nil, err
	}
	app.Pipeline = pipeline
	app.Insights = insights.NewService(graphStore)

	var users auth.UserStore = auth.NewMemoryUserStore()
	if pool != nil {
		users = auth.NewPgxUserStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set, users are kept in memory")
	}
	app.Auth, err = auth.NewService(users, util.GetEnv("AUTH_SECRET"), util.GetEnvDuration("AUTH_TOKEN_TTL", auth.DefaultTokenTTL))
	if err != nil {
		comps.Close()
		return nil, err
	}

	if authURL := util.GetEnv("AUTH_URL"); authURL != "" {
		k, err := keyfunc.NewDefault([]string{authURL + "/jwks"})
		if err != nil {
			comps.Close()
			return nil, fmt.Errorf("load jwks keys: %w", err)
		}
		app.Key = k
	}

	return comps, nil
}

func newGraphStore(ctx context.Context, pool *pgxpool.Pool) (store.GraphStorage, error) {
	backend := util.GetEnvString("GRAPH_BACKEND", "neo4j")
	logger.Info("Using graph backend", "backend", backend)

	switch backend {
	case "neo4j":
		s, err := neo4j.New(ctx, neo4j.ConfigFromEnv())
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("graph backend postgres needs DATABASE_URL")
		}
		return pgxstore.NewGraphDBStorageWithConnection(pool), nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown graph backend %q", backend)
	}
}

func newLocker(ctx context.Context, comps *Components, pool *pgxpool.Pool) (leaselock.Locker, error) {
	backend := util.GetEnv("LOCK_BACKEND")
	if backend == "" {
		backend = "local"
		if pool != nil {
			backend = "postgres"
		}
	}

	switch backend {
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("lock backend postgres needs DATABASE_URL")
		}
		return leaselock.NewPostgres(pool), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     util.GetEnvString("REDIS_ADDR", "localhost:6379"),
			Password: util.GetEnv("REDIS_PASSWORD"),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		comps.onClose(func() { rdb.Close() })
		comps.App.Health = append(comps.App.Health, mid.HealthCheck{
			Name:  "redis",
			Check: func(c echo.Context) error { return rdb.Ping(c.Request().Context()).Err() },
		})
		return leaselock.NewRedis(rdb, "insight:lease:"), nil
	case "local":
		return leaselock.NewLocal(), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", backend)
	}
}

func newAIClient() (ai.AnalysisAIClient, error) {
	switch util.GetEnv("AI_ADAPTER") {
	case "ollama":
		client, err := oai.NewAnalysisOllamaClient(oai.NewAnalysisOllamaClientParams{
			AnalysisModel:         util.GetEnv("AI_ANALYSIS_MODEL"),
			BaseURL:               util.GetEnv("AI_CHAT_URL"),
			ApiKey:                util.GetEnv("AI_CHAT_KEY"),
			MaxConcurrentRequests: int64(util.GetEnvInt("AI_PARALLEL_REQ", 4)),
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return client, nil
	default:
		return gai.NewAnalysisOpenAIClient(gai.NewAnalysisOpenAIClientParams{
			AnalysisModel: util.GetEnv("AI_ANALYSIS_MODEL"),
			AudioModel:    util.GetEnvString("AI_AUDIO_MODEL", "whisper-1"),
			ChatURL:       util.GetEnv("AI_CHAT_URL"),
			ChatKey:       util.GetEnv("AI_CHAT_KEY"),
			AudioURL:      util.GetEnv("AI_AUDIO_URL"),
			AudioKey:      util.GetEnv("AI_AUDIO_KEY"),
		}), nil
	}
}
