// Package neo4j stores the session graph in Neo4j. Sessions, elements and
// topics are nodes; HAS_<KIND>, RELATED_TO and NEXT_SESSION are
// relationships. Every merge is a Cypher MERGE inside a managed transaction.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/insight/backend/internal/util"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"
	"github.com/OFFIS-RIT/insight/backend/pkg/store"

	neo4jdrv "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Config struct {
	URI         string
	User        string
	Password    string
	Database    string
	Timeout     time.Duration
	MaxPoolSize int
}

// ConfigFromEnv reads the NEO4J_* variables.
func ConfigFromEnv() Config {
	return Config{
		URI:         util.GetEnv("NEO4J_URI"),
		User:        util.GetEnvString("NEO4J_USER", "neo4j"),
		Password:    util.GetEnv("NEO4J_PASSWORD"),
		Database:    util.GetEnv("NEO4J_DATABASE"),
		Timeout:     time.Duration(util.GetEnvInt("NEO4J_TIMEOUT_SECONDS", 10)) * time.Second,
		MaxPoolSize: util.GetEnvInt("NEO4J_MAX_POOL_SIZE", 50),
	}
}

// GraphDBStorage implements store.GraphStorage on a Neo4j driver.
type GraphDBStorage struct {
	driver   neo4jdrv.DriverWithContext
	database string
	now      func() time.Time
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)

// New connects to Neo4j, verifies connectivity and creates the uniqueness
// constraints of the graph.
func New(ctx context.Context, cfg Config) (*GraphDBStorage, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j: NEO4J_URI is not set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	auth := neo4jdrv.BasicAuth(cfg.User, cfg.Password, "")
	driver, err := neo4jdrv.NewDriverWithContext(cfg.URI, auth, func(c *neo4jdrv.Config) {
		if cfg.MaxPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxPoolSize
		}
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	s := &GraphDBStorage{
		driver:   driver,
		database: cfg.Database,
		now:      time.Now,
	}
	if err := s.EnsureConstraints(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

// EnsureConstraints creates the merge-key constraints. Existing constraints
// are left alone.
func (s *GraphDBStorage) EnsureConstraints(ctx context.Context) error {
	session := s.session(ctx, neo4jdrv.AccessModeWrite)
	defer session.Close(ctx)

	for _, stmt := range constraintStatements() {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("neo4j: create constraint: %w", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return fmt.Errorf("neo4j: create constraint: %w", err)
		}
	}
	logger.Debug("[Neo4j] Constraints ensured")
	return nil
}

func constraintStatements() []string {
	stmts := []string{
		"CREATE CONSTRAINT session_id_unique IF NOT EXISTS FOR (s:Session) REQUIRE s.id IS UNIQUE",
		"CREATE CONSTRAINT topic_key_unique IF NOT EXISTS FOR (t:Topic) REQUIRE (t.user_id, t.name) IS UNIQUE",
	}
	for _, kind := range common.AllKinds() {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE CONSTRAINT %s_key_unique IF NOT EXISTS FOR (e:%s) REQUIRE (e.user_id, e.name) IS UNIQUE",
			kind, kind.Label(),
		))
	}
	return stmts
}

func (s *GraphDBStorage) session(ctx context.Context, mode neo4jdrv.AccessMode) neo4jdrv.SessionWithContext {
	return s.driver.NewSession(ctx, neo4jdrv.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

func (s *GraphDBStorage) write(ctx context.Context, fn func(tx neo4jdrv.ManagedTransaction) (any, error)) (any, error) {
	session := s.session(ctx, neo4jdrv.AccessModeWrite)
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, fn)
}

func (s *GraphDBStorage) read(ctx context.Context, fn func(tx neo4jdrv.ManagedTransaction) (any, error)) (any, error) {
	session := s.session(ctx, neo4jdrv.AccessModeRead)
	defer session.Close(ctx)
	return session.ExecuteRead(ctx, fn)
}

func (s *GraphDBStorage) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

func (s *GraphDBStorage) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// run executes a statement and returns its summary counters.
func run(ctx context.Context, tx neo4jdrv.ManagedTransaction, cypher string, params map[string]any) (neo4jdrv.ResultSummary, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res.Consume(ctx)
}

// collect executes a statement and returns all records.
func collect(ctx context.Context, tx neo4jdrv.ManagedTransaction, cypher string, params map[string]any) ([]*neo4jdrv.Record, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}
