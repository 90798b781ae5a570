// Package store defines the persistence contracts of the session graph.
//
// Every call is scoped to the owning user. Backends live in the memory,
// neo4j and pgx subpackages and can be substituted for one another.
package store

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"
)

// SessionStorage manages session nodes.
type SessionStorage interface {
	// CreateSession stores a new session and links it into the user's
	// NEXT_SESSION chain by session date. Empty ids are generated.
	CreateSession(ctx context.Context, session common.Session) (common.Session, error)
	// GetSession returns common.ErrNotFound when the session does not exist
	// or belongs to another user.
	GetSession(ctx context.Context, userID, sessionID string) (common.Session, error)
	// ListSessions returns the user's sessions ordered by session date.
	ListSessions(ctx context.Context, userID string) ([]common.Session, error)
	// DeleteSession removes the session with its edges, relinks the chain and
	// deletes elements and topics no longer referenced by any session.
	DeleteSession(ctx context.Context, userID, sessionID string) error
	UpdateSessionStatus(ctx context.Context, userID, sessionID string, status common.SessionStatus, reason string) error
	// UpdateSessionContent changes title and transcript. Empty values are
	// left untouched. Returns common.ErrSessionLocked once analyzed.
	UpdateSessionContent(ctx context.Context, userID, sessionID, title, transcript string) (common.Session, error)
	SetSessionAudio(ctx context.Context, userID, sessionID, audioKey string) error
}

// GraphWriter persists one analysis result in a single transaction.
//
// The session is set to analyzing (taking its write lock), topics and
// elements are merged on their keys, HAS_<KIND> and RELATED_TO edges are
// merged and the session is set to analyzed. On any error nothing is
// written. Writing the same result twice leaves the graph unchanged apart
// from the running aggregates.
type GraphWriter interface {
	WriteSessionAnalysis(
		ctx context.Context,
		userID string,
		sessionID string,
		result common.AnalysisResult,
		at time.Time,
	) (common.WriteCounts, error)
}

// GraphReader serves the read side of the graph.
type GraphReader interface {
	// GetSessionAnalysis returns the element occurrences of one session.
	GetSessionAnalysis(ctx context.Context, userID, sessionID string) ([]common.ElementOccurrence, error)
	// GetUserTimeline returns the user's analyzed sessions in date order.
	GetUserTimeline(ctx context.Context, userID string) ([]common.TimelineSession, error)
	// ListElements returns the user's element nodes of a kind by name.
	ListElements(ctx context.Context, userID string, kind common.ElementKind) ([]common.ElementNode, error)
	UpdateActionItemStatus(ctx context.Context, userID, name, status string) (common.ElementNode, error)
}

// GraphStorage is the full store used by the service.
type GraphStorage interface {
	SessionStorage
	GraphWriter
	GraphReader

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// TopicRelevance is stored on every RELATED_TO edge.
const TopicRelevance = 0.8
