package insights

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// TimelineReader loads the analyzed sessions of a user in date order.
type TimelineReader interface {
	GetUserTimeline(ctx context.Context, userID string) ([]common.TimelineSession, error)
}

// Snapshot combines all insights of a user. Missing insights are nil.
type Snapshot struct {
	TurningPoint         *TurningPoint          `json:"turning_point"`
	Correlations         []Correlation          `json:"correlations"`
	ChallengePersistence []ChallengePersistence `json:"challenge_persistence"`
	FuturePrediction     *FuturePrediction      `json:"future_prediction"`
	CascadeMap           *CascadeMap            `json:"cascade_map"`
	SessionCount         int                    `json:"session_count"`
	GeneratedAt          time.Time              `json:"generated_at"`
}

type Service struct {
	reader TimelineReader
	now    func() time.Time
}

func NewService(reader TimelineReader) *Service {
	return &Service{reader: reader, now: time.Now}
}

func (s *Service) timeline(ctx context.Context, userID string) ([]common.TimelineSession, error) {
	timeline, err := s.reader.GetUserTimeline(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load timeline: %w", err)
	}
	return timeline, nil
}

// TurningPoint uses "anxiety" when emotion is empty.
func (s *Service) TurningPoint(ctx context.Context, userID, emotion string) (*TurningPoint, error) {
	if emotion == "" {
		emotion = "anxiety"
	}
	timeline, err := s.timeline(ctx, userID)
	if err != nil {
		return nil, err
	}
	return FindTurningPoint(timeline, emotion, TurningPointThreshold), nil
}

func (s *Service) Correlations(ctx context.Context, userID string, limit int) ([]Correlation, error) {
	timeline, err := s.timeline(ctx, userID)
	if err != nil {
		return nil, err
	}
	return FindCorrelations(timeline, limit), nil
}

func (s *Service) ChallengePersistence(ctx context.Context, userID string) ([]ChallengePersistence, error) {
	timeline, err := s.timeline(ctx, userID)
	if err != nil {
		return nil, err
	}
	return TrackChallenges(timeline, s.now()), nil
}

func (s *Service) FuturePrediction(ctx context.Context, userID string) (*FuturePrediction, error) {
	timeline, err := s.timeline(ctx, userID)
	if err != nil {
		return nil, err
	}
	return PredictTopics(timeline), nil
}

func (s *Service) CascadeMap(ctx context.Context, userID string) (*CascadeMap, error) {
	timeline, err := s.timeline(ctx, userID)
	if err != nil {
		return nil, err
	}
	return BuildCascade(timeline), nil
}

// Snapshot loads the timeline once and computes every insight concurrently.
func (s *Service) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	start := s.now()
	timeline, err := s.timeline(ctx, userID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{SessionCount: len(timeline), GeneratedAt: start}
	g, gCtx := errgroup.WithContext(ctx)
	run := func(fn func()) {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			fn()
			return nil
		})
	}
	run(func() { snap.TurningPoint = FindTurningPoint(timeline, "anxiety", TurningPointThreshold) })
	run(func() { snap.Correlations = FindCorrelations(timeline, 5) })
	run(func() { snap.ChallengePersistence = TrackChallenges(timeline, start) })
	run(func() { snap.FuturePrediction = PredictTopics(timeline) })
	run(func() { snap.CascadeMap = BuildCascade(timeline) })

	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Debug("[Insights] Snapshot computed",
		"user_id", userID,
		"sessions", len(timeline),
		"took", s.now().Sub(start),
	)
	return snap, nil
}
