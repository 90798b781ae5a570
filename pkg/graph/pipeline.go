package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/insight/backend/internal/util"
	"github.com/OFFIS-RIT/insight/backend/pkg/ai"
	"github.com/OFFIS-RIT/insight/backend/pkg/analysis"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"
	"github.com/OFFIS-RIT/insight/backend/pkg/metrics"
	"github.com/OFFIS-RIT/insight/backend/pkg/store"
)

// PipelineStore is the part of the graph storage the pipeline needs.
type PipelineStore interface {
	store.SessionStorage
	store.GraphWriter
}

// ResponseArchive keeps raw model responses for later inspection.
type ResponseArchive interface {
	ArchiveResponse(ctx context.Context, userID, sessionID string, raw []byte) error
}

// Request starts the analysis of one session. An empty Transcript analyzes
// the stored transcript; empty EnabledKinds enables all kinds.
type Request struct {
	UserID       string
	SessionID    string
	Transcript   string
	EnabledKinds []common.ElementKind
}

type Counts struct {
	Created int                `json:"created"`
	Matched int                `json:"matched"`
	Detail  common.WriteCounts `json:"detail"`
}

type OutcomeError struct {
	Category common.ErrorCategory `json:"category"`
	Message  string               `json:"message"`
}

// Outcome is the result of a pipeline run. Error is nil on success.
type Outcome struct {
	Status  common.SessionStatus `json:"status"`
	Counts  Counts               `json:"counts"`
	Dropped int                  `json:"dropped"`
	Error   *OutcomeError        `json:"error,omitempty"`
}

// Err returns the failure as an error, or nil.
func (o Outcome) Err() error {
	if o.Error == nil {
		return nil
	}
	return fmt.Errorf("%s: %s", o.Error.Category, o.Error.Message)
}

// SessionPipeline drives a session from created to analyzed or failed.
//
// A SessionPipeline should be created using NewSessionPipeline. It is safe
// for concurrent use; runs for the same session are serialized by the lease
// lock around the graph write.
type SessionPipeline struct {
	store          PipelineStore
	aiClient       ai.AnalysisAIClient
	builder        *analysis.PromptBuilder
	parser         *analysis.Parser
	locker         leaselock.Locker
	archive        ResponseArchive
	backoff        util.BackoffOptions
	lockTTL        time.Duration
	attemptTimeout time.Duration
	now            func() time.Time
}

// NewSessionPipelineParams configures a SessionPipeline.
//
// MaxAttempts bounds the calls per model invocation for timeouts and rate
// limits and defaults to 3. Backoff overrides the delays between those
// calls. AttemptTimeout bounds each call and defaults to 2 minutes; a call
// that runs out of time counts as a timeout. Archive is optional.
type NewSessionPipelineParams struct {
	Store          PipelineStore
	AIClient       ai.AnalysisAIClient
	PromptBuilder  *analysis.PromptBuilder
	Parser         *analysis.Parser
	Locker         leaselock.Locker
	Archive        ResponseArchive
	MaxAttempts    int
	Backoff        *util.BackoffOptions
	LockTTL        time.Duration
	AttemptTimeout time.Duration
}

// NewSessionPipeline creates a pipeline from params.
//
// Example:
//
//	pipeline, err := graph.NewSessionPipeline(graph.NewSessionPipelineParams{
//		Store:    graphStore,
//		AIClient: aiClient,
//		Locker:   leaselock.NewLocal(),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	outcome := pipeline.RunSessionAnalysis(ctx, graph.Request{UserID: uid, SessionID: sid})
func NewSessionPipeline(params NewSessionPipelineParams) (*SessionPipeline, error) {
	if params.Store == nil {
		return nil, errors.New("session pipeline: store is required")
	}
	if params.AIClient == nil {
		return nil, errors.New("session pipeline: ai client is required")
	}
	if params.Locker == nil {
		return nil, errors.New("session pipeline: locker is required")
	}

	builder := params.PromptBuilder
	if builder == nil {
		builder = analysis.NewPromptBuilder(analysis.NewPromptBuilderParams{})
	}
	parser := params.Parser
	if parser == nil {
		parser = analysis.NewParser(nil)
	}

	backoff := util.BackoffOptions{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
	}
	if params.Backoff != nil {
		backoff = *params.Backoff
	}
	backoff.MaxAttempts = params.MaxAttempts
	if backoff.MaxAttempts <= 0 {
		backoff.MaxAttempts = 3
	}

	lockTTL := params.LockTTL
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}

	attemptTimeout := params.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = 2 * time.Minute
	}

	return &SessionPipeline{
		store:    params.Store,
		aiClient: params.AIClient,
		builder:  builder,
		parser:   parser,
		locker:   params.Locker,
		archive:  params.Archive,
		backoff:  backoff,
		lockTTL:  lockTTL,

		attemptTimeout: attemptTimeout,
		now:            time.Now,
	}, nil
}

// RunSessionAnalysis analyzes one session and persists the result. Every
// hard failure is recorded on the session as "<Category>: <message>" and
// returned in the outcome.
func (p *SessionPipeline) RunSessionAnalysis(ctx context.Context, req Request) Outcome {
	start := p.now()
	outcome := p.run(ctx, req)

	category := common.CategoryNone
	if outcome.Error != nil {
		category = outcome.Error.Category
	}
	metrics.ObserveRun(outcome.Status, category, p.now().Sub(start))
	return outcome
}

func (p *SessionPipeline) run(ctx context.Context, req Request) Outcome {
	sess, err := p.store.GetSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return failedOutcome(fmt.Errorf("%w: session not found", common.ErrInvalidInput), 0)
		}
		return failedOutcome(err, 0)
	}

	transcript := req.Transcript
	if transcript == "" {
		transcript = sess.Transcript
	}
	prompt, err := p.builder.Build(transcript, req.EnabledKinds)
	if err != nil {
		return p.fail(ctx, req, err, 0)
	}

	if err := p.store.UpdateSessionStatus(ctx, req.UserID, req.SessionID, common.StatusAnalyzing, ""); err != nil {
		return p.fail(ctx, req, err, 0)
	}
	logger.Info("[Pipeline] Analyzing session", "session_id", req.SessionID, "user_id", req.UserID)

	result, err := p.analyze(ctx, req, prompt)
	if err != nil {
		return p.fail(ctx, req, err, 0)
	}
	dropped := result.Dropped()

	if err := ctx.Err(); err != nil {
		return p.fail(ctx, req, cancelled(ctx), dropped)
	}

	var counts common.WriteCounts
	lockOpts := leaselock.Options{TTL: p.lockTTL, Wait: true}
	err = p.locker.WithLease(ctx, "session:"+req.SessionID, lockOpts, func(lctx context.Context) error {
		if ctx.Err() != nil {
			return cancelled(ctx)
		}
		c, err := p.store.WriteSessionAnalysis(lctx, req.UserID, req.SessionID, result, p.now())
		if err != nil {
			return fmt.Errorf("%w: %w", common.ErrGraphWrite, err)
		}
		counts = c
		return nil
	})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, common.ErrGraphWrite) {
			err = cancelled(ctx)
		} else if !errors.Is(err, common.ErrGraphWrite) && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: session lock: %w", common.ErrGraphWrite, err)
		}
		return p.fail(ctx, req, err, dropped)
	}

	metrics.ObserveWrite(counts)
	logger.Info("[Pipeline] Session analyzed",
		"session_id", req.SessionID,
		"created", counts.Created(),
		"matched", counts.Matched(),
		"dropped", dropped,
	)
	return Outcome{
		Status: common.StatusAnalyzed,
		Counts: Counts{
			Created: counts.Created(),
			Matched: counts.Matched(),
			Detail:  counts,
		},
		Dropped: dropped,
	}
}

// analyze calls the model and parses the response. A malformed response
// re-invokes the model once.
func (p *SessionPipeline) analyze(ctx context.Context, req Request, prompt string) (common.AnalysisResult, error) {
	raw, err := p.complete(ctx, prompt)
	if err != nil {
		return common.AnalysisResult{}, err
	}
	p.archiveResponse(ctx, req, raw)

	result, err := p.parser.Parse(raw, req.EnabledKinds)
	if errors.Is(err, common.ErrMalformedResponse) {
		logger.Warn("[Pipeline] Malformed response, asking again",
			"session_id", req.SessionID,
			"excerpt", util.Excerpt(raw, 200),
		)
		raw, err = p.complete(ctx, prompt)
		if err != nil {
			return common.AnalysisResult{}, err
		}
		p.archiveResponse(ctx, req, raw)
		result, err = p.parser.Parse(raw, req.EnabledKinds)
	}
	if err != nil {
		return common.AnalysisResult{}, err
	}

	for _, d := range result.Diagnostics {
		logger.Warn("[Parser] Dropped element",
			"session_id", req.SessionID,
			"kind", d.Kind,
			"index", d.Index,
			"reason", d.Reason,
		)
	}
	metrics.ObserveDropped(result.Dropped())
	return result, nil
}

// complete is one model invocation: a bounded retry loop over timeouts and
// rate limits.
func (p *SessionPipeline) complete(ctx context.Context, prompt string) (string, error) {
	return util.RetryWithBackoff(ctx, p.backoff, common.IsTransient, func(ctx context.Context) (string, error) {
		actx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()

		raw, err := p.aiClient.GenerateCompletion(
			actx,
			prompt,
			ai.WithSystemPrompts(ai.AnalysisSystemPrompt),
			ai.WithJSONMode(),
		)
		if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !common.IsTransient(err) {
			err = common.ExternalCallError(common.ErrTimeout, err)
		}
		metrics.ObserveExternalCall(err)
		if err != nil {
			if common.IsTransient(err) {
				logger.Warn("[Pipeline] Transient model error", "err", err)
			}
			return "", err
		}
		return raw, nil
	})
}

func (p *SessionPipeline) archiveResponse(ctx context.Context, req Request, raw string) {
	if p.archive == nil {
		return
	}
	if err := p.archive.ArchiveResponse(ctx, req.UserID, req.SessionID, []byte(raw)); err != nil {
		logger.Warn("[Pipeline] Failed to archive response", "session_id", req.SessionID, "err", err)
	}
}

// fail marks the session failed. The status update ignores cancellation of
// ctx so that cancelled runs are recorded too.
func (p *SessionPipeline) fail(ctx context.Context, req Request, err error, dropped int) Outcome {
	outcome := failedOutcome(err, dropped)
	reason := FailureReason(err)

	if uerr := p.store.UpdateSessionStatus(context.WithoutCancel(ctx), req.UserID, req.SessionID, common.StatusFailed, reason); uerr != nil {
		logger.Error("[Pipeline] Failed to mark session failed", "session_id", req.SessionID, "err", uerr)
	}
	logger.Error("[Pipeline] Session analysis failed",
		"session_id", req.SessionID,
		"category", outcome.Error.Category,
		"err", err,
	)
	return outcome
}

func failedOutcome(err error, dropped int) Outcome {
	return Outcome{
		Status:  common.StatusFailed,
		Dropped: dropped,
		Error: &OutcomeError{
			Category: common.CategoryOf(err),
			Message:  err.Error(),
		},
	}
}

// FailureReason formats err as stored on a failed session.
func FailureReason(err error) string {
	return fmt.Sprintf("%s: %s", common.CategoryOf(err), err.Error())
}

func cancelled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, context.Canceled) {
		return fmt.Errorf("%w: analysis stopped before the graph write", context.Canceled)
	}
	return fmt.Errorf("%w: %w", context.Canceled, cause)
}
