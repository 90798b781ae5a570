package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/insight/backend/internal/util"
	"github.com/OFFIS-RIT/insight/backend/pkg/ai"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/insight/backend/pkg/store/memory"
)

const anxietyResponse = `{"emotions":[{"name":"Anxiety","intensity":4,"context":"deadline","topics":["Deadline"]}]}`

// reply is one scripted model answer. A hanging reply blocks until the
// call's context is done.
type reply struct {
	raw  string
	err  error
	hang bool
}

// fakeAI returns the scripted replies in order and repeats the last one.
type fakeAI struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	onCall  func()
}

func (f *fakeAI) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	f.mu.Lock()
	idx := min(f.calls, len(f.replies)-1)
	f.calls++
	r := f.replies[idx]
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if r.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.raw, r.err
}

func (f *fakeAI) GenerateAudioTranscription(ctx context.Context, audio []byte, filename, language string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeAI) ResetMetrics()               {}
func (f *fakeAI) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func (f *fakeAI) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func transient(reason error) error {
	return common.ExternalCallError(reason, errors.New("upstream"))
}

type fixture struct {
	store    *memory.Store
	ai       *fakeAI
	pipeline *SessionPipeline
	session  common.Session
}

func newFixture(t *testing.T, st PipelineStore, mem *memory.Store, replies ...reply) *fixture {
	t.Helper()
	if mem == nil {
		mem = memory.New()
	}
	if st == nil {
		st = mem
	}
	sess, err := mem.CreateSession(context.Background(), common.Session{
		UserID:      "u1",
		Title:       "Week 1",
		Transcript:  "Therapist: How are you?\nClient: I am anxious about the deadline.",
		SessionDate: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	fake := &fakeAI{replies: replies}
	p, err := NewSessionPipeline(NewSessionPipelineParams{
		Store:    st,
		AIClient: fake,
		Locker:   leaselock.NewLocal(),
		Backoff:  &util.BackoffOptions{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewSessionPipeline() error = %v", err)
	}
	return &fixture{store: mem, ai: fake, pipeline: p, session: sess}
}

func (f *fixture) run(ctx context.Context) Outcome {
	return f.pipeline.RunSessionAnalysis(ctx, Request{UserID: "u1", SessionID: f.session.ID})
}

func (f *fixture) status(t *testing.T) common.Session {
	t.Helper()
	sess, err := f.store.GetSession(context.Background(), "u1", f.session.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	return sess
}

func TestRunSessionAnalysisWritesGraph(t *testing.T) {
	f := newFixture(t, nil, nil, reply{raw: anxietyResponse})

	out := f.run(context.Background())
	if out.Status != common.StatusAnalyzed || out.Error != nil {
		t.Fatalf("outcome = %+v", out)
	}
	want := common.WriteCounts{ElementsCreated: 1, TopicsCreated: 1, EdgesCreated: 2}
	if out.Counts.Detail != want || out.Counts.Created != 2 || out.Counts.Matched != 0 {
		t.Fatalf("counts = %+v", out.Counts)
	}

	occ, err := f.store.GetSessionAnalysis(context.Background(), "u1", f.session.ID)
	if err != nil {
		t.Fatalf("GetSessionAnalysis() error = %v", err)
	}
	if len(occ) != 1 || occ[0].Name != "anxiety" || occ[0].Strength != 4 || occ[0].Topics[0] != "deadline" {
		t.Fatalf("occurrences = %+v", occ)
	}
	if s := f.status(t); s.Status != common.StatusAnalyzed || s.FailureReason != "" {
		t.Fatalf("session = %+v", s)
	}
}

func TestRunSessionAnalysisRetriesTransientErrors(t *testing.T) {
	f := newFixture(t, nil, nil,
		reply{err: transient(common.ErrRateLimited)},
		reply{raw: anxietyResponse},
	)

	out := f.run(context.Background())
	if out.Status != common.StatusAnalyzed {
		t.Fatalf("outcome = %+v", out)
	}
	if f.ai.Calls() != 2 {
		t.Fatalf("calls = %d, want 2", f.ai.Calls())
	}
	if out.Counts.Detail.ElementsCreated != 1 || out.Counts.Detail.TopicsCreated != 1 {
		t.Fatalf("counts = %+v", out.Counts)
	}
	nodes, _ := f.store.ListElements(context.Background(), "u1", "")
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(nodes))
	}
}

func TestRunSessionAnalysisRetriesTimedOutCall(t *testing.T) {
	t.Run("adapter deadline", func(t *testing.T) {
		f := newFixture(t, nil, nil,
			reply{err: ai.ClassifyError(context.DeadlineExceeded)},
			reply{raw: anxietyResponse},
		)
		out := f.run(context.Background())
		if out.Status != common.StatusAnalyzed || out.Error != nil {
			t.Fatalf("outcome = %+v", out)
		}
		if f.ai.Calls() != 2 {
			t.Fatalf("calls = %d, want 2", f.ai.Calls())
		}
	})

	t.Run("call exceeds attempt timeout", func(t *testing.T) {
		f := newFixture(t, nil, nil,
			reply{hang: true},
			reply{raw: anxietyResponse},
		)
		f.pipeline.attemptTimeout = 20 * time.Millisecond

		out := f.run(context.Background())
		if out.Status != common.StatusAnalyzed || out.Error != nil {
			t.Fatalf("outcome = %+v", out)
		}
		if f.ai.Calls() != 2 {
			t.Fatalf("calls = %d, want 2", f.ai.Calls())
		}
	})

	t.Run("every call hangs", func(t *testing.T) {
		f := newFixture(t, nil, nil, reply{hang: true})
		f.pipeline.attemptTimeout = 10 * time.Millisecond

		out := f.run(context.Background())
		if out.Status != common.StatusFailed || out.Error.Category != common.CategoryExternalCallFailed {
			t.Fatalf("outcome = %+v", out)
		}
		if f.ai.Calls() != 3 {
			t.Fatalf("calls = %d, want 3", f.ai.Calls())
		}
		if s := f.status(t); !strings.Contains(s.FailureReason, "timeout") {
			t.Fatalf("failure reason = %q", s.FailureReason)
		}
	})
}

func TestRunSessionAnalysisMalformedResponse(t *testing.T) {
	t.Run("second response valid", func(t *testing.T) {
		f := newFixture(t, nil, nil,
			reply{raw: "not valid json at all"},
			reply{raw: anxietyResponse},
		)
		out := f.run(context.Background())
		if out.Status != common.StatusAnalyzed {
			t.Fatalf("outcome = %+v", out)
		}
		if f.ai.Calls() != 2 {
			t.Fatalf("calls = %d, want 2", f.ai.Calls())
		}
	})

	t.Run("second response malformed", func(t *testing.T) {
		f := newFixture(t, nil, nil, reply{raw: "not valid json at all"})
		out := f.run(context.Background())
		if out.Status != common.StatusFailed || out.Error.Category != common.CategoryMalformedResponse {
			t.Fatalf("outcome = %+v", out)
		}
		if f.ai.Calls() != 2 {
			t.Fatalf("calls = %d, want 2", f.ai.Calls())
		}
		s := f.status(t)
		if s.Status != common.StatusFailed || !strings.HasPrefix(s.FailureReason, "MalformedAnalysisResponse: ") {
			t.Fatalf("session = %+v", s)
		}
	})
}

func TestRunSessionAnalysisRetryBounds(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{"timeout", transient(common.ErrTimeout), 3},
		{"rate limited", transient(common.ErrRateLimited), 3},
		{"service error", transient(common.ErrServiceError), 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil, nil, reply{err: tc.err})
			out := f.run(context.Background())
			if out.Status != common.StatusFailed || out.Error.Category != common.CategoryExternalCallFailed {
				t.Fatalf("outcome = %+v", out)
			}
			if f.ai.Calls() != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", f.ai.Calls(), tc.wantCalls)
			}
			if s := f.status(t); !strings.HasPrefix(s.FailureReason, "ExternalCallFailed: ") {
				t.Fatalf("failure reason = %q", s.FailureReason)
			}
		})
	}
}

func TestRunSessionAnalysisGraphWriteNotRetried(t *testing.T) {
	mem := memory.New()
	var writes atomic.Int32
	mem.SetFailpoint(func(step string) error {
		if step == memory.StepTopics {
			writes.Add(1)
			return errors.New("connection reset")
		}
		return nil
	})
	f := newFixture(t, nil, mem, reply{raw: anxietyResponse})

	out := f.run(context.Background())
	if out.Status != common.StatusFailed || out.Error.Category != common.CategoryGraphWriteFailed {
		t.Fatalf("outcome = %+v", out)
	}
	if writes.Load() != 1 || f.ai.Calls() != 1 {
		t.Fatalf("writes = %d calls = %d, want 1 each", writes.Load(), f.ai.Calls())
	}
	if nodes, _ := mem.ListElements(context.Background(), "u1", ""); len(nodes) != 0 {
		t.Fatalf("failed write left %d nodes", len(nodes))
	}
	s := f.status(t)
	if s.Status != common.StatusFailed || !strings.HasPrefix(s.FailureReason, "GraphWriteFailed: ") {
		t.Fatalf("session = %+v", s)
	}
}

func TestRunSessionAnalysisCancelledBeforeWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, nil, nil, reply{raw: anxietyResponse})
	f.ai.onCall = cancel

	out := f.run(ctx)
	if out.Status != common.StatusFailed || out.Error.Category != common.CategoryCancelled {
		t.Fatalf("outcome = %+v", out)
	}
	if nodes, _ := f.store.ListElements(context.Background(), "u1", ""); len(nodes) != 0 {
		t.Fatalf("cancelled run wrote %d nodes", len(nodes))
	}
	s := f.status(t)
	if s.Status != common.StatusFailed || !strings.HasPrefix(s.FailureReason, "Cancelled: ") {
		t.Fatalf("session = %+v", s)
	}
}

func TestRunSessionAnalysisInvalidInput(t *testing.T) {
	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t, nil, nil, reply{raw: anxietyResponse})
		out := f.pipeline.RunSessionAnalysis(context.Background(), Request{UserID: "u1", SessionID: "missing"})
		if out.Error == nil || out.Error.Category != common.CategoryInvalidInput {
			t.Fatalf("outcome = %+v", out)
		}
		if f.ai.Calls() != 0 {
			t.Fatalf("calls = %d, want 0", f.ai.Calls())
		}
	})

	t.Run("other user", func(t *testing.T) {
		f := newFixture(t, nil, nil, reply{raw: anxietyResponse})
		out := f.pipeline.RunSessionAnalysis(context.Background(), Request{UserID: "u2", SessionID: f.session.ID})
		if out.Error == nil || out.Error.Category != common.CategoryInvalidInput {
			t.Fatalf("outcome = %+v", out)
		}
		if s := f.status(t); s.Status != common.StatusCreated {
			t.Fatalf("foreign run changed session to %s", s.Status)
		}
	})

	t.Run("blank transcript", func(t *testing.T) {
		f := newFixture(t, nil, nil, reply{raw: anxietyResponse})
		out := f.pipeline.RunSessionAnalysis(context.Background(), Request{
			UserID:     "u1",
			SessionID:  f.session.ID,
			Transcript: "   ",
		})
		if out.Error == nil || out.Error.Category != common.CategoryInvalidInput || f.ai.Calls() != 0 {
			t.Fatalf("outcome = %+v calls = %d", out, f.ai.Calls())
		}
		if s := f.status(t); s.Status != common.StatusFailed {
			t.Fatalf("session status = %s, want failed", s.Status)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		f := newFixture(t, nil, nil, reply{raw: anxietyResponse})
		out := f.pipeline.RunSessionAnalysis(context.Background(), Request{
			UserID:       "u1",
			SessionID:    f.session.ID,
			EnabledKinds: []common.ElementKind{"mood"},
		})
		if out.Error == nil || out.Error.Category != common.CategoryInvalidInput || f.ai.Calls() != 0 {
			t.Fatalf("outcome = %+v calls = %d", out, f.ai.Calls())
		}
		if s := f.status(t); s.Status != common.StatusFailed || !strings.HasPrefix(s.FailureReason, "InvalidInput: ") {
			t.Fatalf("session = %+v", s)
		}
	})
}

// countingStore tracks how many graph writes run at the same time.
type countingStore struct {
	*memory.Store
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (c *countingStore) WriteSessionAnalysis(
	ctx context.Context,
	userID, sessionID string,
	result common.AnalysisResult,
	at time.Time,
) (common.WriteCounts, error) {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return c.Store.WriteSessionAnalysis(ctx, userID, sessionID, result, at)
}

func TestRunSessionAnalysisConcurrentSameSession(t *testing.T) {
	mem := memory.New()
	counting := &countingStore{Store: mem}
	f := newFixture(t, counting, mem, reply{raw: anxietyResponse})

	const runs = 8
	outcomes := make([]Outcome, runs)
	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = f.run(context.Background())
		}()
	}
	wg.Wait()

	created := 0
	for i, out := range outcomes {
		if out.Status != common.StatusAnalyzed {
			t.Fatalf("run %d outcome = %+v", i, out)
		}
		created += out.Counts.Detail.ElementsCreated
	}
	if created != 1 {
		t.Fatalf("elements created across runs = %d, want 1", created)
	}
	if counting.maxSeen.Load() != 1 {
		t.Fatalf("max concurrent writes = %d, want 1", counting.maxSeen.Load())
	}
	nodes, _ := mem.ListElements(context.Background(), "u1", "")
	if len(nodes) != 1 || nodes[0].Occurrences != 1 {
		t.Fatalf("nodes = %+v", nodes)
	}
}

func TestFailureReason(t *testing.T) {
	err := common.ExternalCallError(common.ErrTimeout, errors.New("deadline"))
	got := FailureReason(err)
	if !strings.HasPrefix(got, "ExternalCallFailed: ") || !strings.Contains(got, "deadline") {
		t.Fatalf("FailureReason() = %q", got)
	}
}
