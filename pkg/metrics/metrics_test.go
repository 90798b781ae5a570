package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveExternalCall(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome string
	}{
		{"ok", nil, "ok"},
		{"rate limited", common.ExternalCallError(common.ErrRateLimited, errors.New("429")), "transient"},
		{"service", common.ExternalCallError(common.ErrServiceError, errors.New("500")), string(common.CategoryExternalCallFailed)},
		{"malformed", fmt.Errorf("%w: no object", common.ErrMalformedResponse), string(common.CategoryMalformedResponse)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			before := testutil.ToFloat64(externalCalls.WithLabelValues(tc.outcome))
			ObserveExternalCall(tc.err)
			after := testutil.ToFloat64(externalCalls.WithLabelValues(tc.outcome))
			if after-before != 1 {
				t.Fatalf("counter %q moved by %v, want 1", tc.outcome, after-before)
			}
		})
	}
}

func TestObserveWrite(t *testing.T) {
	before := testutil.ToFloat64(graphWrites.WithLabelValues("edge", "matched"))
	ObserveWrite(common.WriteCounts{EdgesMatched: 2, ElementsCreated: 1})
	if got := testutil.ToFloat64(graphWrites.WithLabelValues("edge", "matched")) - before; got != 2 {
		t.Fatalf("edge matched moved by %v, want 2", got)
	}
}

func TestObserveRun(t *testing.T) {
	before := testutil.ToFloat64(runsTotal.WithLabelValues("failed", "GraphWriteFailed"))
	ObserveRun(common.StatusFailed, common.CategoryGraphWriteFailed, time.Second)
	if got := testutil.ToFloat64(runsTotal.WithLabelValues("failed", "GraphWriteFailed")) - before; got != 1 {
		t.Fatalf("runs moved by %v, want 1", got)
	}
}
