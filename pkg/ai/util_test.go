package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"
)

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "valid json object",
			input: `{"name":"John"}`,
			want:  "John",
		},
		{
			name:  "unquoted key and single quotes",
			input: `{name: 'John'}`,
			want:  "John",
		},
		{
			name:  "trailing comma",
			input: `{"name":"John",}`,
			want:  "John",
		},
		{
			name:  "missing endbracket",
			input: `{"name":"John"`,
			want:  "John",
		},
		{
			name:  "code fence",
			input: "```json\n{\"name\":\"John\"}\n```",
			want:  "John",
		},
		{
			name:  "surrounding prose",
			input: "Sure! Here you go: {\"name\":\"John\"} Hope this helps.",
			want:  "John",
		},
		{
			name:  "duplicate leading brace",
			input: "{\n{\n  \"name\": \"John\"\n}\n",
			want:  "John",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repaired, err := RepairJSON(tc.input)
			if err != nil {
				t.Fatalf("RepairJSON() error = %v", err)
			}
			var got struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal([]byte(repaired), &got); err != nil {
				t.Fatalf("repaired output %q is not valid json: %v", repaired, err)
			}
			if got.Name != tc.want {
				t.Fatalf("name = %q, want %q", got.Name, tc.want)
			}
		})
	}
}

func TestRepairJSON_NoObject(t *testing.T) {
	for _, input := range []string{"hello", "", "not valid json at all", "[1,2,3]"} {
		if _, err := RepairJSON(input); err == nil {
			t.Fatalf("RepairJSON(%q) expected error", input)
		}
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := map[string]string{
		"```json\n{}\n```": "{}",
		"```\n{}```":       "{}",
		"  {}  ":           "{}",
		"```":              "",
	}
	for in, want := range tests {
		if got := StripCodeFences(in); got != want {
			t.Errorf("StripCodeFences(%q) = %q, want %q", in, got, want)
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name      string
		err       error
		want      error
		transient bool
	}{
		{"rate limited", ClassifyStatus(http.StatusTooManyRequests, cause), common.ErrRateLimited, true},
		{"gateway timeout", ClassifyStatus(http.StatusGatewayTimeout, cause), common.ErrTimeout, true},
		{"bad request", ClassifyStatus(http.StatusBadRequest, cause), common.ErrServiceError, false},
		{"deadline", ClassifyError(context.DeadlineExceeded), common.ErrTimeout, true},
		{"net timeout", ClassifyError(fmt.Errorf("dial: %w", timeoutErr{})), common.ErrTimeout, true},
		{"other", ClassifyError(cause), common.ErrServiceError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) || !errors.Is(tt.err, common.ErrExternalCall) {
				t.Fatalf("error = %v, want %v", tt.err, tt.want)
			}
			if common.IsTransient(tt.err) != tt.transient {
				t.Fatalf("IsTransient = %v, want %v", !tt.transient, tt.transient)
			}
			if common.CategoryOf(tt.err) != common.CategoryExternalCallFailed {
				t.Fatalf("category = %s", common.CategoryOf(tt.err))
			}
		})
	}

	if err := ClassifyError(context.Canceled); !errors.Is(err, context.Canceled) || errors.Is(err, common.ErrExternalCall) {
		t.Fatalf("cancellation must pass through, got %v", err)
	}
	once := ClassifyStatus(http.StatusTooManyRequests, cause)
	if ClassifyError(once) != once {
		t.Fatal("classified errors must not be wrapped twice")
	}
}
