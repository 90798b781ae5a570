package storage

import (
	"slices"
	"strings"
	"testing"
	"time"
)

func TestAudioKey(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"session.MP3", "audio/u1/s1/recording.mp3"},
		{"voice memo.m4a", "audio/u1/s1/recording.m4a"},
		{"noext", "audio/u1/s1/recording."},
	}
	for _, tc := range tests {
		if got := AudioKey("u1", "s1", tc.filename); got != tc.want {
			t.Errorf("AudioKey(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}

func TestResponseKeyIsOrderedAndScoped(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 0, 0, 5, time.UTC)
	first := ResponseKey("u1", "s1", at)
	second := ResponseKey("u1", "s1", at.Add(time.Millisecond))

	if !strings.HasPrefix(first, "responses/u1/s1/") || !strings.HasSuffix(first, ".json") {
		t.Fatalf("ResponseKey() = %q", first)
	}
	if first >= second {
		t.Fatalf("keys not ordered: %q >= %q", first, second)
	}

	prefixes := SessionPrefixes("u1", "s1")
	if !slices.ContainsFunc(prefixes, func(p string) bool { return strings.HasPrefix(first, p) }) {
		t.Fatalf("%q not under any of %v", first, prefixes)
	}
	if !strings.HasPrefix(AudioKey("u1", "s1", "a.wav"), prefixes[0]) {
		t.Fatalf("audio key not under %q", prefixes[0])
	}
}

func TestContentType(t *testing.T) {
	if got := contentType("responses/x.json"); got != "application/json" {
		t.Errorf("contentType(json) = %q", got)
	}
	if got := contentType("audio/x.unknownext"); got != "application/octet-stream" {
		t.Errorf("contentType(unknown) = %q", got)
	}
}

func TestExtension(t *testing.T) {
	for name, want := range map[string]string{"a.WAV": "wav", "b.tar.mp3": "mp3", "c": ""} {
		if got := Extension(name); got != want {
			t.Errorf("Extension(%q) = %q, want %q", name, got, want)
		}
	}
	for _, ext := range []string{"mp3", "wav", "m4a"} {
		if !slices.Contains(AudioExtensions, ext) {
			t.Errorf("%s not accepted", ext)
		}
	}
}
