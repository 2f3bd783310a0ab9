package normalize

import (
	"strings"
	"testing"
)

func TestCleanBasic(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "My Python Script FAILS", "my python script fails"},
		{"url stripped", "see https://example.com/fix for details", "see for details"},
		{"www stripped", "check www.example.com now", "check now"},
		{"subreddit stripped", "posted on r/learnpython yesterday", "posted on yesterday"},
		{"markdown stripped", "this is **really** broken `code`", "this is broken code"},
		{"bangs collapsed", "it crashes!!!", "it crashes."},
		{"whitespace collapsed", "too   many\n\nspaces", "too many spaces"},
		{"filler phrase", "anyone else seeing this crash", "seeing this crash"},
		{"filler words", "why is this so damn slow", "is this slow"},
		{"filler phrase before words", "please help me fix this bug", "me fix this bug"},
		{"empty", "", ""},
		{"only filler", "ugh argh", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanKeepsHashToken(t *testing.T) {
	got := Clean("my c# service deadlocks")
	if got != "my c# service deadlocks" {
		t.Errorf("c# token mangled: %q", got)
	}
}

func TestCleanIdempotent(t *testing.T) {
	inputs := []string{
		"Why is my Python script SO slow??? https://example.com r/learnpython",
		"please help me, my **docker** container keeps crashing!!",
		"already clean text about kubernetes pods",
	}
	for _, in := range inputs {
		once := Clean(in)
		twice := Clean(once)
		if once != twice {
			t.Errorf("Clean not idempotent:\n once=%q\ntwice=%q", once, twice)
		}
	}
}

func TestCleanWithLimitWordBoundary(t *testing.T) {
	in := strings.Repeat("word ", 50)
	got := CleanWithLimit(in, 23)
	if len([]rune(got)) > 23 {
		t.Fatalf("exceeded limit: %d runes", len([]rune(got)))
	}
	if strings.HasSuffix(got, " ") || strings.Contains(got, "wor d") {
		t.Fatalf("bad boundary: %q", got)
	}
	// Never cut mid-word.
	for _, w := range strings.Fields(got) {
		if w != "word" {
			t.Fatalf("word split by truncation: %q", got)
		}
	}
}

func TestCleanLongInputTruncated(t *testing.T) {
	in := strings.Repeat("database timeout errors in production ", 100)
	got := Clean(in)
	if n := len([]rune(got)); n > MaxCleanLen {
		t.Fatalf("cleaned length %d exceeds limit %d", n, MaxCleanLen)
	}
}

func TestCleanStripsEmoji(t *testing.T) {
	got := Clean("server is down \U0001F525\U0001F525 again")
	if got != "server is down again" {
		t.Errorf("emoji not stripped: %q", got)
	}
}
