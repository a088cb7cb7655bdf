package ui

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, true, "Type", "Model", "Relationships")
	table.AddRow("post", "Post", "author, tags")
	table.AddRow("user", "User")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), buf.String())
	}
	if lines[0] != "Type  Model  Relationships" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if lines[1] != "────  ─────  ─────────────" {
		t.Errorf("unexpected rule %q", lines[1])
	}
	if lines[2] != "post  Post   author, tags" {
		t.Errorf("unexpected row %q", lines[2])
	}
	if lines[3] != "user  User   " {
		t.Errorf("unexpected short row %q", lines[3])
	}
}

func TestTable_NoHeaders(t *testing.T) {
	var buf bytes.Buffer
	NewTable(&buf, true).Render()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestKeyValues(t *testing.T) {
	var buf bytes.Buffer
	KeyValues(&buf, true, [2]string{"Version", "dev"}, [2]string{"Go", "go1.23"})

	want := "Version: dev\nGo:      go1.23\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestWriteProblem(t *testing.T) {
	var buf bytes.Buffer
	WriteProblem(&buf, Problem{
		Context:     "model not found",
		Message:     `Cannot find model "Pst"`,
		Suggestions: []string{"Post"},
		Hints:       []string{"restful models"},
	}, true)

	want := "✗ MODEL NOT FOUND: Cannot find model \"Pst\"\n   Did you mean: Post?\n   → restful models\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestWriteSuccessAndWarning(t *testing.T) {
	var buf bytes.Buffer
	WriteSuccess(&buf, true, "wrote %s", "restful.yaml")
	WriteWarning(&buf, true, "model %s is skipped", "Membership")

	want := "✓ wrote restful.yaml\n! model Membership is skipped\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestSuggest(t *testing.T) {
	candidates := []string{"Post", "User", "Profile", "Comment", "Tag"}

	tests := []struct {
		target string
		want   []string
	}{
		{"Pst", []string{"Post"}},
		{"user", []string{"User"}},
		{"xyzzyq", []string{}},
		{"Tg", []string{"Tag"}},
	}
	for _, tt := range tests {
		got := Suggest(tt.target, candidates)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Suggest(%q) = %v, want %v", tt.target, got, tt.want)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"saturday", "sunday", 3},
		{"same", "same", 0},
		{"héllo", "hello", 1},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
