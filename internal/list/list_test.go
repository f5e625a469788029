package list

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeListConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".toml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadList(t *testing.T) {
	dir := t.TempDir()
	writeListConfig(t, dir, "dev", `
host = "lists.example.com"
subject_prefix = "[Dev] "
archive = true
verp = true

[[header_filters]]
header = "X-Spam-Flag"
pattern = "^yes"
action = "hold"
`)

	s := NewStore(dir)
	l, err := s.Get("dev")
	if err != nil {
		t.Fatalf("Error loading list: %v", err)
	}
	if l.PostingAddress() != "dev@lists.example.com" {
		t.Errorf("Unexpected posting address %q", l.PostingAddress())
	}
	if l.BounceAddress() != "dev-bounces@lists.example.com" {
		t.Errorf("Unexpected bounce address %q", l.BounceAddress())
	}
	ops := l.OperationalAddresses()
	if len(ops) != 4 {
		t.Fatalf("Expected 4 operational addresses, got %d", len(ops))
	}

	if len(l.HeaderFilters) != 1 {
		t.Fatalf("Expected 1 header filter, got %d", len(l.HeaderFilters))
	}
	if !l.HeaderFilters[0].Matches("YES, spam score 9.1") {
		t.Error("Header filter should match case-insensitively")
	}
	if l.HeaderFilters[0].Matches("no") {
		t.Error("Header filter matched non-matching value")
	}
}

func TestUnknownList(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Get("nope")
	if !errors.Is(err, ErrUnknownList) {
		t.Fatalf("Expected ErrUnknownList, got %v", err)
	}
}

func TestPipelineResolutionIsStable(t *testing.T) {
	dir := t.TempDir()
	writeListConfig(t, dir, "dev", `
host = "lists.example.com"

[pipelines]
posting = ["cleanse", "cook-headers", "to-outgoing"]
`)
	s := NewStore(dir)
	l, err := s.Get("dev")
	if err != nil {
		t.Fatal(err)
	}
	first := l.PipelineFor("posting")
	second := l.PipelineFor("posting")
	if len(first) != 3 || first[0] != "cleanse" {
		t.Fatalf("Unexpected pipeline %v", first)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatal("Pipeline resolution not stable within a run")
		}
	}
	if got := l.PipelineFor("unconfigured-class"); len(got) != len(DefaultPostingPipeline) {
		t.Errorf("Expected default pipeline for unknown class, got %v", got)
	}
}

func TestInvalidFilterActionFailsLoad(t *testing.T) {
	dir := t.TempDir()
	writeListConfig(t, dir, "dev", `
host = "lists.example.com"

[[header_filters]]
header = "Subject"
pattern = "viagra"
action = "explode"
`)
	if _, err := NewStore(dir).Get("dev"); err == nil {
		t.Fatal("Expected invalid filter action to fail load")
	}
}

func TestBadFilterPatternFailsLoad(t *testing.T) {
	dir := t.TempDir()
	writeListConfig(t, dir, "dev", `
host = "lists.example.com"

[[header_filters]]
header = "Subject"
pattern = "("
action = "hold"
`)
	if _, err := NewStore(dir).Get("dev"); err == nil {
		t.Fatal("Expected invalid pattern to fail load")
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	writeListConfig(t, dir, "dev", "host = \"a.example.com\"\n")
	s := NewStore(dir)
	l, err := s.Get("dev")
	if err != nil {
		t.Fatal(err)
	}
	if l.Host != "a.example.com" {
		t.Fatal("unexpected host")
	}

	writeListConfig(t, dir, "dev", "host = \"b.example.com\"\n")
	if l, _ = s.Get("dev"); l.Host != "a.example.com" {
		t.Error("Get must serve the cached config until Reload")
	}
	s.Reload()
	if l, _ = s.Get("dev"); l.Host != "b.example.com" {
		t.Error("Reload did not pick up new config")
	}
}
