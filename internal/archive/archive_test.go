package archive

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/comfort-companion/internal/domain"
)

func readLines(t *testing.T, path string) []record {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var out []record
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var r record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("failed to unmarshal log line %q: %v", line, err)
		}
		out = append(out, r)
	}
	return out
}

func TestArchiveWritesDailyNDJSON(t *testing.T) {
	dir := t.TempDir()
	a, err := New(Config{Dir: dir, QueueSize: 16}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	a.Record(domain.TranscriptEntry{Speaker: domain.SpeakerPatient, Text: "good morning", Timestamp: day1})
	a.Record(domain.TranscriptEntry{Speaker: domain.SpeakerCompanion, Text: "hello Rose", Timestamp: day1.Add(time.Second)})
	a.Record(domain.TranscriptEntry{Speaker: domain.SpeakerSystem, Text: "Session ended", Timestamp: day2})

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	first := readLines(t, a.PathFor(day1))
	if len(first) != 2 {
		t.Fatalf("expected 2 lines for day 1, got %d", len(first))
	}
	if first[0].Speaker != domain.SpeakerPatient || first[1].Text != "hello Rose" {
		t.Fatalf("unexpected day 1 records: %+v", first)
	}
	second := readLines(t, a.PathFor(day2))
	if len(second) != 1 || second[0].Speaker != domain.SpeakerSystem {
		t.Fatalf("unexpected day 2 records: %+v", second)
	}
	if got := a.Stats(); got.Written != 3 || got.Dropped != 0 {
		t.Fatalf("unexpected stats: %+v", got)
	}
}

func TestArchiveRecordAfterCloseIsNoop(t *testing.T) {
	a, err := New(Config{Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	a.Record(domain.TranscriptEntry{Speaker: domain.SpeakerPatient, Text: "late"})
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := a.Stats(); got.Written != 0 {
		t.Fatalf("expected nothing written, got %+v", got)
	}
}

func TestNewRequiresDir(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatal("expected error for empty directory")
	}
}
