package domain

import (
	"testing"
	"time"
)

func TestRollingAverageHalvesFromZero(t *testing.T) {
	t.Parallel()

	tests := []struct {
		current, sample, want float64
	}{
		{0, 100, 50},
		{50, 200, 125},
		{125, 75, 100},
		{4, 4, 4},
	}
	for _, tt := range tests {
		if got := RollingAverage(tt.current, tt.sample); got != tt.want {
			t.Errorf("RollingAverage(%v, %v) = %v, want %v", tt.current, tt.sample, got, tt.want)
		}
	}
}

func TestRollingAverageIsOrderDependent(t *testing.T) {
	t.Parallel()

	a := RollingAverage(RollingAverage(RollingAverage(0, 10), 20), 30)
	b := RollingAverage(RollingAverage(RollingAverage(0, 30), 20), 10)
	if a == b {
		t.Fatalf("expected recency weighting to differ by order, both %v", a)
	}
}

func TestTechnicalContextIsEmpty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  *TechnicalContext
		want bool
	}{
		{"nil", nil, true},
		{"zero", &TechnicalContext{}, true},
		{"blank fields", &TechnicalContext{Architecture: "  ", Technologies: []string{"", " "}}, true},
		{"technology", &TechnicalContext{Technologies: []string{"kubernetes"}}, false},
		{"error logs", &TechnicalContext{ErrorLogs: "panic: boom"}, false},
	}
	for _, tt := range tests {
		if got := tt.ctx.IsEmpty(); got != tt.want {
			t.Errorf("%s: IsEmpty() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTailTurns(t *testing.T) {
	t.Parallel()

	turns := []Turn{{Content: "a"}, {Content: "b"}, {Content: "c"}}
	if got := TailTurns(turns, 2); len(got) != 2 || got[0].Content != "b" {
		t.Fatalf("unexpected tail: %+v", got)
	}
	if got := TailTurns(turns, 10); len(got) != 3 {
		t.Fatalf("expected all turns, got %d", len(got))
	}
	if got := TailTurns(turns, 0); got != nil {
		t.Fatalf("expected nil for n=0, got %+v", got)
	}
}

func TestTemplateKindValid(t *testing.T) {
	t.Parallel()

	if !TemplateDevOpsEngineer.Valid() {
		t.Fatal("expected devops-engineer to be valid")
	}
	if TemplateKind("unknown-kind").Valid() {
		t.Fatal("expected unknown-kind to be invalid")
	}
}

func TestDayOf(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 10, 17, 23, 59, 0, 0, time.UTC)
	if got := DayOf(ts); got != "2026-10-17" {
		t.Fatalf("DayOf = %q", got)
	}
}
