package domain

import "testing"

func TestSeverityValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		sev   Severity
		valid bool
	}{
		{name: "low", sev: SeverityLow, valid: true},
		{name: "medium", sev: SeverityMedium, valid: true},
		{name: "high", sev: SeverityHigh, valid: true},
		{name: "critical", sev: SeverityCritical, valid: true},
		{name: "bogus", sev: Severity("bogus"), valid: false},
		{name: "empty", sev: Severity(""), valid: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.sev.Valid(); got != tt.valid {
				t.Errorf("Severity(%q).Valid() = %v, want %v", tt.sev, got, tt.valid)
			}
		})
	}
}

func TestSeverityForScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		score float64
		want  Severity
	}{
		{1.2, SeverityLow},
		{2.0, SeverityMedium},
		{2.5, SeverityMedium},
		{3.0, SeverityHigh},
		{4.7, SeverityCritical},
	}
	for _, tt := range tests {
		if got := SeverityForScore(tt.score); got != tt.want {
			t.Errorf("SeverityForScore(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	t.Parallel()
	order := []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if SeverityRank[order[i]] <= SeverityRank[order[i-1]] {
			t.Errorf("rank(%s)=%d should exceed rank(%s)=%d",
				order[i], SeverityRank[order[i]], order[i-1], SeverityRank[order[i-1]])
		}
	}
}

func TestDatasetValid(t *testing.T) {
	t.Parallel()
	for _, ds := range AllDatasets {
		if !ds.Valid() {
			t.Errorf("Dataset(%q).Valid() = false", ds)
		}
	}
	if Dataset("invoices").Valid() {
		t.Error("unexpected valid dataset \"invoices\"")
	}
}

func TestRunStatusValid(t *testing.T) {
	t.Parallel()
	for _, s := range []RunStatus{RunCompleted, RunCompletedWithSkips, RunPartialFailure, RunFailed} {
		if !s.Valid() {
			t.Errorf("RunStatus(%q).Valid() = false", s)
		}
	}
	if RunStatus("done").Valid() {
		t.Error("unexpected valid run status \"done\"")
	}
}

func TestParseMatchStrategy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    MatchStrategy
		wantErr bool
	}{
		{in: "", want: MatchSubstring},
		{in: "substring", want: MatchSubstring},
		{in: "segment", want: MatchSegment},
		{in: "regex", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseMatchStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseMatchStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseMatchStrategy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
