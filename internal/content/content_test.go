package content

import "testing"

func TestParseSourceType(t *testing.T) {
	for _, s := range []string{"feed", "FORUM", " video ", "file"} {
		if _, err := ParseSourceType(s); err != nil {
			t.Errorf("ParseSourceType(%q): %v", s, err)
		}
	}
	for _, s := range []string{"", "podcast", "rss"} {
		if st, err := ParseSourceType(s); err == nil {
			t.Errorf("ParseSourceType(%q) = %q, want error", s, st)
		}
	}
}

func TestNormalizePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
		ok   bool
	}{
		{"high", PriorityHigh, true},
		{"HIGH", PriorityHigh, true},
		{" Medium ", PriorityMedium, true},
		{"low", PriorityLow, true},
		{"none", PriorityNone, true},
		{"critical", PriorityMedium, false},
		{"urgent", PriorityMedium, false},
		{"", PriorityMedium, false},
	}
	for _, tt := range tests {
		p, ok := NormalizePriority(tt.in)
		if p != tt.want || ok != tt.ok {
			t.Errorf("NormalizePriority(%q) = (%q, %v), want (%q, %v)", tt.in, p, ok, tt.want, tt.ok)
		}
	}
}
