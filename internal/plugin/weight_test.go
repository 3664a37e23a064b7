package plugin

import "testing"

func TestStreamWeight(t *testing.T) {
	tests := []struct {
		name   string
		weight float64
		group  string
	}{
		{"1080p", 1080, "pixels"},
		{"720p", 720, "pixels"},
		{"720p60", 750, "pixels"},
		{"720p30", 720, "pixels"},
		{"1080p+", 1081, "pixels"},
		{"1500k", 1500, "bitrate"},
		{"a128k", 128, "audio"},
		{"audio_aac", 1, "audio"},
		{"720p+a128k", 720, "pixels"},
		{"best", 0, "none"},
		{"worst", 0, "none"},
		{"mobile", 0, "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, g := StreamWeight(tt.name)
			if w != tt.weight || g != tt.group {
				t.Errorf("StreamWeight(%q) = (%v, %q), want (%v, %q)",
					tt.name, w, g, tt.weight, tt.group)
			}
		})
	}
}

func TestStreamWeightAlternatesSortBelowBase(t *testing.T) {
	base, _ := StreamWeight("720p")
	alt, _ := StreamWeight("720p_alt")
	alt2, _ := StreamWeight("720p_alt2")

	if !(base > alt && alt > alt2) {
		t.Errorf("want 720p > 720p_alt > 720p_alt2, got %v, %v, %v", base, alt, alt2)
	}
}

func TestSortedByWeight(t *testing.T) {
	entries := []StreamEntry{
		{Name: "480p"},
		{Name: "1080p"},
		{Name: "720p60"},
		{Name: "720p"},
	}
	got := SortedByWeight(entries)
	want := []string{"480p", "720p", "720p60", "1080p"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortedByWeight = %v, want %v", got, want)
		}
	}
}
