package bytesize

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Size
	}{
		{"16MB", 16 * MB},
		{"1.5G", Size(1.5 * float64(GB))},
		{"4096", 4096},
		{"64k", 64 * KB},
		{"64KiB", 64 * KB},
		{"2 TB", 2 * TB},
		{"0", 0},
	}

	for _, tt := range tests {
		got, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) returned error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"", "abc", "5XB", "-3MB"} {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) should have failed", input)
		}
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		input Size
		want  string
	}{
		{0, "0B"},
		{512, "512B"},
		{16 * MB, "16MB"},
		{Size(1.5 * float64(GB)), "1.5GB"},
		{-2 * KB, "-2KB"},
	}

	for _, tt := range tests {
		if got := tt.input.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRoundTripText(t *testing.T) {
	var s Size
	if err := s.UnmarshalText([]byte("16MB")); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if s != 16*MB {
		t.Fatalf("UnmarshalText = %d, want %d", s, 16*MB)
	}
	text, err := s.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	if string(text) != "16MB" {
		t.Errorf("MarshalText = %q, want %q", text, "16MB")
	}
}
