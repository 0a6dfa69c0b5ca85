package fourcc

import "testing"

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"RGB3", "RGB3"},
		{"YUYV", "YUYV"},
		{"yuyv", "YUYV"},
		{"mJpG", "MJPG"},
	}

	for _, tt := range tests {
		code, err := Parse(tt.in)
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", tt.in, err)
		}
		if got := code.String(); got != tt.want {
			t.Errorf("Parse(%q).String() = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseRejectsBadLength(t *testing.T) {
	for _, in := range []string{"", "RGB", "RGB24"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", in)
		}
	}
}

func TestParseMatchesKnownTags(t *testing.T) {
	// YUYV packs to 0x56595559 ('Y''U''Y''V' LSB first), the same value
	// V4L2 reports for V4L2_PIX_FMT_YUYV.
	code, err := Parse("YUYV")
	if err != nil {
		t.Fatal(err)
	}
	if code != 0x56595559 {
		t.Errorf("Parse(\"YUYV\") = %#x, want 0x56595559", uint32(code))
	}
	if code != YUYV {
		t.Errorf("Parse(\"YUYV\") = %#x, want YUYV constant %#x", uint32(code), uint32(YUYV))
	}
}
