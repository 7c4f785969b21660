package terminal

import (
	"fmt"
	"strings"
	"testing"
)

func TestScreenWriteHandlesControlCharacters(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  []string
	}{
		{"plain lines", "one\ntwo\n", []string{"one", "two"}},
		{"trailing partial", "one\ntwo", []string{"one", "two"}},
		{"carriage return rewrites the line", "wrong\rright\n", []string{"right"}},
		{"crlf behaves like lf", "one\r\ntwo\r\n", []string{"one", "two"}},
		{"split across writes", "", nil}, // filled below
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewScreen(80, 24)
			if tc.name == "split across writes" {
				s.Write("hel")
				s.Write("lo\n")
				tc.want = []string{"hello"}
			} else {
				s.Write(tc.input)
			}
			got := s.Lines()
			if len(got) != len(tc.want) {
				t.Fatalf("Lines() = %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("line %d = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestScreenSerializeRestoreRoundtrip(t *testing.T) {
	s := NewScreen(80, 24)
	s.Write("first\nsecond\npartial")
	s.Banner("terminal started")

	capture := s.Serialize()

	replacement := NewScreen(80, 24)
	replacement.Restore(capture)
	if got := replacement.Serialize(); got != capture {
		t.Errorf("roundtrip changed the capture:\n%q\nvs\n%q", got, capture)
	}
	joined := strings.Join(replacement.Lines(), "\n")
	if !strings.Contains(joined, "terminal started") {
		t.Error("banner lost in roundtrip")
	}
}

func TestScreenRestoreEmptyClears(t *testing.T) {
	s := NewScreen(80, 24)
	s.Write("old\noutput\n")
	s.Restore("")
	if got := s.Lines(); len(got) != 0 {
		t.Errorf("Restore(\"\") left lines %v", got)
	}
}

func TestScreenScrollbackBounded(t *testing.T) {
	s := NewScreen(80, 24)
	for i := 0; i < defaultScrollback+100; i++ {
		s.Write(fmt.Sprintf("line %d\n", i))
	}
	got := s.Lines()
	if len(got) != defaultScrollback {
		t.Fatalf("kept %d lines, want %d", len(got), defaultScrollback)
	}
	if got[len(got)-1] != fmt.Sprintf("line %d", defaultScrollback+99) {
		t.Errorf("newest line lost: last is %q", got[len(got)-1])
	}
	if got[0] == "line 0" {
		t.Error("oldest line survived past the scrollback cap")
	}
}

func TestScreenBannerFlushesPartial(t *testing.T) {
	s := NewScreen(80, 24)
	s.Write("mosaic:~$ ")
	s.Banner("terminal stopped")
	got := s.Lines()
	if len(got) != 2 {
		t.Fatalf("Lines() = %v, want partial then banner", got)
	}
	if got[0] != "mosaic:~$ " {
		t.Errorf("partial line %q not flushed before the banner", got[0])
	}
	if !strings.Contains(got[1], "terminal stopped") {
		t.Errorf("banner line %q", got[1])
	}
}
