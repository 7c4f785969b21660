package terminal

import (
	"strings"
	"sync"
)

// Renderer is the widget-facing surface the bridge writes to. The real
// terminal panel implements it on top of the TUI; tests use recorders.
type Renderer interface {
	// Write appends raw output bytes exactly as they arrived.
	Write(data string)
	// Banner renders one synthetic line distinct from session output.
	Banner(line string)
	// Resize recomputes the character grid for the given dimensions.
	Resize(cols, rows int)
	// Serialize captures screen plus scrollback for later Restore.
	Serialize() string
	// Restore replays a previously serialized capture.
	Restore(serialized string)
	// Close disposes the renderer. The bridge never uses it afterwards.
	Close()
}

const defaultScrollback = 2000

// Screen is an in-memory renderer: a line buffer with bounded scrollback.
// It does not interpret escape sequences beyond carriage return and
// newline; styling is the render layer's concern.
type Screen struct {
	mu         sync.Mutex
	lines      []string
	partial    string
	cols, rows int
	scrollback int
	closed     bool
}

// NewScreen creates a screen with the given grid dimensions.
func NewScreen(cols, rows int) *Screen {
	return &Screen{cols: cols, rows: rows, scrollback: defaultScrollback}
}

func (s *Screen) Write(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runes := []rune(data)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '\n':
			s.pushLine(s.partial)
			s.partial = ""
		case '\r':
			// CRLF is a line ending; a lone CR rewrites the line.
			if i+1 < len(runes) && runes[i+1] == '\n' {
				continue
			}
			s.partial = ""
		default:
			s.partial += string(runes[i])
		}
	}
}

func (s *Screen) Banner(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.partial != "" {
		s.pushLine(s.partial)
		s.partial = ""
	}
	s.pushLine("── " + line + " ──")
}

func (s *Screen) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cols, s.rows = cols, rows
}

// Size returns the current character grid dimensions.
func (s *Screen) Size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

func (s *Screen) Serialize() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := strings.Join(s.lines, "\n")
	if s.partial != "" {
		if all != "" {
			all += "\n"
		}
		all += s.partial
	}
	return all
}

func (s *Screen) Restore(serialized string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
	s.partial = ""
	if serialized == "" {
		return
	}
	for _, line := range strings.Split(serialized, "\n") {
		s.pushLine(line)
	}
}

func (s *Screen) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close has been called.
func (s *Screen) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Lines returns a copy of the visible lines, newest last.
func (s *Screen) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines), len(s.lines)+1)
	copy(out, s.lines)
	if s.partial != "" {
		out = append(out, s.partial)
	}
	return out
}

func (s *Screen) pushLine(line string) {
	s.lines = append(s.lines, line)
	if len(s.lines) > s.scrollback {
		s.lines = s.lines[len(s.lines)-s.scrollback:]
	}
}
