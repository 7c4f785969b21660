package mockd

import (
	"strings"
	"sync"

	"github.com/renjiyun06/mosaic-sub001/internal/wire"
)

const shellPrompt = "mosaic:~$ "

// Shell answers terminal frames for one or more sessions. It is not a real
// pty: input is echoed, carriage returns run a tiny built-in command set,
// and every session shares the same behavior. Enough to exercise a console
// end to end.
type Shell struct {
	hub *Hub

	mu    sync.Mutex
	lines map[string]string // session id -> pending input line
}

// NewShell creates a shell publishing output through hub.
func NewShell(hub *Hub) *Shell {
	return &Shell{hub: hub, lines: make(map[string]string)}
}

// Handle processes one terminal control frame from a console.
func (sh *Shell) Handle(env wire.Envelope) {
	switch env.Type {
	case wire.FrameTerminalStart:
		sh.hub.Broadcast(wire.Notification(env.SessionID, wire.MsgTerminalStatus,
			wire.TerminalStatusPayload{Status: wire.StatusStarted}))

	case wire.FrameTerminalStop:
		sh.mu.Lock()
		delete(sh.lines, env.SessionID)
		sh.mu.Unlock()
		sh.hub.Broadcast(wire.Notification(env.SessionID, wire.MsgTerminalStatus,
			wire.TerminalStatusPayload{Status: wire.StatusStopped}))

	case wire.FrameTerminalInput:
		sh.input(env.SessionID, env.Data)
	}
}

func (sh *Shell) input(sessionID, data string) {
	// Echo first, like a real pty with echo on.
	sh.output(sessionID, data)

	sh.mu.Lock()
	line := sh.lines[sessionID]
	for _, r := range data {
		switch r {
		case '\r', '\n':
			sh.lines[sessionID] = ""
			sh.mu.Unlock()
			sh.run(sessionID, line)
			sh.mu.Lock()
			line = sh.lines[sessionID]
		case 0x7f: // backspace
			if len(line) > 0 {
				line = line[:len(line)-1]
			}
			sh.lines[sessionID] = line
		default:
			line += string(r)
			sh.lines[sessionID] = line
		}
	}
	sh.mu.Unlock()
}

func (sh *Shell) run(sessionID, line string) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		sh.output(sessionID, "\n"+shellPrompt)
	case strings.HasPrefix(line, "echo "):
		sh.output(sessionID, "\n"+strings.TrimPrefix(line, "echo ")+"\n"+shellPrompt)
	case line == "exit":
		sh.output(sessionID, "\nlogout\n")
		sh.hub.Broadcast(wire.Notification(sessionID, wire.MsgTerminalStatus,
			wire.TerminalStatusPayload{Status: wire.StatusStopped}))
	default:
		sh.output(sessionID, "\n"+line+": command not found\n"+shellPrompt)
	}
}

func (sh *Shell) output(sessionID, data string) {
	sh.hub.Broadcast(wire.Notification(sessionID, wire.MsgTerminalOutput,
		wire.TerminalOutputPayload{Data: data}))
}
