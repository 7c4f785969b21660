// Package app is the console's root Bubble Tea model. It wires the event
// bus, graph controller, correlator, and terminal bridges together and
// forwards their activity into the update loop. Rendering stays thin: the
// interesting behavior lives in the packages this one composes.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/renjiyun06/mosaic-sub001/internal/bus"
	"github.com/renjiyun06/mosaic-sub001/internal/client"
	"github.com/renjiyun06/mosaic-sub001/internal/correlate"
	"github.com/renjiyun06/mosaic-sub001/internal/graph"
	"github.com/renjiyun06/mosaic-sub001/internal/notify"
	"github.com/renjiyun06/mosaic-sub001/internal/terminal"
	"github.com/renjiyun06/mosaic-sub001/internal/theme"
	"github.com/renjiyun06/mosaic-sub001/internal/wire"
)

// Overlay identifies which modal panel is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayDetail
	OverlayTerminal
	OverlayConfirmDelete
)

// Internal messages pushed from bus handlers into the update loop.
type (
	busStateMsg      bus.State
	graphChangedMsg  struct{}
	termUpdatedMsg   struct{}
	runtimeStatusMsg wire.RuntimeStatusPayload
	sessionReadyMsg  struct {
		nodeID    string
		sessionID string
	}
	deleteCheckedMsg struct {
		nodeID string
		counts client.NodeCounts
	}
	doneMsg struct{}
	errMsg  struct{ err error }
)

// Model is the root Bubble Tea model.
type Model struct {
	bus      *bus.Bus
	http     *client.HTTPClient
	graph    *graph.Controller
	cor      *correlate.Correlator
	notifier *notify.Notifier
	store    terminal.BufferStore
	log      zerolog.Logger

	confirmTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	events chan tea.Msg

	keys   KeyMap
	width  int
	height int

	connState bus.State
	runtime   wire.RuntimeStatusPayload

	selectedIdx int
	overlay     Overlay
	detailBody  string

	// One bridge per logical session; bridges outlive the panel.
	bridges     map[string]*terminal.Bridge
	termSession string
	termScreen  *appScreen

	pendingDelete string
	deleteWarning string

	notices []notify.Notification
}

// Options carries the wired dependencies into New.
type Options struct {
	Bus      *bus.Bus
	HTTP     *client.HTTPClient
	Cor      *correlate.Correlator
	Notifier *notify.Notifier
	Store    terminal.BufferStore
	MosaicID string
	Log      zerolog.Logger

	// ConfirmTimeout bounds the wait for a session_started confirmation
	// after the start command is accepted. Zero falls back to
	// correlate.DefaultTimeout.
	ConfirmTimeout time.Duration
}

// New creates the root model and attaches the graph controller and
// scrollback invalidation watcher to the bus.
func New(opts Options) *Model {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Model{
		bus:      opts.Bus,
		http:     opts.HTTP,
		cor:      opts.Cor,
		notifier: opts.Notifier,
		store:    opts.Store,
		log:      opts.Log,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan tea.Msg, 64),
		keys:     DefaultKeyMap(),
		bridges:  make(map[string]*terminal.Bridge),

		confirmTimeout: opts.ConfirmTimeout,
	}

	m.graph = graph.New(opts.HTTP, opts.MosaicID, func() {
		m.push(graphChangedMsg{})
	}, opts.Log)
	m.graph.Attach(opts.Bus)

	terminal.WatchInvalidation(opts.Bus, opts.Store, opts.Log)

	opts.Bus.OnStateChange(func(s bus.State) {
		m.push(busStateMsg(s))
	})
	opts.Bus.Subscribe(bus.TopicAll, func(env wire.Envelope) {
		if env.MessageType != wire.MsgRuntimeStatusChanged {
			return
		}
		var p wire.RuntimeStatusPayload
		if env.DecodePayload(&p) == nil {
			m.push(runtimeStatusMsg(p))
		}
	})
	return m
}

// push forwards a message into the update loop without ever blocking a bus
// handler. A full queue drops the message; every push is a repaint hint,
// not state, so a drop costs nothing.
func (m *Model) push(msg tea.Msg) {
	select {
	case m.events <- msg:
	default:
	}
}

// Init starts the bus pump and the first refresh.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg {
			m.bus.Run(m.ctx)
			return nil
		},
		m.waitEvent,
		m.refreshCmd(),
	)
}

func (m *Model) waitEvent() tea.Msg {
	select {
	case msg := <-m.events:
		return msg
	case <-m.ctx.Done():
		return nil
	}
}

func (m *Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		if err := m.graph.Refresh(m.ctx); err != nil {
			return errMsg{err}
		}
		return doneMsg{}
	}
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if m.overlay == OverlayTerminal && m.termSession != "" {
			if b := m.bridges[m.termSession]; b != nil {
				b.Resize(termCols(m.width), termRows(m.height))
			}
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case busStateMsg:
		m.connState = bus.State(msg)
		return m, m.waitEvent

	case graphChangedMsg, termUpdatedMsg:
		m.drainNotices()
		return m, m.waitEvent

	case runtimeStatusMsg:
		m.runtime = wire.RuntimeStatusPayload(msg)
		return m, m.waitEvent

	case sessionReadyMsg:
		m.openTerminal(msg.sessionID)
		m.notifier.Info(fmt.Sprintf("session %s started", msg.sessionID))
		m.drainNotices()
		return m, nil

	case deleteCheckedMsg:
		if msg.counts.Sessions == 0 && msg.counts.Incoming == 0 && msg.counts.Outgoing == 0 {
			return m, m.deleteCmd(msg.nodeID)
		}
		m.overlay = OverlayConfirmDelete
		m.pendingDelete = msg.nodeID
		m.deleteWarning = fmt.Sprintf(
			"node has %d active session(s), %d incoming and %d outgoing connection(s)",
			msg.counts.Sessions, msg.counts.Incoming, msg.counts.Outgoing)
		return m, nil

	case errMsg:
		// The failure surfaces; whatever panel initiated the command
		// stays open so the operator can retry.
		m.notifier.Error(msg.err.Error())
		m.drainNotices()
		return m, nil

	case doneMsg:
		return m, nil
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.overlay == OverlayTerminal {
		return m.handleTerminalKey(msg)
	}
	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
			m.pendingDelete = ""
			return m, nil
		}
		if m.overlay == OverlayConfirmDelete && msg.String() == "y" {
			nodeID := m.pendingDelete
			m.overlay = OverlayNone
			m.pendingDelete = ""
			return m, m.deleteCmd(nodeID)
		}
		return m, nil
	}

	nodes := m.graph.Nodes()

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.shutdown()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		if len(nodes) > 0 {
			m.selectedIdx = (m.selectedIdx + 1) % len(nodes)
			m.graph.BringToFront(nodes[m.selectedIdx%len(nodes)].Node.ID)
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(nodes) > 0 {
			m.selectedIdx = (m.selectedIdx - 1 + len(nodes)) % len(nodes)
			m.graph.BringToFront(nodes[m.selectedIdx%len(nodes)].Node.ID)
		}
		return m, nil

	case key.Matches(msg, m.keys.Raise):
		if n, ok := m.selectedNode(nodes); ok {
			m.graph.BringToFront(n.Node.ID)
		}
		return m, nil

	case key.Matches(msg, m.keys.Expand):
		if n, ok := m.selectedNode(nodes); ok {
			m.graph.ToggleExpanded(n.Node.ID)
		}
		return m, nil

	case key.Matches(msg, m.keys.Enter):
		if n, ok := m.selectedNode(nodes); ok {
			m.openDetail(n)
		}
		return m, nil

	case key.Matches(msg, m.keys.Session):
		if n, ok := m.selectedNode(nodes); ok && n.Node.Kind.Sessionable() {
			return m, m.startSessionCmd(n.Node.ID)
		}
		return m, nil

	case key.Matches(msg, m.keys.Terminal):
		if m.termSession != "" {
			m.openTerminal(m.termSession)
		}
		return m, nil

	case key.Matches(msg, m.keys.Delete):
		if n, ok := m.selectedNode(nodes); ok {
			return m, m.deleteCheckCmd(n.Node.ID)
		}
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, m.refreshCmd()
	}

	return m, nil
}

func (m *Model) handleTerminalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	b := m.bridges[m.termSession]
	if b == nil {
		m.overlay = OverlayNone
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.Escape):
		b.Unmount(m.ctx)
		m.overlay = OverlayNone
		m.termScreen = nil
		return m, nil
	case key.Matches(msg, m.keys.Restart):
		if err := b.Restart(m.ctx); err != nil {
			m.notifier.Error(err.Error())
			m.drainNotices()
		}
		return m, nil
	}
	if data := keyInput(msg); data != "" {
		if err := b.Input(data); err != nil {
			m.notifier.Error(err.Error())
			m.drainNotices()
		}
	}
	return m, nil
}

func (m *Model) selectedNode(nodes []graph.NodeVisual) (graph.NodeVisual, bool) {
	if len(nodes) == 0 {
		return graph.NodeVisual{}, false
	}
	if m.selectedIdx >= len(nodes) {
		m.selectedIdx = len(nodes) - 1
	}
	return nodes[m.selectedIdx], true
}

func (m *Model) startSessionCmd(nodeID string) tea.Cmd {
	return func() tea.Msg {
		sessionID, err := graph.StartSession(m.ctx, m.http, m.cor, nodeID, m.confirmTimeout)
		if err != nil {
			return errMsg{err}
		}
		return sessionReadyMsg{nodeID: nodeID, sessionID: sessionID}
	}
}

func (m *Model) deleteCheckCmd(nodeID string) tea.Cmd {
	return func() tea.Msg {
		counts, err := m.graph.DeleteCheck(m.ctx, nodeID)
		if err != nil {
			return errMsg{err}
		}
		return deleteCheckedMsg{nodeID: nodeID, counts: *counts}
	}
}

func (m *Model) deleteCmd(nodeID string) tea.Cmd {
	return func() tea.Msg {
		if err := m.graph.DeleteNode(m.ctx, nodeID); err != nil {
			return errMsg{err}
		}
		return doneMsg{}
	}
}

// openTerminal mounts (or re-mounts) the bridge for the session and shows
// the panel.
func (m *Model) openTerminal(sessionID string) {
	b, ok := m.bridges[sessionID]
	if !ok {
		b = terminal.NewBridge(sessionID, m.bus, m.store, m.rendererFactory(), m.log)
		m.bridges[sessionID] = b
	}
	if err := b.Mount(m.ctx, termCols(m.width), termRows(m.height)); err != nil {
		m.notifier.Error(err.Error())
		m.drainNotices()
		return
	}
	m.termSession = sessionID
	m.overlay = OverlayTerminal
}

func (m *Model) openDetail(n graph.NodeVisual) {
	body := n.Node.Description
	if body == "" {
		body = "_no description_"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(m.width-8, 20)),
	)
	if err == nil {
		if rendered, rerr := r.Render(body); rerr == nil {
			body = rendered
		}
	}
	m.detailBody = theme.StyleHeader.Render(n.Node.Name) + "\n" + body
	m.overlay = OverlayDetail
}

func (m *Model) drainNotices() {
	if notes := m.notifier.Drain(); len(notes) > 0 {
		m.notices = append(m.notices, notes...)
		if len(m.notices) > 3 {
			m.notices = m.notices[len(m.notices)-3:]
		}
	}
}

// shutdown tears everything down in owner order: bridges unmount (and
// capture their buffers) before the notifier goes away.
func (m *Model) shutdown() {
	for _, b := range m.bridges {
		b.Unmount(m.ctx)
	}
	m.graph.Detach()
	m.notifier.Teardown()
	m.cancel()
}

// appScreen wraps a terminal screen so every write nudges the update loop
// to repaint.
type appScreen struct {
	*terminal.Screen
	push func(tea.Msg)
}

func (s *appScreen) Write(data string) {
	s.Screen.Write(data)
	s.push(termUpdatedMsg{})
}

func (s *appScreen) Banner(line string) {
	s.Screen.Banner(line)
	s.push(termUpdatedMsg{})
}

func (m *Model) rendererFactory() terminal.RendererFactory {
	return func(cols, rows int) terminal.Renderer {
		s := &appScreen{Screen: terminal.NewScreen(cols, rows), push: m.push}
		m.termScreen = s
		return s
	}
}

func termCols(width int) int {
	return max(width-4, 20)
}

func termRows(height int) int {
	return max(height-6, 5)
}

// keyInput converts a key press into the raw bytes the remote pty expects.
// Keys with no byte representation are dropped.
func keyInput(msg tea.KeyMsg) string {
	switch msg.Type {
	case tea.KeyRunes:
		return string(msg.Runes)
	case tea.KeySpace:
		return " "
	case tea.KeyEnter:
		return "\r"
	case tea.KeyBackspace:
		return "\x7f"
	case tea.KeyTab:
		return "\t"
	case tea.KeyCtrlC:
		return "\x03"
	case tea.KeyCtrlD:
		return "\x04"
	case tea.KeyUp:
		return "\x1b[A"
	case tea.KeyDown:
		return "\x1b[B"
	case tea.KeyRight:
		return "\x1b[C"
	case tea.KeyLeft:
		return "\x1b[D"
	}
	return ""
}

// View renders the console.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	switch m.overlay {
	case OverlayTerminal:
		return m.viewTerminal()
	case OverlayDetail:
		return lipgloss.JoinVertical(lipgloss.Left,
			m.viewStatusBar(),
			theme.StyleBorder.Render(m.detailBody),
			theme.StyleDimmed.Render("  esc:close"),
		)
	case OverlayConfirmDelete:
		warning := theme.StyleError.Render("Delete node? "+m.deleteWarning) +
			"\n" + theme.StyleDimmed.Render("y:delete anyway  esc:cancel")
		return lipgloss.JoinVertical(lipgloss.Left,
			m.viewStatusBar(),
			theme.StyleBorder.Render(warning),
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewStatusBar(),
		m.viewNodes(),
		m.viewNotices(),
		theme.StyleDimmed.Render("  j/k:navigate  enter:detail  x:expand  s:session  t:terminal  D:delete  r:refresh  q:quit"),
	)
}
