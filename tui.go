package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"murmur/audio"
	"murmur/beep"
	"murmur/clipboard"
	"murmur/conversation"
	"murmur/exchange"
	"murmur/log"
	"murmur/persist"
	"murmur/shutdown"
)

// TUI message types
type storeMsg conversation.Snapshot
type captureStateMsg audio.State
type recordingTickMsg int
type audioLevelMsg float64
type silenceMsg audio.SilenceEvent
type captureFailedMsg struct{ err error }
type autoStoppedMsg struct{ clip *audio.Clip }
type clipReadyMsg struct {
	id   conversation.ID
	clip *audio.Clip
	err  error
	send bool // stopped with enter: send regardless of auto_send
}
type exchangeDoneMsg struct {
	id   conversation.ID
	kind exchange.Kind
	err  error
}
type deviceMsg string
type statusMsg string
type errMsg struct{ err error }
type warnMsg struct{ err error }
type clearStatusMsg struct{ seq int }

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// tuiSink forwards capture notifications to the program.
type tuiSink struct{}

func (tuiSink) CaptureState(s audio.State)    { tuiSend(captureStateMsg(s)) }
func (tuiSink) RecordingTick(seconds int)     { tuiSend(recordingTickMsg(seconds)) }
func (tuiSink) AudioLevel(level float64)      { tuiSend(audioLevelMsg(level)) }
func (tuiSink) Silence(ev audio.SilenceEvent) { tuiSend(silenceMsg(ev)) }
func (tuiSink) CaptureFailed(err error)       { tuiSend(captureFailedMsg{err}) }
func (tuiSink) AutoStopped(clip *audio.Clip)  { tuiSend(autoStoppedMsg{clip}) }

// tuiNotifier plays cues and reports finished exchanges.
type tuiNotifier struct{}

func (tuiNotifier) ExchangeStarted(conversation.ID, exchange.Kind) {}

func (tuiNotifier) ExchangeFinished(id conversation.ID, kind exchange.Kind, err error) {
	if err != nil {
		beep.PlayError()
	} else {
		beep.PlayReply()
	}
	tuiSend(exchangeDoneMsg{id: id, kind: kind, err: err})
}

type inputMode int

const (
	modeCompose inputMode = iota
	modeEdit
	modeRename
)

const (
	sidebarWidth = 26
	meterWidth   = 20
	statusTTL    = 5 * time.Second
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	userLabel      = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	assistantLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	recStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	activeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	meterStyles    = []lipgloss.Style{
		lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

type tuiModel struct {
	ctx context.Context
	app *app

	input textinput.Model
	view  viewport.Model
	spin  spinner.Model

	snap      conversation.Snapshot
	capture   audio.State
	seconds   int
	level     float64
	silent    bool
	pending   *audio.Clip
	pendingID conversation.ID
	recID     conversation.ID
	mode      inputMode
	editIdx   int
	device    string
	name      string

	status    string
	statusErr bool
	statusSeq int

	width, height int
}

func newTUIModel(ctx context.Context, a *app) tuiModel {
	in := textinput.New()
	in.Prompt = "> "
	in.Placeholder = "Type a message, or ctrl+r to talk"
	in.CharLimit = 4000
	in.Focus()

	m := tuiModel{
		ctx:     ctx,
		app:     a,
		input:   in,
		view:    viewport.New(0, 0),
		spin:    spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(pendingStyle)),
		snap:    a.store.Snapshot(),
		editIdx: -1,
		device:  deviceLineText(a.device),
		name:    a.gateway.DisplayName(ctx),
	}
	if a.loadErr != nil {
		m.status, m.statusErr = "Saved conversations were unreadable; started fresh", true
	}
	return m
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick)
}

func (m *tuiModel) setStatus(text string, isErr bool) tea.Cmd {
	m.statusSeq++
	seq := m.statusSeq
	m.status, m.statusErr = text, isErr
	return tea.Tick(statusTTL, func(time.Time) tea.Msg { return clearStatusMsg{seq} })
}

// do runs fn off the event loop. Store mutations must go through here since
// their snapshots are delivered back to the program.
func do(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m tuiModel) active() conversation.Conversation {
	for _, c := range m.snap.Conversations {
		if c.ID == m.snap.ActiveID {
			return c
		}
	}
	return conversation.Conversation{}
}

func (m tuiModel) title(id conversation.ID) string {
	for _, c := range m.snap.Conversations {
		if c.ID == id {
			return c.Title
		}
	}
	return string(id)
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case storeMsg:
		if msg.Version >= m.snap.Version {
			m.snap = conversation.Snapshot(msg)
			m.refresh()
		}
		return m, nil

	case captureStateMsg:
		m.capture = audio.State(msg)
		if m.capture == audio.StateAcquiring {
			m.seconds, m.silent = 0, false
		}
		if m.capture != audio.StateRecording {
			m.level = 0
		}
		return m, nil

	case recordingTickMsg:
		m.seconds = int(msg)
		return m, nil

	case audioLevelMsg:
		if m.capture == audio.StateRecording {
			m.level = m.level*0.6 + float64(msg)*0.4
		}
		return m, nil

	case silenceMsg:
		switch audio.SilenceEvent(msg) {
		case audio.SilenceWarn, audio.SilenceRepeat:
			m.silent = true
		case audio.SilenceWarnClear:
			m.silent = false
		case audio.SilenceAutoStop:
			m.silent = false
			return m, m.setStatus("Recording stopped after 30s without voice", false)
		}
		return m, nil

	case captureFailedMsg:
		beep.PlayError()
		return m, m.setStatus(errorText(msg.err), true)

	case clipReadyMsg:
		return m.clipReady(msg)

	case autoStoppedMsg:
		beep.PlayEnd()
		return m.clipReady(clipReadyMsg{id: m.recID, clip: msg.clip})

	case exchangeDoneMsg:
		m.refresh()
		if msg.err != nil {
			return m, m.setStatus("Request failed: "+errorText(msg.err), true)
		}
		if msg.id != m.snap.ActiveID && m.app.gateway.Setting(m.ctx, persist.Notifications) {
			return m, m.setStatus(fmt.Sprintf("Reply ready in %q", m.title(msg.id)), false)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		if m.app.store.Busy(m.snap.ActiveID) {
			m.refresh()
		}
		return m, cmd

	case deviceMsg:
		m.device = string(msg)
		return m, nil

	case statusMsg:
		return m, m.setStatus(string(msg), false)

	case errMsg:
		return m, m.setStatus(errorText(msg.err), true)

	case warnMsg:
		return m, m.setStatus("Could not save: "+msg.err.Error(), true)

	case clearStatusMsg:
		if msg.seq == m.statusSeq {
			m.status = ""
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	store := m.app.store
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "ctrl+r":
		return m.toggleRecording(false)
	case "enter":
		return m.submit()
	case "esc":
		return m.cancel()
	case "ctrl+n":
		return m, do(func() error { store.Create(); return nil })
	case "tab":
		return m, m.selectOffset(1)
	case "shift+tab":
		return m, m.selectOffset(-1)
	case "ctrl+x":
		id := m.snap.ActiveID
		return m, do(func() error { return store.Delete(id) })
	case "ctrl+e":
		return m.startEdit()
	case "ctrl+t":
		m.mode = modeRename
		m.input.SetValue(m.active().Title)
		m.input.CursorEnd()
		return m, m.setStatus("Renaming. enter saves, esc cancels", false)
	case "ctrl+y":
		return m, m.copyLastReply()
	case "ctrl+a":
		return m.toggleSetting(persist.AutoSend)
	case "ctrl+s":
		return m.toggleSetting(persist.SoundEffects)
	case "ctrl+o":
		return m.toggleSetting(persist.Notifications)
	case "pgup", "pgdown", "up", "down":
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m tuiModel) selectOffset(delta int) tea.Cmd {
	convs := m.snap.Conversations
	if len(convs) < 2 {
		return nil
	}
	i := slices.IndexFunc(convs, func(c conversation.Conversation) bool { return c.ID == m.snap.ActiveID })
	next := convs[(i+delta+len(convs))%len(convs)].ID
	store := m.app.store
	return do(func() error { store.Select(next); return nil })
}

func (m tuiModel) toggleRecording(send bool) (tea.Model, tea.Cmd) {
	s := m.app.session
	switch m.capture {
	case audio.StateIdle:
		if s.Capture == nil {
			return m, m.setStatus("No microphone available", true)
		}
		if m.app.store.Busy(m.snap.ActiveID) {
			return m, m.setStatus("Wait for the reply before recording", true)
		}
		m.pending = nil
		m.recID = m.snap.ActiveID
		beep.PlayStart()
		ctx := m.ctx
		// acquisition failures arrive through the sink
		return m, func() tea.Msg {
			s.Record(ctx)
			return nil
		}
	case audio.StateRecording:
		beep.PlayEnd()
		id := m.snap.ActiveID
		return m, func() tea.Msg {
			clip, err := s.Finish()
			return clipReadyMsg{id: id, clip: clip, err: err, send: send}
		}
	}
	return m, nil
}

func (m tuiModel) clipReady(msg clipReadyMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		return m, m.setStatus(errorText(msg.err), true)
	}
	if msg.clip == nil {
		return m, m.setStatus("Nothing recorded", false)
	}
	if !msg.send && !m.app.gateway.Setting(m.ctx, persist.AutoSend) {
		m.pending, m.pendingID = msg.clip, msg.id
		return m, m.setStatus(fmt.Sprintf("Recorded %.1fs. enter sends it, esc discards it", msg.clip.Duration().Seconds()), false)
	}
	return m, m.sendVoice(msg.id, msg.clip)
}

func (m tuiModel) sendVoice(id conversation.ID, clip *audio.Clip) tea.Cmd {
	coord, ctx := m.app.session.Exchanges, m.ctx
	return do(func() error { return coord.SendVoice(ctx, id, clip) })
}

func (m tuiModel) submit() (tea.Model, tea.Cmd) {
	if m.capture == audio.StateRecording {
		return m.toggleRecording(true)
	}
	store, coord, ctx := m.app.store, m.app.session.Exchanges, m.ctx
	id := m.snap.ActiveID
	text := strings.TrimSpace(m.input.Value())

	switch m.mode {
	case modeRename:
		m.mode = modeCompose
		m.input.Reset()
		if text == "" {
			return m, nil
		}
		return m, do(func() error { return store.Rename(id, text) })
	case modeEdit:
		index := m.editIdx
		m.mode, m.editIdx = modeCompose, -1
		m.input.Reset()
		if text == "" {
			return m, nil
		}
		return m, do(func() error { return coord.Edit(ctx, id, index, text) })
	}

	if text == "" {
		if m.pending == nil {
			return m, nil
		}
		clip, target := m.pending, m.pendingID
		m.pending = nil
		return m, m.sendVoice(target, clip)
	}
	if store.Busy(id) {
		return m, m.setStatus("Wait for the reply before sending", true)
	}
	m.input.Reset()
	return m, do(func() error { return coord.SendText(ctx, id, text) })
}

func (m tuiModel) cancel() (tea.Model, tea.Cmd) {
	switch {
	case m.capture == audio.StateRecording:
		s := m.app.session
		return m, func() tea.Msg {
			s.Finish()
			return statusMsg("Recording discarded")
		}
	case m.pending != nil:
		m.pending = nil
		return m, m.setStatus("Recording discarded", false)
	case m.mode != modeCompose:
		m.mode, m.editIdx = modeCompose, -1
		m.input.Reset()
		m.status = ""
	}
	return m, nil
}

// startEdit loads the last typed user message into the input.
func (m tuiModel) startEdit() (tea.Model, tea.Cmd) {
	c := m.active()
	if m.app.store.Busy(c.ID) {
		return m, m.setStatus("Wait for the reply before editing", true)
	}
	for i := len(c.Messages) - 1; i >= 0; i-- {
		msg := c.Messages[i]
		if msg.Sender == conversation.SenderUser && msg.Kind == conversation.KindText {
			m.mode, m.editIdx = modeEdit, i
			m.input.SetValue(msg.Text)
			m.input.CursorEnd()
			return m, m.setStatus(fmt.Sprintf("Editing message %d. enter resends, esc cancels", i+1), false)
		}
	}
	return m, m.setStatus("No typed message to edit", true)
}

func (m tuiModel) copyLastReply() tea.Cmd {
	c := m.active()
	for i := len(c.Messages) - 1; i >= 0; i-- {
		msg := c.Messages[i]
		if msg.Sender == conversation.SenderAssistant && msg.Status == conversation.StatusFinal {
			text := msg.Text
			return func() tea.Msg {
				if err := clipboard.Copy(text); err != nil {
					return errMsg{err}
				}
				return statusMsg("Copied reply to clipboard")
			}
		}
	}
	return func() tea.Msg { return statusMsg("No reply to copy") }
}

func (m tuiModel) toggleSetting(s persist.Setting) (tea.Model, tea.Cmd) {
	v := !m.app.gateway.Setting(m.ctx, s)
	if err := m.app.gateway.SetSetting(m.ctx, s, v); err != nil {
		return m, m.setStatus(err.Error(), true)
	}
	return m, m.setStatus(fmt.Sprintf("%s %s", s, onOff(v)), false)
}

func errorText(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "Microphone access denied. Allow it in your system privacy settings."
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "No microphone available"
	case errors.Is(err, conversation.ErrBusy):
		return "Wait for the reply first"
	case errors.Is(err, conversation.ErrPendingExists):
		return "A recording is still being sent"
	}
	return err.Error()
}

func (m *tuiModel) layout() {
	mainWidth := max(m.width-sidebarWidth-1, 20)
	m.view.Width = mainWidth
	m.view.Height = max(m.height-4, 3)
	m.input.Width = mainWidth - 3
}

// refresh re-renders the active conversation into the viewport.
func (m *tuiModel) refresh() {
	c := m.active()
	width := max(m.view.Width-2, 10)
	textStyle := lipgloss.NewStyle().Width(width)

	var b strings.Builder
	if len(c.Messages) == 0 {
		b.WriteString(dimStyle.Render("Say something, or press ctrl+r to talk."))
	}
	for i, msg := range c.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		label := userLabel.Render(m.name)
		if msg.Sender == conversation.SenderAssistant {
			label = assistantLabel.Render("Assistant")
		}
		if msg.Kind == conversation.KindAudio {
			label += dimStyle.Render(" [voice]")
		}
		body := textStyle.Render(msg.Text)
		switch msg.Status {
		case conversation.StatusPending:
			body = pendingStyle.Width(width).Render(msg.Text)
		case conversation.StatusFailed:
			body = failedStyle.Width(width).Render(msg.Text)
		}
		b.WriteString(label + "\n" + body)
	}
	if m.app.store.Busy(c.ID) {
		b.WriteString("\n\n" + m.spin.View() + pendingStyle.Render(" Assistant is thinking..."))
	}
	m.view.SetContent(b.String())
	m.view.GotoBottom()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func (m tuiModel) renderSidebar() string {
	var lines []string
	lines = append(lines, titleStyle.Render("Conversations"), "")
	for _, c := range m.snap.Conversations {
		title := truncate(c.Title, sidebarWidth-4)
		if m.app.store.Busy(c.ID) {
			title += "…"
		}
		if c.ID == m.snap.ActiveID {
			lines = append(lines, activeStyle.Render("▸ "+title))
		} else {
			lines = append(lines, dimStyle.Render("  "+title))
		}
	}

	help := [][2]string{
		{"ctrl+r", "talk"},
		{"enter", "send"},
		{"tab", "next chat"},
		{"ctrl+n", "new chat"},
		{"ctrl+e", "edit last"},
		{"ctrl+t", "rename"},
		{"ctrl+x", "delete"},
		{"ctrl+y", "copy reply"},
		{"ctrl+a/s/o", "settings"},
		{"ctrl+c", "quit"},
	}
	pad := m.height - len(lines) - len(help) - 1
	for range max(pad, 1) {
		lines = append(lines, "")
	}
	for _, h := range help {
		lines = append(lines, helpKeyStyle.Render(h[0])+helpStyle.Render(" "+h[1]))
	}

	return lipgloss.NewStyle().
		Width(sidebarWidth).
		Height(m.height).
		MaxHeight(m.height).
		BorderRight(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("238")).
		Render(strings.Join(lines, "\n"))
}

func renderMeter(level float64) string {
	filled := min(meterWidth, int(level*2*meterWidth))
	var b strings.Builder
	for i := 0; i < meterWidth; i++ {
		if i >= filled {
			b.WriteString(dimStyle.Render("·"))
			continue
		}
		b.WriteString(meterStyles[min(i*len(meterStyles)/meterWidth, len(meterStyles)-1)].Render("▮"))
	}
	return b.String()
}

func (m tuiModel) renderCaptureLine() string {
	switch {
	case m.capture == audio.StateAcquiring:
		return dimStyle.Render("○ opening microphone...")
	case m.capture == audio.StateRecording:
		line := recStyle.Render(fmt.Sprintf("● REC %ds", m.seconds)) + "  " + renderMeter(m.level)
		if m.silent {
			line += warnStyle.Render("  ⚠ no voice detected")
		}
		return line
	case m.capture == audio.StateFinalizing:
		return dimStyle.Render("○ finishing recording...")
	case m.pending != nil:
		return okStyle.Render(fmt.Sprintf("◆ clip ready %.1fs", m.pending.Duration().Seconds())) +
			dimStyle.Render("  enter to send, esc to discard")
	}
	line := "○ " + m.device
	if m.app.gateway.Setting(m.ctx, persist.AutoSend) {
		line += " · auto-send"
	}
	return dimStyle.Render(line)
}

func (m tuiModel) renderStatus() string {
	if m.status == "" {
		switch m.mode {
		case modeEdit:
			return dimStyle.Render(fmt.Sprintf("editing message %d", m.editIdx+1))
		case modeRename:
			return dimStyle.Render("renaming conversation")
		}
		return helpStyle.Render("murmur " + version)
	}
	if m.statusErr {
		return failedStyle.Render(m.status)
	}
	return okStyle.Render(m.status)
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	c := m.active()
	header := titleStyle.Render(c.Title) + dimStyle.Render(fmt.Sprintf("  · %d messages", len(c.Messages)))
	body := lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.view.View(),
		m.renderCaptureLine(),
		m.input.View(),
		m.renderStatus(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), " "+body)
}

func watchDevices(ctx context.Context, a *app) {
	if a.audio == nil {
		return
	}
	var last []string
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		devices, err := a.audio.Devices()
		if err != nil {
			continue
		}
		names := make([]string, len(devices))
		for i := range devices {
			names[i] = devices[i].Name
		}
		if slices.Equal(last, names) {
			continue
		}
		first := last == nil
		last = names
		if first {
			continue
		}
		text := deviceLineText(a.device)
		if a.device != nil && !slices.Contains(names, a.device.Name) {
			log.Info("device_disconnected: " + a.device.Name)
			text = "mic: " + a.device.Name + " (disconnected)"
		}
		tuiSend(deviceMsg(text))
	}
}

func runTUI(ctx context.Context) error {
	ctx, stop := shutdown.Context(ctx)
	defer stop()

	if flags.setup {
		if actx, err := audio.NewContext(); err == nil {
			dev, err := audio.SelectDevice(actx)
			if err != nil {
				log.Warnf("device selection failed: %v", err)
				fmt.Printf("Warning: device selection failed: %v\nFalling back to default device\n", err)
			} else if dev != nil {
				cfg.Device = dev.Name
			}
			actx.Close()
		}
	}

	a, err := openApp(ctx, appOptions{
		cfg:       cfg,
		ephemeral: flags.ephemeral,
		sink:      tuiSink{},
		observer:  tuiNotifier{},
		warn:      func(err error) { tuiSend(warnMsg{err}) },
	})
	if err != nil {
		return err
	}
	defer a.Close()

	beep.SetGate(func() bool { return a.gateway.Setting(context.Background(), persist.SoundEffects) })
	beep.Init()
	unsubscribe := a.store.Subscribe(func(s conversation.Snapshot) { tuiSend(storeMsg(s)) })
	defer unsubscribe()

	p := tea.NewProgram(newTUIModel(ctx, a), tea.WithAltScreen())
	tuiMu.Lock()
	tuiProgram = p
	tuiMu.Unlock()
	defer func() {
		tuiMu.Lock()
		tuiProgram = nil
		tuiMu.Unlock()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		_, err := p.Run()
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		p.Quit()
		return nil
	})
	g.Go(func() error {
		watchDevices(gctx, a)
		return nil
	})
	return g.Wait()
}
