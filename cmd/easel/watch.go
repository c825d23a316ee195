package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/inkworks/easel/internal/event"
	"github.com/inkworks/easel/internal/gallery"
	"github.com/inkworks/easel/internal/generation"
	"github.com/inkworks/easel/internal/session"
	"github.com/inkworks/easel/internal/studio"
)

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiBase := fs.String("api", "http://127.0.0.1:8090", "base URL for the studio backend")
	token := fs.String("token", os.Getenv("EASEL_API_TOKEN"), "Bearer token for API auth")
	count := fs.Int("count", 1, "number of images to request")
	albumID := fs.String("album", "", "existing album id (omit to create one)")
	pageSize := fs.Int("page-size", 20, "projection page size")
	connectTimeout := fs.Duration("connect-timeout", 30*time.Second, "stream connect timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		return fmt.Errorf("usage: easel watch [flags] <prompt>")
	}
	if strings.TrimSpace(*token) == "" {
		return fmt.Errorf("token is required (use --token or EASEL_API_TOKEN)")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := studio.NewClient(*apiBase, *token, logger)

	engineEvents := make(chan tea.Msg, 64)
	var store *gallery.Store
	if *albumID != "" {
		store = gallery.NewStore(*pageSize, client.AssetPages(*albumID), client.MessagePages(*albumID))
	} else {
		store = gallery.NewStore(*pageSize, nil, nil)
	}
	tracker := session.NewTracker(store, logger)

	cb := generation.Callbacks{
		OnEntityAppended: func(e gallery.Entity) {
			engineEvents <- entityChangedMsg{}
		},
		OnEntityUpdated: func(id string, patch gallery.Patch) {
			engineEvents <- entityChangedMsg{}
		},
		OnProgress: func(jobID string, ev event.Canonical) {
			engineEvents <- progressMsg{status: string(ev.Status), progress: ev.Progress}
		},
		OnSessionComplete: func(jobID string) {
			engineEvents <- sessionDoneMsg{}
		},
		OnSessionError: func(jobID, message string) {
			engineEvents <- sessionDoneMsg{errMsg: message}
		},
	}
	mgr := generation.NewManager(client, tracker, store, cb, *connectTimeout, logger)
	defer mgr.Shutdown()

	m := newWatchModel(watchConfig{
		Prompt:  prompt,
		Count:   *count,
		AlbumID: *albumID,
	}, store, mgr, engineEvents)

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type watchConfig struct {
	Prompt  string
	Count   int
	AlbumID string
}

type entityChangedMsg struct{}

type progressMsg struct {
	status   string
	progress int
}

type sessionDoneMsg struct {
	errMsg string
}

type submittedMsg struct {
	jobID string
	err   error
}

type pagesLoadedMsg struct {
	prepended int
	err       error
}

type watchModel struct {
	cfg          watchConfig
	store        *gallery.Store
	mgr          *generation.Manager
	engineEvents chan tea.Msg

	width     int
	height    int
	jobID     string
	status    string
	progress  int
	done      bool
	errMsg    string
	statusLog []string
}

func newWatchModel(cfg watchConfig, store *gallery.Store, mgr *generation.Manager, events chan tea.Msg) watchModel {
	return watchModel{
		cfg:          cfg,
		store:        store,
		mgr:          mgr,
		engineEvents: events,
		status:       "submitting",
	}
}

func (m watchModel) Init() tea.Cmd {
	cmds := []tea.Cmd{
		submitCmd(m.mgr, m.cfg),
		waitForEngineCmd(m.engineEvents),
	}
	if m.cfg.AlbumID != "" {
		cmds = append(cmds, loadPagesCmd(m.store))
	}
	return tea.Batch(cmds...)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "o":
			if m.cfg.AlbumID != "" && m.store.HasMore(gallery.KindImage) {
				return m, loadOlderCmd(m.store)
			}
		}
		return m, nil
	case submittedMsg:
		if msg.err != nil {
			m.errMsg = msg.err.Error()
			m.status = "failed"
			m.done = true
			return m, nil
		}
		m.jobID = msg.jobID
		m.appendStatus("submitted job " + msg.jobID)
		return m, nil
	case pagesLoadedMsg:
		if msg.err != nil {
			m.appendStatus("page load failed: " + msg.err.Error())
			return m, nil
		}
		if msg.prepended > 0 {
			m.appendStatus(fmt.Sprintf("loaded %d older item(s)", msg.prepended))
		}
		return m, nil
	case entityChangedMsg:
		return m, waitForEngineCmd(m.engineEvents)
	case progressMsg:
		m.status = msg.status
		m.progress = msg.progress
		return m, waitForEngineCmd(m.engineEvents)
	case sessionDoneMsg:
		m.done = true
		if msg.errMsg != "" {
			m.status = "failed"
			m.errMsg = msg.errMsg
			m.appendStatus("session failed: " + msg.errMsg)
		} else {
			m.status = "complete"
			m.progress = 100
			m.appendStatus("session complete")
		}
		return m, waitForEngineCmd(m.engineEvents)
	default:
		return m, nil
	}
}

func (m watchModel) View() string {
	accent := lipgloss.Color("#7C3AED")
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#F5F3FF")).
		Background(accent).
		Padding(0, 1).
		Render("Easel Watch")

	statusStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#F5F3FF")).
		Background(accent).
		Padding(0, 1)
	switch m.status {
	case "complete":
		statusStyle = statusStyle.Background(lipgloss.Color("#22C55E"))
	case "failed":
		statusStyle = statusStyle.Background(lipgloss.Color("#EF4444"))
	}

	jobLabel := m.jobID
	if jobLabel == "" {
		jobLabel = "-"
	}
	meta := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#C4B5FD")).
		Render(fmt.Sprintf("job=%s  progress=%d%%  prompt=%s", jobLabel, m.progress, trimForLog(m.cfg.Prompt, 48)))

	panelWidth := bodyWidth(m.width)
	galleryHeight, timelineHeight := panelHeights(m.height)

	galleryPanel := renderPanel("Gallery", m.galleryLines(), panelWidth, galleryHeight, accent)
	timelinePanel := renderPanel("Timeline", m.timelineLines(), panelWidth, timelineHeight, accent)

	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#C4B5FD")).
		Render("q: quit  o: load older")
	if m.errMsg != "" {
		footer = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Render("error: " + trimForLog(m.errMsg, 80) + "  q: quit")
	}

	status := statusStyle.Render(strings.ToUpper(m.status))
	return strings.Join([]string{title + " " + status, meta, galleryPanel, timelinePanel, footer}, "\n")
}

func (m watchModel) galleryLines() []string {
	entities := m.store.Gallery().Snapshot()
	if len(entities) == 0 {
		return []string{"no entities yet..."}
	}
	lines := make([]string, 0, len(entities))
	for _, e := range entities {
		glyph := "…"
		switch e.Status {
		case gallery.StatusComplete:
			glyph = "✓"
		case gallery.StatusError:
			glyph = "✗"
		}
		line := fmt.Sprintf("%s %s", glyph, e.ID)
		if e.URL != "" {
			line += "  " + e.URL
		} else if e.Status == gallery.StatusError && e.Description != "" {
			line += "  " + trimForLog(e.Description, 48)
		}
		lines = append(lines, line)
	}
	return lines
}

func (m watchModel) timelineLines() []string {
	entries := m.store.Timeline().Snapshot()
	lines := make([]string, 0, len(entries)+len(m.statusLog))
	for _, e := range entries {
		lines = append(lines, trimForLog(e.Description, 76))
	}
	lines = append(lines, m.statusLog...)
	if len(lines) == 0 {
		return []string{"waiting for events..."}
	}
	return lines
}

func (m *watchModel) appendStatus(line string) {
	m.statusLog = append(m.statusLog, fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), line))
	if len(m.statusLog) > 200 {
		m.statusLog = m.statusLog[len(m.statusLog)-200:]
	}
}

func submitCmd(mgr *generation.Manager, cfg watchConfig) tea.Cmd {
	return func() tea.Msg {
		jobID, err := mgr.Generate(context.Background(), generation.SubmitRequest{
			Prompt:  cfg.Prompt,
			Count:   cfg.Count,
			AlbumID: cfg.AlbumID,
		})
		return submittedMsg{jobID: jobID, err: err}
	}
}

func loadPagesCmd(store *gallery.Store) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Load(ctx, gallery.KindImage); err != nil {
			return pagesLoadedMsg{err: err}
		}
		if err := store.Load(ctx, gallery.KindMessage); err != nil {
			return pagesLoadedMsg{err: err}
		}
		return pagesLoadedMsg{}
	}
}

func loadOlderCmd(store *gallery.Store) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		n, err := store.LoadOlder(ctx, gallery.KindImage)
		if err != nil {
			return pagesLoadedMsg{err: err}
		}
		return pagesLoadedMsg{prepended: n}
	}
}

func waitForEngineCmd(in <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-in
	}
}

func panelHeights(terminalHeight int) (galleryH, timelineH int) {
	available := terminalHeight - 5
	if available < 12 {
		available = 12
	}
	galleryH = available * 3 / 5
	timelineH = available - galleryH
	if galleryH < 5 {
		galleryH = 5
	}
	if timelineH < 4 {
		timelineH = 4
	}
	return galleryH, timelineH
}

func renderPanel(title string, lines []string, width, height int, accent lipgloss.Color) string {
	if height < 3 {
		height = 3
	}
	contentHeight := height - 1
	if len(lines) > contentHeight {
		lines = lines[len(lines)-contentHeight:]
	}
	for len(lines) < contentHeight {
		lines = append(lines, "")
	}
	content := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title) + "\n" + strings.Join(lines, "\n")

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Width(width).
		Height(height).
		Padding(0, 1).
		Render(content)
}

func trimForLog(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func bodyWidth(terminalWidth int) int {
	if terminalWidth <= 0 {
		return 80
	}
	w := terminalWidth - 2
	if w < 40 {
		return 40
	}
	return w
}
