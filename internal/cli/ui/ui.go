package ui

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	psutil "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"

	"chimera/internal/bridge"
	"chimera/internal/client"
	"chimera/internal/rhythm"
	"chimera/pkg/hashing/core"
)

const (
	DefaultRefresh = time.Second
	FrequencyStep  = 25
	BaselineMHz    = 400

	historyLen  = 60
	maxEvents   = 200
	callTimeout = 3 * time.Second
)

// Styles
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Padding(0, 2).
			Bold(true).
			Width(80)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#4B5563")).
			Padding(0, 2).
			Width(80)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#2563EB")).
			Padding(0, 1)

	logViewStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#9CA3AF"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF")).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true)

	sparkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#34D399"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#60A5FA"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF")).
			Italic(true)
)

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Source is the bridge surface the dashboard reads and drives.
type Source interface {
	GetMetrics(ctx context.Context) (*bridge.Metrics, error)
	SetFrequency(ctx context.Context, mhz int) error
	Burst(ctx context.Context, n int) ([][client.HashSize]byte, error)
}

// HealthSource reports bridge health over the HTTP API.
type HealthSource interface {
	GetHealth() (*client.HealthResponse, error)
}

type healthMsg struct {
	health *client.HealthResponse
	err    error
}

type metricsMsg struct {
	metrics *bridge.Metrics
	err     error
}

type tickMsg time.Time

type eventMsg struct {
	text string
	err  error
}

type updateResourceDataMsg struct {
	data string
}

// Model represents the dashboard state
type Model struct {
	Addr         string
	Metrics      *bridge.Metrics
	Health       *client.HealthResponse
	LastErr      error
	History      []float64
	Events       []string
	EventView    viewport.Model
	ResourceData string
	Width        int
	Height       int

	source  Source
	health  HealthSource
	refresh time.Duration
	copy    func(string) error
	prev    *bridge.Metrics
	prevAt  time.Time
}

// NewModel creates a dashboard polling source every refresh.
func NewModel(source Source, addr string, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	events := viewport.New(76, 8)
	events.Style = logViewStyle

	m := Model{
		Addr:      addr,
		EventView: events,
		Width:     80,
		Height:    24,
		source:    source,
		refresh:   refresh,
		copy:      clipboard.WriteAll,
	}
	m.addEvent(infoStyle.Render("Watching " + addr))
	return m
}

// WithHealth adds session and device host details from the HTTP API.
func (m Model) WithHealth(h HealthSource) Model {
	m.health = h
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.fetchHealth(), m.tick(), m.updateResourceData())
}

// Update handles UI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			cmds = append(cmds, m.fetch())
		case "+", "=":
			cmds = append(cmds, m.stageFrequency(FrequencyStep))
		case "-":
			cmds = append(cmds, m.stageFrequency(-FrequencyStep))
		case "y":
			cmds = append(cmds, m.yank())
		}

	case tea.WindowSizeMsg:
		m.handleResize(msg)

	case tickMsg:
		cmds = append(cmds, m.fetch(), m.fetchHealth(), m.tick())

	case healthMsg:
		if msg.err == nil {
			m.Health = msg.health
		} else {
			m.Health = nil
		}

	case metricsMsg:
		m.applyMetrics(msg)

	case eventMsg:
		if msg.err != nil {
			m.addEvent(errorStyle.Render(msg.err.Error()))
		} else {
			m.addEvent(msg.text)
		}

	case updateResourceDataMsg:
		m.ResourceData = msg.data
		cmds = append(cmds, m.updateResourceData())
	}

	var cmd tea.Cmd
	m.EventView, cmd = m.EventView.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) applyMetrics(msg metricsMsg) {
	if msg.err != nil {
		if m.LastErr == nil || m.LastErr.Error() != msg.err.Error() {
			m.addEvent(errorStyle.Render("Bridge unreachable: " + msg.err.Error()))
		}
		m.LastErr = msg.err
		return
	}
	if m.LastErr != nil {
		m.addEvent(infoStyle.Render("Bridge reachable again"))
	}
	m.LastErr = nil

	now := time.Now()
	rate := msg.metrics.SharesPerSecond
	if m.prev != nil && msg.metrics.SharesTotal >= m.prev.SharesTotal {
		if dt := now.Sub(m.prevAt).Seconds(); dt > 0 {
			rate = float64(msg.metrics.SharesTotal-m.prev.SharesTotal) / dt
		}
	}
	m.History = append(m.History, rate)
	if len(m.History) > historyLen {
		m.History = m.History[len(m.History)-historyLen:]
	}

	if hw := msg.metrics.HardwareChange; hw != nil {
		if m.Metrics == nil || m.Metrics.HardwareChange == nil || m.Metrics.HardwareChange.ID != hw.ID || m.Metrics.HardwareChange.State != hw.State {
			m.addEvent(fmt.Sprintf("Hardware change #%d %s (%d MHz, %d mV)", hw.ID, hw.State, hw.Payload.Frequency, hw.Payload.Volts))
		}
	}

	m.Metrics = msg.metrics
	m.prev = msg.metrics
	m.prevAt = now
}

func (m *Model) addEvent(text string) {
	line := time.Now().Format("15:04:05") + " " + text
	m.Events = append(m.Events, line)
	if len(m.Events) > maxEvents {
		m.Events = m.Events[len(m.Events)-maxEvents:]
	}
	m.updateEventView()
}

func (m *Model) updateEventView() {
	width := m.EventView.Width - 2
	lines := make([]string, len(m.Events))
	for i, e := range m.Events {
		lines[i] = ansi.Truncate(e, width, "…")
	}
	m.EventView.SetContent(strings.Join(lines, "\n"))
	m.EventView.GotoBottom()
}

func (m *Model) handleResize(msg tea.WindowSizeMsg) {
	m.Width = msg.Width
	m.Height = msg.Height

	eventHeight := msg.Height - 16
	if eventHeight < 3 {
		eventHeight = 3
	}
	m.EventView.Width = msg.Width - 4
	m.EventView.Height = eventHeight
	m.updateEventView()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetch() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		metrics, err := source.GetMetrics(ctx)
		return metricsMsg{metrics: metrics, err: err}
	}
}

func (m Model) fetchHealth() tea.Cmd {
	if m.health == nil {
		return nil
	}
	h := m.health
	return func() tea.Msg {
		health, err := h.GetHealth()
		return healthMsg{health: health, err: err}
	}
}

// stageFrequency stages the current frequency plus delta. Unknown telemetry
// counts as the baseline.
func (m Model) stageFrequency(delta int) tea.Cmd {
	current := BaselineMHz
	if m.Metrics != nil && m.Metrics.Freq > 0 {
		current = int(m.Metrics.Freq)
	}
	target := current + delta
	if target <= 0 {
		return func() tea.Msg {
			return eventMsg{err: fmt.Errorf("refusing to stage %d MHz", target)}
		}
	}

	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if err := source.SetFrequency(ctx, target); err != nil {
			return eventMsg{err: fmt.Errorf("stage %d MHz: %w", target, err)}
		}
		return eventMsg{text: fmt.Sprintf("Frequency %d MHz staged", target)}
	}
}

// yank pulls one hash from the buffer and copies it to the clipboard.
func (m Model) yank() tea.Cmd {
	source, copyFn := m.source, m.copy
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		hashes, err := source.Burst(ctx, 1)
		if err != nil {
			return eventMsg{err: fmt.Errorf("burst: %w", err)}
		}
		if len(hashes) == 0 {
			return eventMsg{err: fmt.Errorf("entropy buffer is empty")}
		}
		h := core.EncodeHex(hashes[0][:])
		if err := copyFn(h); err != nil {
			return eventMsg{err: fmt.Errorf("clipboard: %w", err)}
		}
		return eventMsg{text: "Copied " + h[:16] + "…"}
	}
}

// updateResourceData updates resource usage information
func (m Model) updateResourceData() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		data := fmt.Sprintf("Go: %s", runtime.Version())
		cpuPercent, err := psutil.Percent(0, false)
		memInfo, memErr := psmem.VirtualMemory()
		if err == nil && memErr == nil && len(cpuPercent) > 0 {
			data = fmt.Sprintf("CPU: %.1f%% | RAM: %.1f%% | %s", cpuPercent[0], memInfo.UsedPercent, data)
		}
		return updateResourceDataMsg{data}
	})
}

// View renders the UI
func (m Model) View() string {
	status := "connecting"
	switch {
	case m.LastErr != nil:
		status = "unreachable"
	case m.Metrics != nil:
		status = "live"
	}
	headerContent := fmt.Sprintf(" Chimera Monitor | %s | %s", m.Addr, status)
	if h := m.Health; h != nil {
		headerContent += fmt.Sprintf(" | %d sessions | up %s", h.Sessions, h.Uptime)
		if h.DeviceHost != "" {
			headerContent += " | ASIC: " + h.DeviceHost
		}
	}
	header := headerStyle.Width(m.Width).Render(headerContent)

	help := helpStyle.Render("q quit · r refresh · +/- frequency · y copy hash")
	footer := footerStyle.Width(m.Width).Render(m.ResourceData)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.renderPanels(),
		sparkStyle.Render(Sparkline(m.History, m.Width-4)),
		m.EventView.View(),
		help,
		footer,
	)
}

func (m Model) renderPanels() string {
	mt := m.Metrics
	if mt == nil {
		mt = &bridge.Metrics{CV: 1.0}
	}

	row := func(label, value string) string {
		return labelStyle.Render(label) + valueStyle.Render(value)
	}

	rhythm := panelStyle.Render(strings.Join([]string{
		row("Shares", fmt.Sprintf("%d (%.2f/s)", mt.SharesTotal, mt.SharesPerSecond)),
		row("CV", fmt.Sprintf("%.4f %s", mt.CV, rhythm.Metric{CV: mt.CV}.Burstiness())),
		row("Entropy", fmt.Sprintf("%.4f nats", mt.TimeEntropy)),
		row("Buffered", fmt.Sprintf("%d", mt.BufferedHashes)),
		row("Failed", fmt.Sprintf("%d", mt.FailedHashes)),
		row("Jobs", fmt.Sprintf("%d", mt.JobsEmitted)),
		row("Seed", mt.Seed),
	}, "\n"))

	hw := panelStyle.Render(strings.Join([]string{
		row("Temp", fmt.Sprintf("%.1f C", mt.Temp)),
		row("Power", fmt.Sprintf("%.1f W", mt.Power)),
		row("Voltage", fmt.Sprintf("%.0f mV", mt.Voltage)),
		row("Frequency", fmt.Sprintf("%.0f MHz", mt.Freq)),
		row("Hashrate", fmt.Sprintf("%.1f GH/s", mt.HashRate)),
		row("Change", changeLabel(mt)),
	}, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, rhythm, hw)
}

func changeLabel(m *bridge.Metrics) string {
	if m.HardwareChange == nil {
		return "none"
	}
	return fmt.Sprintf("#%d %s", m.HardwareChange.ID, m.HardwareChange.State)
}

// Sparkline renders the last width values scaled to their maximum.
func Sparkline(values []float64, width int) string {
	if width <= 0 || len(values) == 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	peak := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
	}

	var b strings.Builder
	for _, v := range values {
		idx := 0
		if peak > 0 && v > 0 {
			idx = int(v / peak * float64(len(sparkBlocks)-1))
		}
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}
