package cmd

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/adamgarcia4/goLearning/meshguard/gossip"
	"github.com/adamgarcia4/goLearning/meshguard/logger"
	"github.com/adamgarcia4/goLearning/meshguard/node"
)

var (
	meshSize        int
	meshRegions     int
	liveInterval    time.Duration
	refreshInterval = 500 * time.Millisecond
)

const logLines = 12

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start interactive mesh monitor",
	Long: `Start a terminal monitor over a live in-memory mesh.

Keys:
  C        power on the next roster device
  D        delete a node (pick with arrows or its number)
  X        clone a node (same identity and address, different q sequence)
  Enter    repeat the last C/D/X
  ↑/↓ j/k  focus a node; its neighbor table is shown below the mesh
  [ / ]    scroll logs
  Q        quit

Examples:
  meshguard interactive --size 6 --regions 2`,
	RunE: runInteractive,
}

func init() {
	rootCmd.AddCommand(interactiveCmd)

	interactiveCmd.Flags().IntVar(&meshSize, "size", 8, "Number of devices in the roster")
	interactiveCmd.Flags().IntVar(&meshRegions, "regions", 2, "Number of regions, assigned round robin")
	interactiveCmd.Flags().DurationVar(&liveInterval, "epoch-interval", node.DefaultEpochInterval, "Epoch interval")
}

// pickMode is the action waiting for a node selection.
type pickMode string

const (
	pickNone   pickMode = ""
	pickDelete pickMode = "delete"
	pickClone  pickMode = "clone"
	powerOn    pickMode = "create"
)

// command is a completed action, kept so Enter can repeat it.
type command struct {
	action pickMode
	index  int
}

// preview is the key sequence that repeats c, e.g. "X → 2".
func (c command) preview() string {
	switch c.action {
	case powerOn:
		return "C"
	case pickDelete:
		return fmt.Sprintf("D → %d", c.index+1)
	case pickClone:
		return fmt.Sprintf("X → %d", c.index+1)
	}
	return ""
}

// meshRow is a point-in-time copy of one node, taken off the UI goroutine's
// render path so View never touches a running node.
type meshRow struct {
	state gossip.LoopState
	clone bool
	led   bool
}

func snapshotMesh(manager *node.Manager) []meshRow {
	nodes := manager.GetNodes()
	rows := make([]meshRow, len(nodes))
	for i, n := range nodes {
		rows[i] = meshRow{state: n.State(), clone: manager.IsClone(n), led: n.LEDOn()}
	}
	return rows
}

type model struct {
	manager *node.Manager
	rows    []meshRow

	mode   pickMode
	cursor int
	typed  string // digits typed in pick mode
	last   *command
	err    error

	logs      *logger.LogBuffer
	logOffset int
	width     int
}

func initialModel(manager *node.Manager) model {
	return model{
		manager: manager,
		rows:    snapshotMesh(manager),
		logs:    logger.GetGlobalLogBuffer(),
	}
}

type refreshMsg time.Time

type meshUpdatedMsg []meshRow

type shutdownMsg struct{ err error }

func (m model) Init() tea.Cmd {
	return tea.Batch(scheduleRefresh(), m.pollMesh())
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m model) pollMesh() tea.Cmd {
	manager := m.manager
	return func() tea.Msg { return meshUpdatedMsg(snapshotMesh(manager)) }
}

func (m model) shutdown() tea.Cmd {
	manager := m.manager
	return func() tea.Msg { return shutdownMsg{err: manager.StopAll()} }
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()
		if key == "q" || key == "ctrl+c" {
			return m, m.shutdown()
		}
		if m.mode != pickNone {
			return m.updatePick(key), nil
		}
		return m.updateBrowse(key), nil

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case refreshMsg:
		return m, tea.Batch(scheduleRefresh(), m.pollMesh())

	case meshUpdatedMsg:
		m.rows = msg
		m.clampCursor()

	case shutdownMsg:
		if msg.err != nil {
			logger.Errorf("Error stopping nodes during shutdown: %v", msg.err)
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m model) updateBrowse(key string) model {
	switch key {
	case "c", "C":
		return m.run(command{action: powerOn})
	case "d", "D":
		return m.beginPick(pickDelete)
	case "x", "X":
		return m.beginPick(pickClone)
	case "enter":
		if m.last == nil {
			return m
		}
		return m.run(*m.last)
	case "up", "k":
		m.moveCursor(-1)
	case "down", "j":
		m.moveCursor(1)
	case "[":
		if m.logOffset < m.logs.Len()-logLines {
			m.logOffset++
		}
	case "]":
		if m.logOffset > 0 {
			m.logOffset--
		}
	}
	return m
}

func (m model) updatePick(key string) model {
	switch key {
	case "esc":
		m.mode, m.typed, m.err = pickNone, "", nil
	case "up", "k":
		m.typed = ""
		m.moveCursor(-1)
	case "down", "j":
		m.typed = ""
		m.moveCursor(1)
	case "enter", " ":
		index := m.cursor
		if m.typed != "" {
			num, _ := strconv.Atoi(m.typed)
			m.typed = ""
			if num < 1 || num > len(m.rows) {
				m.err = fmt.Errorf("node %d does not exist (max: %d)", num, len(m.rows))
				return m
			}
			index = num - 1
		}
		return m.run(command{action: m.mode, index: index})
	default:
		if len(key) == 1 && key[0] >= '0' && key[0] <= '9' {
			m.typed += key
		} else {
			m.typed = ""
		}
	}
	return m
}

func (m model) beginPick(mode pickMode) model {
	if len(m.rows) == 0 {
		m.err = fmt.Errorf("no nodes to %s", mode)
		return m
	}
	m.mode, m.typed, m.err = mode, "", nil
	return m
}

// run applies c to the mesh. On success it leaves pick mode and remembers c
// for Enter; on failure the mode is kept so the user can pick again.
func (m model) run(c command) model {
	var err error
	switch c.action {
	case powerOn:
		_, err = m.manager.AddNode()
	case pickDelete, pickClone:
		if c.index < 0 || c.index >= len(m.rows) {
			err = fmt.Errorf("node %d no longer exists", c.index+1)
			break
		}
		if c.action == pickDelete {
			err = m.manager.DeleteNode(c.index)
		} else {
			_, err = m.manager.CloneNode(c.index, nil)
		}
	}
	if err != nil {
		m.err = err
		return m
	}

	m.rows = snapshotMesh(m.manager)
	m.clampCursor()
	m.mode, m.err = pickNone, nil
	m.last = &c
	return m
}

func (m *model) moveCursor(delta int) {
	m.cursor += delta
	m.clampCursor()
}

func (m *model) clampCursor() {
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Padding(1, 2)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	cursorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	pickStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	stableStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	disturbedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	alertStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	helpStyle      = dimStyle.Italic(true).PaddingTop(1)
	paneStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("meshguard · %d node(s)", len(m.rows))))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: "+m.err.Error()) + "\n\n")
	}

	b.WriteString(m.meshView())
	b.WriteString("\n")
	if len(m.rows) > 0 {
		b.WriteString(m.neighborView(m.rows[m.cursor]))
		b.WriteString("\n")
	}
	b.WriteString(m.logView())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help()))
	return b.String()
}

func (m model) meshView() string {
	if len(m.rows) == 0 {
		return dimStyle.Render("No nodes running. Press C to power one on.") + "\n"
	}

	var b strings.Builder
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %-4s  %-12s %-10s %-12s %-10s %-6s %-4s %s",
		"#", "Node", "Region", "x", "Status", "Epoch", "LED", "Alert")))
	b.WriteString("\n")
	for i, row := range m.rows {
		line := rowLine(i, row)
		switch {
		case i != m.cursor:
			line = "  " + line
		case m.mode != pickNone:
			line = pickStyle.Render("> " + line)
		default:
			line = cursorStyle.Render("› ") + line
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func rowLine(i int, row meshRow) string {
	st := row.state
	name := string(st.Self)
	if row.clone {
		name += "*"
	}

	status := fmt.Sprintf("%-10s", st.Own.Status)
	if st.Own.Status == gossip.StatusStable {
		status = stableStyle.Render(status)
	} else {
		status = disturbedStyle.Render(status)
	}
	led := "off"
	if row.led {
		led = "on"
	}
	alert := "-"
	if st.Alert != nil {
		alert = alertStyle.Render(fmt.Sprintf("%s (%s)", st.Alert.Suspect, st.Alert.Kind))
	}

	return fmt.Sprintf("[%-2d]  %-12s %-10s %-12.6f %s %-6d %-4s %s",
		i+1, name, st.Region, st.Own.X, status, st.Own.Epoch, led, alert)
}

// neighborView lists what the focused node has heard, by neighbor id.
func (m model) neighborView(row meshRow) string {
	st := row.state
	lines := []string{fmt.Sprintf("%s heard from %d neighbor(s), history %s",
		st.Self, len(st.Neighbors), formatHistory(st.History))}

	ids := make([]gossip.NodeID, 0, len(st.Neighbors))
	for id := range st.Neighbors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		rec := st.Neighbors[id]
		lines = append(lines, fmt.Sprintf("  %-12s x=%-12.6f %-10s epoch %-6d seen %s",
			id, rec.Code, rec.Status, rec.Epoch, rec.LastSeen.Format("15:04:05")))
	}
	return paneStyle.Width(m.paneWidth()).Render(strings.Join(lines, "\n"))
}

func formatHistory(history []float64) string {
	if len(history) == 0 {
		return "[]"
	}
	parts := make([]string, len(history))
	for i, x := range history {
		parts[i] = strconv.FormatFloat(x, 'f', 4, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// logView renders logLines entries ending logOffset entries before the
// newest, newest first.
func (m model) logView() string {
	entries := m.logs.GetRecent(logLines + m.logOffset)
	if n := len(entries) - m.logOffset; n >= 0 {
		entries = entries[:n]
	} else {
		entries = nil
	}

	lines := []string{"Logs:"}
	for i := len(entries) - 1; i >= 0; i-- {
		lines = append(lines, logger.FormatLogEntry(entries[i]))
	}
	if len(entries) == 0 {
		lines = append(lines, dimStyle.Render("(no logs yet)"))
	}
	return paneStyle.Width(m.paneWidth()).Height(logLines + 1).Render(strings.Join(lines, "\n"))
}

func (m model) paneWidth() int {
	if m.width > 4 {
		return m.width - 4
	}
	return 100
}

func (m model) help() string {
	if m.mode != pickNone {
		if m.typed != "" {
			return fmt.Sprintf("%s: node %s, Enter to confirm, Esc to cancel", strings.ToUpper(string(m.mode)), m.typed)
		}
		return fmt.Sprintf("%s: ↑/↓ or type a node number (1-%d), Enter to confirm, Esc to cancel",
			strings.ToUpper(string(m.mode)), len(m.rows))
	}
	help := "C power on | D delete | X clone"
	if m.last != nil {
		help += fmt.Sprintf(" | Enter repeats %s", m.last.preview())
	}
	return help + " | ↑/↓ focus | [ ] scroll logs | Q quit"
}

func runInteractive(cmd *cobra.Command, args []string) error {
	// The monitor owns the terminal, so logs only reach its buffer
	if err := setupLogger(false); err != nil {
		return err
	}
	if err := logger.AddOutput(logger.NewLogBufferWriter(logger.GetGlobalLogBuffer())); err != nil {
		return err
	}

	template := node.DefaultConfig("")
	template.EpochInterval = liveInterval
	manager, err := node.NewManager(node.ManagerOptions{
		Template: template,
		Size:     meshSize,
		Regions:  meshRegions,
		Live:     true,
	})
	if err != nil {
		return err
	}

	if _, err := tea.NewProgram(initialModel(manager), tea.WithAltScreen()).Run(); err != nil {
		_ = manager.StopAll()
		return fmt.Errorf("error running interactive mode: %w", err)
	}
	return nil
}
