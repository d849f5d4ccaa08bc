// Package tui is a terminal history viewer. One table row is one record; the
// engine's virtual window decides which rows are materialized.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dgnsrekt/proxy_history/internal/history"
	"github.com/dgnsrekt/proxy_history/internal/layout"
	"github.com/dgnsrekt/proxy_history/internal/types"
)

// Engine is the part of history.Engine the viewer drives.
type Engine interface {
	Scroll(ctx context.Context, vp history.ViewportState) (history.ScrollResult, error)
	Select(ctx context.Context, id int64) (history.SelectionState, error)
	ClearSelection(ctx context.Context) error
	DetailTab(ctx context.Context, tab history.DetailTab) (string, error)
	Filter(ctx context.Context) (history.Predicate, error)
	SetFilter(ctx context.Context, p history.Predicate) (history.Counts, error)
	Stats(ctx context.Context) (history.Stats, error)
	Clear(ctx context.Context) (int, error)
}

type Config struct {
	Engine  Engine
	Layout  *layout.Model
	Changes <-chan history.Change
	Source  string
	// Timeout bounds each engine call.
	Timeout time.Duration
}

var tabs = []history.DetailTab{history.TabRaw, history.TabPretty, history.TabHex}

var statusClasses = []int{0, 2, 3, 4, 5}

var protocols = []types.Protocol{"", types.ProtocolHTTP, types.ProtocolHTTPS}

type Model struct {
	cfg    Config
	styles styles
	keys   keyMap
	help   help.Model

	width  int
	height int

	top     int
	cursor  int
	result  history.ScrollResult
	stats   history.Stats
	filter  history.Predicate
	columns []layout.Column

	detailOpen bool
	selectedID int64
	tab        history.DetailTab
	detail     viewport.Model

	search    textinput.Model
	searching bool

	toast      string
	toastUntil time.Time
	now        func() time.Time
}

type changeMsg struct{ change history.Change }

type windowMsg struct {
	result history.ScrollResult
	stats  history.Stats
	err    error
}

type detailMsg struct {
	id      int64
	tab     history.DetailTab
	content string
	err     error
}

type filterMsg struct {
	filter history.Predicate
	counts history.Counts
	err    error
}

type clearedMsg struct {
	n   int
	err error
}

type toastMsg struct{ text string }

func New(cfg Config) Model {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	search := textinput.New()
	search.Prompt = "/ "
	search.Placeholder = "url or host"
	search.CharLimit = 256

	d := viewport.New(0, 0)
	d.Style = lipgloss.NewStyle().Padding(0, 1)

	m := Model{
		cfg:    cfg,
		styles: newStyles(),
		keys:   newKeyMap(),
		help:   help.New(),
		tab:    history.TabRaw,
		detail: d,
		search: search,
		now:    time.Now,
	}
	m.columns = m.visibleColumns()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForChange(), m.refresh())
}

func (m Model) waitForChange() tea.Cmd {
	ch := m.cfg.Changes
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return nil
		}
		return changeMsg{change: c}
	}
}

func (m Model) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.cfg.Timeout)
}

// tableHeight is the number of record rows on screen.
func (m Model) tableHeight() int {
	h := m.height - 4 // title, column header, footer, padding
	if m.detailOpen {
		h = h / 2
	}
	return max(h, 1)
}

func (m Model) viewportState() history.ViewportState {
	return history.ViewportState{
		ScrollOffsetPx:    m.top,
		ContainerHeightPx: m.tableHeight(),
		ItemHeightPx:      1,
	}
}

func (m Model) refresh() tea.Cmd {
	eng, vp := m.cfg.Engine, m.viewportState()
	ctx, cancel := m.ctx()
	return func() tea.Msg {
		defer cancel()
		res, err := eng.Scroll(ctx, vp)
		if err != nil {
			return windowMsg{err: err}
		}
		stats, err := eng.Stats(ctx)
		return windowMsg{result: res, stats: stats, err: err}
	}
}

func (m Model) loadDetail(id int64, tab history.DetailTab) tea.Cmd {
	eng := m.cfg.Engine
	ctx, cancel := m.ctx()
	return func() tea.Msg {
		defer cancel()
		if _, err := eng.Select(ctx, id); err != nil {
			return detailMsg{id: id, tab: tab, err: err}
		}
		content, err := eng.DetailTab(ctx, tab)
		return detailMsg{id: id, tab: tab, content: content, err: err}
	}
}

func (m Model) closeDetail() tea.Cmd {
	eng := m.cfg.Engine
	ctx, cancel := m.ctx()
	return func() tea.Msg {
		defer cancel()
		if err := eng.ClearSelection(ctx); err != nil {
			return toastMsg{text: "close detail: " + err.Error()}
		}
		return nil
	}
}

func (m Model) applyFilter(update func(*history.Predicate)) tea.Cmd {
	eng := m.cfg.Engine
	ctx, cancel := m.ctx()
	return func() tea.Msg {
		defer cancel()
		p, err := eng.Filter(ctx)
		if err != nil {
			return filterMsg{err: err}
		}
		update(&p)
		counts, err := eng.SetFilter(ctx, p)
		return filterMsg{filter: p, counts: counts, err: err}
	}
}

func (m Model) clearHistory() tea.Cmd {
	eng := m.cfg.Engine
	ctx, cancel := m.ctx()
	return func() tea.Msg {
		defer cancel()
		n, err := eng.Clear(ctx)
		return clearedMsg{n: n, err: err}
	}
}

func toastCmd(text string) tea.Cmd {
	return func() tea.Msg { return toastMsg{text: text} }
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case toastMsg:
		m.toast = msg.text
		m.toastUntil = m.now().Add(3 * time.Second)
		return m, nil
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layoutDetail()
		return m, m.refresh()
	case changeMsg:
		if msg.change.SelectionCleared && m.detailOpen {
			m.detailOpen = false
			m.selectedID = 0
			m.layoutDetail()
		}
		return m, tea.Batch(m.waitForChange(), m.refresh())
	case windowMsg:
		if msg.err != nil {
			return m, toastCmd("refresh: " + msg.err.Error())
		}
		m.result = msg.result
		m.stats = msg.stats
		if m.clampCursor() {
			return m, m.refresh()
		}
		return m, nil
	case detailMsg:
		if msg.err != nil {
			var coded *history.CodedError
			if errors.As(msg.err, &coded) && coded.Code == history.CodeNotFound {
				m.detailOpen = false
				m.selectedID = 0
				m.layoutDetail()
			}
			return m, toastCmd("detail: " + msg.err.Error())
		}
		m.detailOpen = true
		m.selectedID = msg.id
		m.tab = msg.tab
		m.layoutDetail()
		m.detail.SetContent(msg.content)
		m.detail.GotoTop()
		return m, m.refresh()
	case filterMsg:
		if msg.err != nil {
			return m, toastCmd("filter: " + msg.err.Error())
		}
		m.filter = msg.filter
		m.top, m.cursor = 0, 0
		return m, tea.Batch(m.refresh(), toastCmd(fmt.Sprintf("%d of %d match", msg.counts.Matched, msg.counts.Total)))
	case clearedMsg:
		if msg.err != nil {
			return m, toastCmd("clear failed: " + msg.err.Error())
		}
		m.top, m.cursor = 0, 0
		m.detailOpen = false
		m.layoutDetail()
		return m, tea.Batch(m.refresh(), toastCmd(fmt.Sprintf("cleared %d records", msg.n)))
	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateKeys(msg)
	}

	if m.detailOpen {
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.searching = false
		m.search.Blur()
		term := m.search.Value()
		return m, m.applyFilter(func(p *history.Predicate) { p.Search = term })
	case tea.KeyEsc:
		m.searching = false
		m.search.Blur()
		m.search.SetValue(m.filter.Search)
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	page := m.tableHeight()
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		return m.moveCursor(-1)
	case key.Matches(msg, m.keys.Down):
		return m.moveCursor(1)
	case key.Matches(msg, m.keys.PageUp):
		return m.moveCursor(-page)
	case key.Matches(msg, m.keys.PageDown):
		return m.moveCursor(page)
	case key.Matches(msg, m.keys.Top):
		return m.moveCursor(-m.cursor)
	case key.Matches(msg, m.keys.Bottom):
		return m.moveCursor(m.result.Matched - 1 - m.cursor)
	case key.Matches(msg, m.keys.Open):
		rec, ok := m.cursorRecord()
		if !ok {
			return m, nil
		}
		return m, m.loadDetail(rec.ID, m.tab)
	case key.Matches(msg, m.keys.Close):
		if !m.detailOpen {
			return m, nil
		}
		m.detailOpen = false
		m.selectedID = 0
		m.layoutDetail()
		return m, tea.Batch(m.closeDetail(), m.refresh())
	case key.Matches(msg, m.keys.NextTab):
		if !m.detailOpen {
			return m, nil
		}
		return m, m.loadDetail(m.selectedID, nextTab(m.tab))
	case key.Matches(msg, m.keys.Search):
		m.searching = true
		m.search.SetValue(m.filter.Search)
		m.search.CursorEnd()
		return m, m.search.Focus()
	case key.Matches(msg, m.keys.StatusClass):
		next := cycle(statusClasses, m.filter.StatusClass)
		return m, m.applyFilter(func(p *history.Predicate) {
			p.StatusClass, p.StatusMin, p.StatusMax = next, 0, 0
		})
	case key.Matches(msg, m.keys.Protocol):
		next := cycle(protocols, m.filter.Protocol)
		return m, m.applyFilter(func(p *history.Predicate) { p.Protocol = next })
	case key.Matches(msg, m.keys.Widen):
		return m.resizeColumn("url", 8*pxPerCell)
	case key.Matches(msg, m.keys.Narrow):
		return m.resizeColumn("url", -8*pxPerCell)
	case key.Matches(msg, m.keys.Clear):
		return m, m.clearHistory()
	}

	if m.detailOpen {
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) moveCursor(delta int) (tea.Model, tea.Cmd) {
	if m.result.Matched == 0 {
		return m, nil
	}
	m.cursor = min(max(m.cursor+delta, 0), m.result.Matched-1)
	m.follow()
	return m, m.refresh()
}

// follow scrolls just enough to keep the cursor on screen.
func (m *Model) follow() {
	h := m.tableHeight()
	if m.cursor < m.top {
		m.top = m.cursor
	}
	if m.cursor >= m.top+h {
		m.top = m.cursor - h + 1
	}
}

// clampCursor keeps the cursor inside the filtered view after it shrinks and
// reports whether the scroll position moved.
func (m *Model) clampCursor() bool {
	last := max(m.result.Matched-1, 0)
	m.cursor = min(m.cursor, last)
	top := m.top
	m.top = min(m.top, max(m.result.Matched-m.tableHeight(), 0))
	m.follow()
	return m.top != top
}

func (m Model) cursorRecord() (types.TrafficRecord, bool) {
	i := m.cursor - m.result.Window.Start
	if i < 0 || i >= len(m.result.Rows) {
		return types.TrafficRecord{}, false
	}
	return m.result.Rows[i], true
}

func (m Model) resizeColumn(id string, delta int) (tea.Model, tea.Cmd) {
	if m.cfg.Layout == nil {
		return m, nil
	}
	if _, err := m.cfg.Layout.Resize(id, delta); err != nil {
		return m, toastCmd("layout: " + err.Error())
	}
	m.columns = m.visibleColumns()
	return m, nil
}

func (m Model) visibleColumns() []layout.Column {
	if m.cfg.Layout != nil {
		return m.cfg.Layout.VisibleColumns()
	}
	var cols []layout.Column
	for _, c := range layout.DefaultColumns() {
		if c.Visible {
			cols = append(cols, c)
		}
	}
	return cols
}

func (m *Model) layoutDetail() {
	w := max(m.width-m.styles.app.GetHorizontalPadding()-2, 10)
	m.detail.Width = w
	m.detail.Height = max(m.height-m.tableHeight()-7, 3)
}

func nextTab(t history.DetailTab) history.DetailTab {
	return cycle(tabs, t)
}

func cycle[T comparable](values []T, current T) T {
	for i, v := range values {
		if v == current {
			return values[(i+1)%len(values)]
		}
	}
	return values[0]
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteString("\n")
	b.WriteString(m.viewTable())
	if m.detailOpen {
		b.WriteString("\n")
		b.WriteString(m.viewDetail())
	}
	b.WriteString("\n")
	b.WriteString(m.viewFooter())
	return m.styles.app.Render(b.String())
}

func (m Model) viewHeader() string {
	parts := []string{
		m.styles.title.Render("proxy history"),
		m.styles.dim.Render(fmt.Sprintf("%d/%d", m.result.Matched, m.stats.Total)),
	}
	if m.cfg.Source != "" {
		parts = append(parts, m.styles.dim.Render("source: "+m.cfg.Source))
	}
	if m.stats.Total > 0 {
		parts = append(parts, m.styles.dim.Render(fmt.Sprintf("avg %.0fms", m.stats.AvgResponseTimeMs)))
	}
	if f := describeFilter(m.filter); f != "" {
		parts = append(parts, m.styles.badge.Render(f))
	}
	if m.result.HasMore {
		parts = append(parts, m.styles.dim.Render("more on backend"))
	}
	return strings.Join(parts, "  ")
}

func (m Model) viewTable() string {
	cells := make([]string, len(m.columns))
	for i, c := range m.columns {
		cells[i] = fit(c.Label, cellWidth(c))
	}
	lines := []string{m.styles.header.Render(strings.Join(cells, " "))}

	h := m.tableHeight()
	for row := m.top; row < m.top+h; row++ {
		i := row - m.result.Window.Start
		if i < 0 || i >= len(m.result.Rows) {
			if row >= m.result.Matched {
				break
			}
			lines = append(lines, m.styles.dim.Render("…"))
			continue
		}
		lines = append(lines, m.viewRow(m.result.Rows[i], row == m.cursor))
	}
	if m.result.Matched == 0 {
		lines = append(lines, m.styles.dim.Render("no records"))
	}
	return strings.Join(lines, "\n")
}

func (m Model) viewRow(r types.TrafficRecord, cursor bool) string {
	cells := make([]string, len(m.columns))
	for i, c := range m.columns {
		cell := fit(cellValue(c.ID, r), cellWidth(c))
		if c.ID == "status" && !cursor {
			cell = m.styles.statusCode(r.StatusCode).Render(cell)
		}
		cells[i] = cell
	}
	line := strings.Join(cells, " ")
	if cursor {
		return m.styles.selected.Render(line)
	}
	if r.ID == m.selectedID && m.detailOpen {
		return m.styles.title.Render(line)
	}
	return line
}

func (m Model) viewDetail() string {
	tabsLine := make([]string, len(tabs))
	for i, t := range tabs {
		style := m.styles.tab
		if t == m.tab {
			style = m.styles.tabActive
		}
		tabsLine[i] = style.Render(string(t))
	}
	head := lipgloss.JoinHorizontal(lipgloss.Left, tabsLine...)
	head += m.styles.dim.Render(fmt.Sprintf("  #%d", m.selectedID))
	return m.styles.border.Render(head + "\n" + m.detail.View())
}

func (m Model) viewFooter() string {
	if m.searching {
		return m.search.View()
	}
	if m.toast != "" && m.now().Before(m.toastUntil) {
		return m.styles.status.Render(m.toast)
	}
	return m.help.View(m.keys)
}

func describeFilter(p history.Predicate) string {
	var parts []string
	if p.Protocol != "" {
		parts = append(parts, string(p.Protocol))
	}
	if p.Method != "" {
		parts = append(parts, p.Method)
	}
	if p.StatusClass != 0 {
		parts = append(parts, fmt.Sprintf("%dxx", p.StatusClass))
	}
	if p.StatusMin != 0 || p.StatusMax != 0 {
		parts = append(parts, fmt.Sprintf("status %d-%d", p.StatusMin, p.StatusMax))
	}
	if p.Host != "" {
		parts = append(parts, "host:"+p.Host)
	}
	if p.Search != "" {
		parts = append(parts, fmt.Sprintf("%q", p.Search))
	}
	return strings.Join(parts, " ")
}
