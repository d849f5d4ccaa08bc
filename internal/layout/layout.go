// Package layout holds the history table's column and panel geometry and
// persists it through a kv.Store.
package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/dgnsrekt/proxy_history/internal/kv"
)

// DefaultKey is the kv key the history view persists under.
const DefaultKey = "proxy-history-layout"

var (
	ErrUnknownColumn = errors.New("layout: unknown column")
	ErrUnknownPanel  = errors.New("layout: unknown panel")
)

// Column describes one table column.
type Column struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Visible    bool   `json:"visible"`
	WidthPx    int    `json:"widthPx"`
	MinWidthPx int    `json:"minWidthPx"`
}

// Document is the persisted layout.
type Document struct {
	TopPanelHeight    int      `json:"topPanelHeight"`
	BottomPanelHeight int      `json:"bottomPanelHeight"`
	LeftPanelWidth    int      `json:"leftPanelWidth"`
	Columns           []Column `json:"columns"`
}

// Panel names accepted by ResizePanel.
const (
	PanelTop    = "topPanelHeight"
	PanelBottom = "bottomPanelHeight"
	PanelLeft   = "leftPanelWidth"
)

const minPanelPx = 80

// DefaultColumns returns the built-in column set in display order.
func DefaultColumns() []Column {
	return []Column{
		{ID: "id", Label: "#", Visible: true, WidthPx: 60, MinWidthPx: 40},
		{ID: "method", Label: "Method", Visible: true, WidthPx: 80, MinWidthPx: 60},
		{ID: "protocol", Label: "Proto", Visible: false, WidthPx: 70, MinWidthPx: 50},
		{ID: "host", Label: "Host", Visible: true, WidthPx: 200, MinWidthPx: 100},
		{ID: "url", Label: "URL", Visible: true, WidthPx: 360, MinWidthPx: 120},
		{ID: "status", Label: "Status", Visible: true, WidthPx: 70, MinWidthPx: 50},
		{ID: "length", Label: "Length", Visible: true, WidthPx: 90, MinWidthPx: 60},
		{ID: "time", Label: "Time", Visible: true, WidthPx: 80, MinWidthPx: 60},
		{ID: "timestamp", Label: "Captured", Visible: false, WidthPx: 170, MinWidthPx: 100},
	}
}

// DefaultDocument returns the built-in layout.
func DefaultDocument() Document {
	return Document{
		TopPanelHeight:    420,
		BottomPanelHeight: 320,
		LeftPanelWidth:    260,
		Columns:           DefaultColumns(),
	}
}

// savedColumn distinguishes absent fields from zero values.
type savedColumn struct {
	ID      string `json:"id"`
	Visible *bool  `json:"visible"`
	WidthPx *int   `json:"widthPx"`
}

type savedDocument struct {
	TopPanelHeight    *int          `json:"topPanelHeight"`
	BottomPanelHeight *int          `json:"bottomPanelHeight"`
	LeftPanelWidth    *int          `json:"leftPanelWidth"`
	Columns           []savedColumn `json:"columns"`
}

// Merge overlays a persisted document onto defaults. Every default column is
// kept, in default order; saved visibility and width are applied by id.
// Labels and minimum widths always come from defaults, and saved ids with no
// default are dropped.
func Merge(defaults Document, raw []byte) (Document, error) {
	var saved savedDocument
	if err := json.Unmarshal(raw, &saved); err != nil {
		return defaults, fmt.Errorf("layout: decode saved layout: %w", err)
	}

	out := defaults
	if saved.TopPanelHeight != nil {
		out.TopPanelHeight = max(*saved.TopPanelHeight, minPanelPx)
	}
	if saved.BottomPanelHeight != nil {
		out.BottomPanelHeight = max(*saved.BottomPanelHeight, minPanelPx)
	}
	if saved.LeftPanelWidth != nil {
		out.LeftPanelWidth = max(*saved.LeftPanelWidth, minPanelPx)
	}

	byID := make(map[string]savedColumn, len(saved.Columns))
	for _, c := range saved.Columns {
		byID[c.ID] = c
	}
	out.Columns = make([]Column, len(defaults.Columns))
	for i, col := range defaults.Columns {
		if s, ok := byID[col.ID]; ok {
			if s.Visible != nil {
				col.Visible = *s.Visible
			}
			if s.WidthPx != nil {
				col.WidthPx = *s.WidthPx
			}
		}
		col.WidthPx = max(col.WidthPx, col.MinWidthPx)
		out.Columns[i] = col
	}
	return out, nil
}

// Model is the live layout. Every successful change is written back to the
// store before the call returns.
type Model struct {
	mu       sync.Mutex
	store    kv.Store
	key      string
	defaults Document
	doc      Document
}

// Load reads the persisted layout, merging it onto the defaults. A corrupt
// document falls back to defaults and is reported alongside a usable model.
func Load(store kv.Store, key string) (*Model, error) {
	if key == "" {
		key = DefaultKey
	}
	m := &Model{store: store, key: key, defaults: DefaultDocument()}
	m.doc = cloneDocument(m.defaults)

	raw, ok, err := store.Get(key)
	if err != nil {
		return m, fmt.Errorf("layout: load: %w", err)
	}
	if !ok {
		return m, nil
	}
	doc, err := Merge(m.defaults, raw)
	if err != nil {
		return m, err
	}
	m.doc = doc
	return m, nil
}

// Snapshot returns a copy of the current layout.
func (m *Model) Snapshot() Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneDocument(m.doc)
}

// Resize changes a column's width by delta, never below its minimum.
func (m *Model) Resize(id string, delta int) (Column, error) {
	return m.updateColumn(id, func(c *Column) {
		c.WidthPx = max(saturatingAdd(c.WidthPx, delta), c.MinWidthPx)
	})
}

// SetWidth sets a column's width, clamped to its minimum.
func (m *Model) SetWidth(id string, widthPx int) (Column, error) {
	return m.updateColumn(id, func(c *Column) {
		c.WidthPx = max(widthPx, c.MinWidthPx)
	})
}

// ToggleVisibility flips a column's visibility.
func (m *Model) ToggleVisibility(id string) (Column, error) {
	return m.updateColumn(id, func(c *Column) {
		c.Visible = !c.Visible
	})
}

// ResizePanel sets one of the panel dimensions.
func (m *Model) ResizePanel(panel string, px int) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	px = max(px, minPanelPx)
	switch panel {
	case PanelTop:
		m.doc.TopPanelHeight = px
	case PanelBottom:
		m.doc.BottomPanelHeight = px
	case PanelLeft:
		m.doc.LeftPanelWidth = px
	default:
		return Document{}, fmt.Errorf("%w: %q", ErrUnknownPanel, panel)
	}
	if err := m.persist(); err != nil {
		return Document{}, err
	}
	return cloneDocument(m.doc), nil
}

// Reset restores the defaults and removes the persisted document.
func (m *Model) Reset() (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.doc = cloneDocument(m.defaults)
	if err := m.store.Delete(m.key); err != nil {
		return cloneDocument(m.doc), fmt.Errorf("layout: reset: %w", err)
	}
	return cloneDocument(m.doc), nil
}

// VisibleColumns returns the visible columns in order.
func (m *Model) VisibleColumns() []Column {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Column, 0, len(m.doc.Columns))
	for _, c := range m.doc.Columns {
		if c.Visible {
			out = append(out, c)
		}
	}
	return out
}

func (m *Model) updateColumn(id string, fn func(*Column)) (Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.doc.Columns {
		if m.doc.Columns[i].ID != id {
			continue
		}
		fn(&m.doc.Columns[i])
		if err := m.persist(); err != nil {
			return Column{}, err
		}
		return m.doc.Columns[i], nil
	}
	return Column{}, fmt.Errorf("%w: %q", ErrUnknownColumn, id)
}

func (m *Model) persist() error {
	data, err := json.Marshal(m.doc)
	if err != nil {
		return fmt.Errorf("layout: encode: %w", err)
	}
	if err := m.store.Set(m.key, data); err != nil {
		return fmt.Errorf("layout: save: %w", err)
	}
	return nil
}

func cloneDocument(d Document) Document {
	d.Columns = append([]Column(nil), d.Columns...)
	return d
}

func saturatingAdd(a, b int) int {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return math.MaxInt
	case b < 0 && a < math.MinInt-b:
		return math.MinInt
	}
	return a + b
}
