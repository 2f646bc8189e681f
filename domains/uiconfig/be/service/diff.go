package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// DiffResult summarises what changes between two versions of a configuration.
// The lists are sorted so the same pair of versions always renders the same diff.
type DiffResult struct {
	HasChanges        bool     `json:"hasChanges"`
	ChangeCount       int      `json:"changeCount"`
	Added             []string `json:"added,omitempty"`
	Removed           []string `json:"removed,omitempty"`
	Moved             []string `json:"moved,omitempty"`
	TypeChanged       []string `json:"typeChanged,omitempty"`
	VisibilityChanged []string `json:"visibilityChanged,omitempty"`
	ContentChanged    bool     `json:"contentChanged,omitempty"`
}

// Diff compares two normalized versions of the same config type.
func Diff(configType string, before, after Normalized) DiffResult {
	switch configType {
	case ConfigTypeDashboard:
		return diffDashboard(before, after)
	case ConfigTypeHeader:
		return diffHeader(before.ConfigData, after.ConfigData)
	default:
		return diffGeneric(before.ConfigData, after.ConfigData)
	}
}

type layoutPosition struct {
	X, Y, W, H int
}

type dashboardWidget struct {
	Type     string
	Enabled  bool
	Position layoutPosition
	HasPos   bool
}

func diffDashboard(before, after Normalized) DiffResult {
	old := dashboardIndex(before)
	current := dashboardIndex(after)

	var result DiffResult
	for id, widget := range current {
		previous, existed := old[id]
		switch {
		case !existed:
			result.Added = append(result.Added, id)
		case previous.Type != widget.Type:
			result.TypeChanged = append(result.TypeChanged, id)
		case previous.HasPos && widget.HasPos && previous.Position != widget.Position:
			result.Moved = append(result.Moved, id)
		case previous.Enabled != widget.Enabled:
			result.VisibilityChanged = append(result.VisibilityChanged, id)
		}
	}
	for id := range old {
		if _, kept := current[id]; !kept {
			result.Removed = append(result.Removed, id)
		}
	}

	return finalizeDiff(result)
}

func dashboardIndex(version Normalized) map[string]dashboardWidget {
	index := map[string]dashboardWidget{}

	var widgets []map[string]any
	_ = json.Unmarshal(version.Widgets, &widgets)
	for _, widget := range widgets {
		id, _ := widget["widget_id"].(string)
		if id == "" {
			continue
		}
		widgetType, _ := widget["widget_type"].(string)
		enabled := true
		if value, ok := widget["enabled"].(bool); ok {
			enabled = value
		}
		index[id] = dashboardWidget{Type: widgetType, Enabled: enabled}
	}

	var layout []map[string]any
	_ = json.Unmarshal(version.Layout, &layout)
	for _, entry := range layout {
		id, _ := entry["widget_id"].(string)
		widget, ok := index[id]
		if !ok {
			continue
		}
		widget.Position = layoutPosition{
			X: intField(entry, "x"), Y: intField(entry, "y"),
			W: intField(entry, "w"), H: intField(entry, "h"),
		}
		widget.HasPos = true
		index[id] = widget
	}

	return index
}

func intField(entry map[string]any, key string) int {
	if value, ok := entry[key].(float64); ok {
		return int(value)
	}
	return 0
}

type headerBlock struct {
	Row     string
	Index   int
	Visible bool
	Type    string
}

func diffHeader(before, after json.RawMessage) DiffResult {
	old := headerIndex(before)
	current := headerIndex(after)

	var result DiffResult
	for key, block := range current {
		previous, existed := old[key]
		switch {
		case !existed:
			result.Added = append(result.Added, key)
		case previous.Type != block.Type:
			result.TypeChanged = append(result.TypeChanged, key)
		case previous.Row != block.Row || previous.Index != block.Index:
			result.Moved = append(result.Moved, key)
		case previous.Visible != block.Visible:
			result.VisibilityChanged = append(result.VisibilityChanged, key)
		}
	}
	for key := range old {
		if _, kept := current[key]; !kept {
			result.Removed = append(result.Removed, key)
		}
	}

	return finalizeDiff(result)
}

// headerIndex keys each block by "rowID:blockID" so a block that moves between
// rows reads as removed from one and added to the other.
func headerIndex(raw json.RawMessage) map[string]headerBlock {
	index := map[string]headerBlock{}

	var document struct {
		Rows []struct {
			ID     string           `json:"id"`
			Blocks []map[string]any `json:"blocks"`
		} `json:"rows"`
	}
	_ = json.Unmarshal(raw, &document)

	for _, row := range document.Rows {
		for i, block := range row.Blocks {
			id, _ := block["id"].(string)
			if id == "" {
				continue
			}
			blockType, _ := block["type"].(string)
			visible := true
			if value, ok := block["visible"].(bool); ok {
				visible = value
			}
			index[fmt.Sprintf("%s:%s", row.ID, id)] = headerBlock{
				Row: row.ID, Index: i, Visible: visible, Type: blockType,
			}
		}
	}

	return index
}

func diffGeneric(before, after json.RawMessage) DiffResult {
	equal := bytes.Equal(canonicalJSON(before), canonicalJSON(after))
	if equal {
		return DiffResult{}
	}
	return DiffResult{HasChanges: true, ChangeCount: 1, ContentChanged: true}
}

func canonicalJSON(raw json.RawMessage) []byte {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return raw
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return raw
	}
	return encoded
}

func finalizeDiff(result DiffResult) DiffResult {
	sort.Strings(result.Added)
	sort.Strings(result.Removed)
	sort.Strings(result.Moved)
	sort.Strings(result.TypeChanged)
	sort.Strings(result.VisibilityChanged)

	result.ChangeCount = len(result.Added) + len(result.Removed) + len(result.Moved) +
		len(result.TypeChanged) + len(result.VisibilityChanged)
	result.HasChanges = result.ChangeCount > 0
	return result
}
