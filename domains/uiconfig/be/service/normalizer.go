package service

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Config type and segment vocabulary.
const (
	ConfigTypeHeader    = "header"
	ConfigTypeNav       = "nav"
	ConfigTypeDashboard = "dashboard"

	SegmentCorporate  = "corporate"
	SegmentIndividual = "individual"

	ScopeSystem = "system"
	ScopeTenant = "tenant"
	ScopeUser   = "user"
)

const maxDashboardWidgets = 12

var headerRowOrder = []string{"row1", "row2", "row3"}

// defaultHeaderRows fills rows the caller omitted. row1 always carries the
// logo block so a defaulted corporate header passes its own guardrails.
func defaultHeaderRows() map[string][]map[string]any {
	return map[string][]map[string]any{
		"row1": {{"id": "logo", "type": "logo", "visible": true}},
		"row2": {{"id": "primary-nav", "type": "nav", "visible": true}},
		"row3": {{"id": "quick-links", "type": "links", "visible": true}},
	}
}

// Normalized carries the canonical shape of one configuration payload.
// Layout and Widgets are populated for dashboards only.
type Normalized struct {
	ConfigData json.RawMessage
	Layout     json.RawMessage
	Widgets    json.RawMessage
}

// Normalize shapes raw configuration input into its canonical form and
// enforces the publishing guardrails for the config type/segment. It is pure
// and idempotent: the publish path re-runs it on already-normalized rows.
func Normalize(configType, segment string, configData, layout, widgets json.RawMessage) (Normalized, error) {
	switch configType {
	case ConfigTypeHeader:
		return normalizeHeader(segment, configData)
	case ConfigTypeDashboard:
		return normalizeDashboard(configData, layout, widgets)
	case ConfigTypeNav:
		return normalizeGeneric(configData)
	default:
		return Normalized{}, newValidationError(map[string]string{"configType": fmt.Sprintf("unsupported config type %q", configType)})
	}
}

func normalizeHeader(segment string, configData json.RawMessage) (Normalized, error) {
	document, err := decodeObject(configData, "configData")
	if err != nil {
		return Normalized{}, err
	}

	if segment == SegmentIndividual {
		// Individual headers get minimal shaping and no guardrails.
		if _, ok := document["rows"]; !ok {
			document["rows"] = []any{}
		}
		if _, ok := document["logo"]; !ok {
			document["logo"] = map[string]any{}
		}
		return encodeNormalized(document, nil, nil)
	}

	rowsByID := map[string][]map[string]any{}
	if rawRows, ok := document["rows"].([]any); ok {
		for _, rawRow := range rawRows {
			row, ok := rawRow.(map[string]any)
			if !ok {
				continue
			}
			id, _ := row["id"].(string)
			if !isKnownHeaderRow(id) {
				continue // unknown row ids are discarded
			}
			rowsByID[id] = normalizeBlocks(row["blocks"])
		}
	}

	defaults := defaultHeaderRows()
	normalizedRows := make([]any, 0, len(headerRowOrder))
	for _, id := range headerRowOrder {
		blocks, ok := rowsByID[id]
		if !ok {
			blocks = defaults[id]
		}
		blockList := make([]any, 0, len(blocks))
		for _, block := range blocks {
			blockList = append(blockList, block)
		}
		normalizedRows = append(normalizedRows, map[string]any{"id": id, "blocks": blockList})
	}
	document["rows"] = normalizedRows
	if _, ok := document["logo"]; !ok {
		document["logo"] = map[string]any{}
	}

	if err := checkHeaderGuardrails(normalizedRows); err != nil {
		return Normalized{}, err
	}

	return encodeNormalized(document, nil, nil)
}

func isKnownHeaderRow(id string) bool {
	for _, known := range headerRowOrder {
		if id == known {
			return true
		}
	}
	return false
}

func normalizeBlocks(raw any) []map[string]any {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	blocks := make([]map[string]any, 0, len(list))
	for _, item := range list {
		block, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := block["visible"].(bool); !ok {
			block["visible"] = true
		}
		blocks = append(blocks, block)
	}
	return blocks
}

func checkHeaderGuardrails(rows []any) error {
	if len(rows) != len(headerRowOrder) {
		return &GuardrailError{Reason: fmt.Sprintf("corporate header requires exactly %d rows", len(headerRowOrder))}
	}
	for i, raw := range rows {
		row := raw.(map[string]any)
		if row["id"] != headerRowOrder[i] {
			return &GuardrailError{Reason: fmt.Sprintf("corporate header rows must be ordered %v", headerRowOrder)}
		}
		blocks, _ := row["blocks"].([]any)
		if len(blocks) == 0 {
			return &GuardrailError{Reason: fmt.Sprintf("row %s must contain at least one block", row["id"])}
		}
	}

	row1 := rows[0].(map[string]any)
	for _, raw := range row1["blocks"].([]any) {
		if block, ok := raw.(map[string]any); ok && block["type"] == "logo" {
			return nil
		}
	}
	return &GuardrailError{Reason: "row1 must contain a logo block"}
}

func normalizeDashboard(configData, layout, widgets json.RawMessage) (Normalized, error) {
	document, err := decodeObject(configData, "configData")
	if err != nil {
		return Normalized{}, err
	}

	// Layout and widgets may arrive as dedicated fields or embedded in the
	// payload; dedicated fields win, embedded copies are split out.
	rawLayout := extractArray(layout, document, "layout")
	rawWidgets := extractArray(widgets, document, "widgets")
	delete(document, "layout")
	delete(document, "widgets")

	normalizedWidgets := make([]map[string]any, 0, len(rawWidgets))
	widgetTypes := map[string]string{}
	enabledKpis := 0
	for _, item := range rawWidgets {
		widget, ok := item.(map[string]any)
		if !ok {
			return Normalized{}, newValidationError(map[string]string{"widgets": "widget entries must be objects"})
		}
		id, _ := widget["widget_id"].(string)
		if id == "" {
			return Normalized{}, newValidationError(map[string]string{"widgets": "widget_id is required"})
		}
		if _, exists := widgetTypes[id]; exists {
			return Normalized{}, &GuardrailError{Reason: fmt.Sprintf("duplicate widget_id %q", id)}
		}
		widgetType, _ := widget["widget_type"].(string)
		if widgetType == "" {
			return Normalized{}, newValidationError(map[string]string{"widgets": fmt.Sprintf("widget %q is missing widget_type", id)})
		}
		enabled := true
		if value, ok := widget["enabled"].(bool); ok {
			enabled = value
		}
		widgetTypes[id] = widgetType
		if enabled && widgetType == "kpi" {
			enabledKpis++
		}
		normalizedWidgets = append(normalizedWidgets, map[string]any{
			"widget_id":   id,
			"widget_type": widgetType,
			"enabled":     enabled,
		})
	}

	if len(normalizedWidgets) > maxDashboardWidgets {
		return Normalized{}, &GuardrailError{Reason: fmt.Sprintf("dashboard allows at most %d widgets", maxDashboardWidgets)}
	}
	if enabledKpis == 0 {
		return Normalized{}, &GuardrailError{Reason: "dashboard requires at least one enabled kpi widget"}
	}

	normalizedLayout := make([]map[string]any, 0, len(rawLayout))
	layoutIDs := map[string]bool{}
	for _, item := range rawLayout {
		entry, ok := item.(map[string]any)
		if !ok {
			return Normalized{}, newValidationError(map[string]string{"layout": "layout entries must be objects"})
		}
		id, _ := entry["widget_id"].(string)
		if id == "" {
			return Normalized{}, newValidationError(map[string]string{"layout": "layout entries require widget_id"})
		}
		if layoutIDs[id] {
			return Normalized{}, &GuardrailError{Reason: fmt.Sprintf("duplicate layout entry for widget %q", id)}
		}
		layoutIDs[id] = true

		x, err := coordinate(entry, "x", 0)
		if err != nil {
			return Normalized{}, err
		}
		y, err := coordinate(entry, "y", 0)
		if err != nil {
			return Normalized{}, err
		}
		w, err := coordinate(entry, "w", 1)
		if err != nil {
			return Normalized{}, err
		}
		h, err := coordinate(entry, "h", 1)
		if err != nil {
			return Normalized{}, err
		}
		normalizedLayout = append(normalizedLayout, map[string]any{
			"widget_id": id, "x": x, "y": y, "w": w, "h": h,
		})
	}

	// Layout ids and widget ids must match exactly; no orphans either way.
	for id := range layoutIDs {
		if _, ok := widgetTypes[id]; !ok {
			return Normalized{}, &GuardrailError{Reason: fmt.Sprintf("layout references unknown widget %q", id)}
		}
	}
	for id := range widgetTypes {
		if !layoutIDs[id] {
			return Normalized{}, &GuardrailError{Reason: fmt.Sprintf("widget %q has no layout entry", id)}
		}
	}

	sortByWidgetID(normalizedLayout)
	sortByWidgetID(normalizedWidgets)

	return encodeNormalized(document, normalizedLayout, normalizedWidgets)
}

func coordinate(entry map[string]any, key string, minimum int) (int, error) {
	value := 0
	switch v := entry[key].(type) {
	case float64:
		value = int(v)
	case nil:
		value = minimum
	default:
		return 0, newValidationError(map[string]string{"layout": fmt.Sprintf("%s must be numeric", key)})
	}
	if value < minimum {
		return 0, newValidationError(map[string]string{"layout": fmt.Sprintf("%s must be >= %d", key, minimum)})
	}
	return value, nil
}

func sortByWidgetID(entries []map[string]any) {
	sort.Slice(entries, func(i, j int) bool {
		a, _ := entries[i]["widget_id"].(string)
		b, _ := entries[j]["widget_id"].(string)
		return a < b
	})
}

func extractArray(dedicated json.RawMessage, document map[string]any, key string) []any {
	if len(dedicated) > 0 {
		var list []any
		if err := json.Unmarshal(dedicated, &list); err == nil {
			return list
		}
	}
	if embedded, ok := document[key].([]any); ok {
		return embedded
	}
	return nil
}

func normalizeGeneric(configData json.RawMessage) (Normalized, error) {
	document, err := decodeObject(configData, "configData")
	if err != nil {
		return Normalized{}, err
	}
	return encodeNormalized(document, nil, nil)
}

func decodeObject(raw json.RawMessage, field string) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var document map[string]any
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, newValidationError(map[string]string{field: "must be a JSON object"})
	}
	if document == nil {
		document = map[string]any{}
	}
	return document, nil
}

func encodeNormalized(document map[string]any, layout, widgets []map[string]any) (Normalized, error) {
	configData, err := json.Marshal(document)
	if err != nil {
		return Normalized{}, fmt.Errorf("encode normalized config: %w", err)
	}

	normalized := Normalized{ConfigData: configData}
	if layout != nil || widgets != nil {
		if normalized.Layout, err = json.Marshal(orEmpty(layout)); err != nil {
			return Normalized{}, fmt.Errorf("encode normalized layout: %w", err)
		}
		if normalized.Widgets, err = json.Marshal(orEmpty(widgets)); err != nil {
			return Normalized{}, fmt.Errorf("encode normalized widgets: %w", err)
		}
	}
	return normalized, nil
}

func orEmpty(entries []map[string]any) []map[string]any {
	if entries == nil {
		return []map[string]any{}
	}
	return entries
}
