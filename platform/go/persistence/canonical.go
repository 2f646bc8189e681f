package persistence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashEnvelope is the input to the conflict-hash contract. Layout and Widgets
// are included only for dashboard configurations; leave them nil to omit the
// keys entirely so header hashes stay compatible with stored snapshots.
type HashEnvelope struct {
	ConfigType    string
	Segment       string
	Scope         string
	ScopeID       *string
	ConfigVersion int
	ConfigData    json.RawMessage
	Layout        json.RawMessage
	Widgets       json.RawMessage
}

// ComputeConfigHash returns the SHA-256 hex digest over the canonical JSON
// serialization of the envelope: sorted keys at every level, no insignificant
// whitespace. Hash inputs must stay byte-identical across releases because
// stored publish snapshots are compared against them.
func ComputeConfigHash(env HashEnvelope) (string, error) {
	if len(env.ConfigData) == 0 {
		return "", fmt.Errorf("config data is required to compute hash")
	}

	document := map[string]any{
		"config_type":    env.ConfigType,
		"segment":        env.Segment,
		"scope":          env.Scope,
		"scope_id":       nil,
		"config_version": env.ConfigVersion,
	}
	if env.ScopeID != nil {
		document["scope_id"] = *env.ScopeID
	}

	configData, err := decodeRaw(env.ConfigData, "config_data")
	if err != nil {
		return "", err
	}
	document["config_data"] = configData

	if env.Layout != nil {
		layout, err := decodeRaw(env.Layout, "layout")
		if err != nil {
			return "", err
		}
		document["layout"] = layout
	}
	if env.Widgets != nil {
		widgets, err := decodeRaw(env.Widgets, "widgets")
		if err != nil {
			return "", err
		}
		document["widgets"] = widgets
	}

	// encoding/json marshals map keys in sorted order with no extra whitespace,
	// which is exactly the canonical form the snapshot contract requires.
	canonical, err := json.Marshal(document)
	if err != nil {
		return "", fmt.Errorf("canonicalize hash envelope: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func decodeRaw(raw json.RawMessage, field string) (any, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode %s: %w", field, err)
	}
	return decoded, nil
}
