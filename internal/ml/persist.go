package ml

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type  string          `json:"type"`
	Model json.RawMessage `json:"model"`
}

// MarshalModel encodes a fitted model with its type tag.
func MarshalModel(m Model) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.Name(), err)
	}
	return json.Marshal(envelope{Type: m.Name(), Model: body})
}

// UnmarshalModel decodes a model written by MarshalModel.
func UnmarshalModel(data []byte) (Model, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode model envelope: %w", err)
	}

	var m Model
	switch env.Type {
	case ModelGradientBoosting:
		gb := &BoostingModel{}
		if err := json.Unmarshal(env.Model, gb); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", env.Type, err)
		}
		if len(gb.Trees) == 0 {
			return nil, fmt.Errorf("%s has no trees", env.Type)
		}
		m = gb
	case ModelRandomForest:
		rf := &ForestModel{}
		if err := json.Unmarshal(env.Model, rf); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", env.Type, err)
		}
		if len(rf.Trees) == 0 {
			return nil, fmt.Errorf("%s has no trees", env.Type)
		}
		m = rf
	default:
		return nil, fmt.Errorf("unknown model type %q", env.Type)
	}
	return m, nil
}
