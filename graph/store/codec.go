package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

func encodeState[S any](state S) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return data, nil
}

// decodeState rejects fields the state type does not declare, so a row
// written by an incompatible schema fails loudly instead of being dropped.
func decodeState[S any](data []byte) (S, error) {
	var state S
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&state); err != nil {
		return state, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, nil
}

// cloneState produces an independent copy so callers cannot mutate
// stored maps or slices through a shared reference.
func cloneState[S any](state S) (S, error) {
	data, err := encodeState(state)
	if err != nil {
		var zero S
		return zero, err
	}
	return decodeState[S](data)
}
