package pipeline

import (
	"bytes"
	"fmt"

	"quorum/internal/jsonx"
	"quorum/internal/normalize"
)

// StageResponses maps agent identifiers to their structured stage output,
// keeping keys in first-seen order. JSON round-trips preserve that order, so
// a restored transcript lists agents exactly as the live run did.
type StageResponses struct {
	order   []string
	byAgent map[string]*normalize.StageOutput
}

// Agents lists the agent identifiers in insertion order.
func (r *StageResponses) Agents() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Get returns the output recorded for an agent.
func (r *StageResponses) Get(agent string) (*normalize.StageOutput, bool) {
	if r == nil {
		return nil, false
	}
	out, ok := r.byAgent[agent]
	return out, ok
}

// Len returns the number of recorded agents.
func (r *StageResponses) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Set records an output for an agent, keeping first-seen key order.
func (r *StageResponses) Set(agent string, out *normalize.StageOutput) {
	r.set(agent, out)
}

func (r *StageResponses) set(agent string, out *normalize.StageOutput) {
	if r.byAgent == nil {
		r.byAgent = make(map[string]*normalize.StageOutput)
	}
	if _, exists := r.byAgent[agent]; !exists {
		r.order = append(r.order, agent)
	}
	r.byAgent[agent] = out
}

// MarshalJSON writes a JSON object whose keys follow insertion order.
func (r *StageResponses) MarshalJSON() ([]byte, error) {
	if r == nil || len(r.order) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, agent := range r.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := jsonx.Marshal(agent)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := jsonx.Marshal(r.byAgent[agent])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, recording keys in document order.
func (r *StageResponses) UnmarshalJSON(data []byte) error {
	r.order = nil
	r.byAgent = nil

	dec := jsonx.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("stage responses: %w", err)
	}
	if delim, ok := tok.(jsonx.Delim); !ok || delim != '{' {
		return fmt.Errorf("stage responses: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("stage responses key: %w", err)
		}
		agent, ok := tok.(string)
		if !ok {
			return fmt.Errorf("stage responses: non-string key %v", tok)
		}
		var out normalize.StageOutput
		if err := dec.Decode(&out); err != nil {
			return fmt.Errorf("stage responses %q: %w", agent, err)
		}
		r.set(agent, &out)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("stage responses: %w", err)
	}
	return nil
}
