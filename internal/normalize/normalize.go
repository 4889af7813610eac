// Package normalize turns an agent's accumulated stream text into the
// structured shape its stage promises. Agents wrap output in markdown fences,
// emit slightly broken JSON, or ignore the schema entirely; normalization has
// to absorb all of that without ever failing the agent.
package normalize

import (
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"quorum/internal/jsonx"
)

// DefaultConfidence is used whenever an agent does not report one.
const DefaultConfidence = 0.5

// StageOutput is the structured result of one agent's stage. Which fields
// are meaningful depends on the stage: draft and refine fill Answer,
// Confidence and AtomicFacts; evaluate fills Rankings, ConsensusFacts and
// FlaggedFacts; synthesize fills FinalAnswer and Confidence. Raw always
// holds the untouched buffer text so a transcript can be re-normalized later
// without data loss.
type StageOutput struct {
	Answer         string   `json:"answer,omitempty"`
	Confidence     float64  `json:"confidence"`
	AtomicFacts    []string `json:"atomic_facts"`
	Rankings       []string `json:"rankings"`
	ConsensusFacts []string `json:"consensus_facts"`
	FlaggedFacts   []string `json:"flagged_facts"`
	FinalAnswer    string   `json:"final_answer,omitempty"`
	Raw            string   `json:"raw"`
}

// payload mirrors the JSON agents are asked to produce. Pointers distinguish
// absent fields from zero values.
type payload struct {
	Answer         *string  `json:"answer"`
	Confidence     *float64 `json:"confidence"`
	AtomicFacts    []string `json:"atomic_facts"`
	Rankings       []string `json:"rankings"`
	ConsensusFacts []string `json:"consensus_facts"`
	FlaggedFacts   []string `json:"flagged_facts"`
	FinalAnswer    *string  `json:"final_answer"`
}

// Normalize parses raw buffer text into the stage's structured shape. It is a
// pure function of its inputs: the same (stage, raw) pair always yields the
// same output, which is what makes transcript replay deterministic.
//
// Parsing runs in three attempts: strict JSON after fence stripping, then a
// jsonrepair pass for near-JSON, then a degraded fallback that carries the
// text verbatim with default confidence and empty lists. A fallback is still
// a completed result, never a failure.
func Normalize(stage int, raw string) *StageOutput {
	body := StripFence(strings.TrimSpace(raw))

	var p payload
	if err := jsonx.Unmarshal([]byte(body), &p); err == nil {
		if out, ok := fromPayload(stage, &p, raw); ok {
			return out
		}
	} else if repaired, repairErr := jsonrepair.JSONRepair(body); repairErr == nil {
		p = payload{}
		if err := jsonx.Unmarshal([]byte(repaired), &p); err == nil {
			if out, ok := fromPayload(stage, &p, raw); ok {
				return out
			}
		}
	}

	return fallback(stage, body, raw)
}

// FromParsed builds a stage output from a structure the backend already
// parsed, keeping raw alongside it. ok is false when the structure lacks the
// stage's primary field, in which case the caller should normalize the buffer
// text instead.
func FromParsed(stage int, parsed jsonx.RawMessage, raw string) (*StageOutput, bool) {
	if len(parsed) == 0 {
		return nil, false
	}
	var p payload
	if err := jsonx.Unmarshal(parsed, &p); err != nil {
		return nil, false
	}
	return fromPayload(stage, &p, raw)
}

// fromPayload maps a parsed payload onto the stage shape. A payload that
// parsed as JSON but carries none of the stage's primary fields is rejected,
// so repaired garbage falls through to the raw-text fallback.
func fromPayload(stage int, p *payload, raw string) (*StageOutput, bool) {
	out := &StageOutput{Confidence: confidenceOrDefault(p.Confidence), Raw: raw}

	switch stage {
	case 1, 2:
		if p.Answer == nil {
			return nil, false
		}
		out.Answer = *p.Answer
		out.AtomicFacts = orEmpty(p.AtomicFacts)
	case 3:
		if p.Rankings == nil && p.ConsensusFacts == nil && p.FlaggedFacts == nil {
			return nil, false
		}
		out.Rankings = orEmpty(p.Rankings)
		out.ConsensusFacts = orEmpty(p.ConsensusFacts)
		out.FlaggedFacts = orEmpty(p.FlaggedFacts)
	case 4:
		switch {
		case p.FinalAnswer != nil:
			out.FinalAnswer = *p.FinalAnswer
		case p.Answer != nil:
			out.FinalAnswer = *p.Answer
		default:
			return nil, false
		}
	default:
		return nil, false
	}
	return out, true
}

// fallback degrades gracefully: the fence-stripped text becomes the stage's
// primary textual field and every structured field takes its default.
func fallback(stage int, body, raw string) *StageOutput {
	out := &StageOutput{Confidence: DefaultConfidence, Raw: raw}
	switch stage {
	case 3:
		out.Rankings = []string{}
		out.ConsensusFacts = []string{}
		out.FlaggedFacts = []string{}
	case 4:
		out.FinalAnswer = body
	default:
		out.Answer = body
		out.AtomicFacts = []string{}
	}
	return out
}

func confidenceOrDefault(c *float64) float64 {
	if c == nil {
		return DefaultConfidence
	}
	switch {
	case *c < 0:
		return 0
	case *c > 1:
		return 1
	}
	return *c
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// StripFence removes one surrounding markdown code fence, language tag
// included, when the whole text is a single fenced block. Text without a
// complete fence is returned unchanged.
func StripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	rest := s[3:]
	// Drop the optional language tag on the opening line.
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		rest = rest[idx+1:]
	} else {
		return s
	}
	rest = strings.TrimRight(rest, " \t\n")
	if !strings.HasSuffix(rest, "```") {
		return s
	}
	rest = strings.TrimSuffix(rest, "```")
	return strings.TrimRight(rest, "\n")
}
