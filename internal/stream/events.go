package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"quorum/internal/jsonx"
)

// Event is the tagged union of everything the deliberation stream can carry.
// Decoded events are concrete value types; consumers switch exhaustively.
type Event interface {
	streamEvent()
}

// StageStart announces that the backend began a deliberation stage.
type StageStart struct {
	Stage int
}

// StageComplete carries the backend's final agent count for a stage. It may
// arrive before or after the individual agent done events for that stage.
type StageComplete struct {
	Stage int
	Count int
}

// AgentChunk is one streamed text fragment for a (stage, agent) pair.
type AgentChunk struct {
	Stage   int
	Agent   string
	Content string
}

// AgentDone closes a (stage, agent) pair. The backend may attach its own
// parsed structure and confidence alongside the success flag.
type AgentDone struct {
	Stage       int
	Agent       string
	Success     bool
	Confidence  *float64
	Parsed      jsonx.RawMessage
	FinalAnswer string
}

// AgentError reports an isolated per-agent failure.
type AgentError struct {
	Stage   int
	Agent   string
	Message string
}

// SynthesizerSelected names the agent chosen to produce the final answer.
type SynthesizerSelected struct {
	Agent string
	Label string
}

// PipelineComplete marks the end of the run, partial successes included.
type PipelineComplete struct{}

// PipelineError is a run-level failure reported by the backend.
type PipelineError struct {
	Message string
}

func (StageStart) streamEvent()          {}
func (StageComplete) streamEvent()       {}
func (AgentChunk) streamEvent()          {}
func (AgentDone) streamEvent()           {}
func (AgentError) streamEvent()          {}
func (SynthesizerSelected) streamEvent() {}
func (PipelineComplete) streamEvent()    {}
func (PipelineError) streamEvent()       {}

// ErrUnknownEvent marks a frame whose event name is not recognized. Callers
// log and skip these so newer backends stay compatible.
var ErrUnknownEvent = errors.New("unknown event name")

// wirePayload is the superset of fields carried by any frame's data line.
type wirePayload struct {
	Step        int              `json:"step,omitempty"`
	Count       int              `json:"count,omitempty"`
	Provider    string           `json:"provider,omitempty"`
	Content     string           `json:"content,omitempty"`
	Success     *bool            `json:"success,omitempty"`
	Confidence  *float64         `json:"confidence,omitempty"`
	Parsed      jsonx.RawMessage `json:"parsed,omitempty"`
	FinalAnswer string           `json:"final_answer,omitempty"`
	Error       string           `json:"error,omitempty"`
	Label       string           `json:"label,omitempty"`
	Message     string           `json:"message,omitempty"`
}

// DecodeFrame parses one frame into a typed event. It returns ErrUnknownEvent
// for forward-compatible skips and other errors for malformed frames; both
// are non-fatal to the surrounding read loop.
func DecodeFrame(frame string) (Event, error) {
	name, data, err := splitFrame(frame)
	if err != nil {
		return nil, err
	}

	var payload wirePayload
	if err := jsonx.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", name, err)
	}

	switch name {
	case "stage-start":
		if payload.Step < 1 || payload.Step > 4 {
			return nil, fmt.Errorf("stage-start: step %d out of range", payload.Step)
		}
		return StageStart{Stage: payload.Step}, nil
	case "stage-complete":
		if payload.Step < 1 || payload.Step > 4 {
			return nil, fmt.Errorf("stage-complete: step %d out of range", payload.Step)
		}
		return StageComplete{Stage: payload.Step, Count: payload.Count}, nil
	case "step4_synthesizer":
		if payload.Provider == "" {
			return nil, errors.New("step4_synthesizer: missing provider")
		}
		return SynthesizerSelected{Agent: payload.Provider, Label: payload.Label}, nil
	case "pipeline_complete":
		return PipelineComplete{}, nil
	case "error":
		return PipelineError{Message: payload.Message}, nil
	}

	stage, kind, ok := splitStepEvent(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	if payload.Provider == "" {
		return nil, fmt.Errorf("%s: missing provider", name)
	}
	switch kind {
	case "chunk":
		return AgentChunk{Stage: stage, Agent: payload.Provider, Content: payload.Content}, nil
	case "done":
		success := payload.Success == nil || *payload.Success
		return AgentDone{
			Stage:       stage,
			Agent:       payload.Provider,
			Success:     success,
			Confidence:  payload.Confidence,
			Parsed:      payload.Parsed,
			FinalAnswer: payload.FinalAnswer,
		}, nil
	case "error":
		return AgentError{Stage: stage, Agent: payload.Provider, Message: payload.Error}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
}

// splitFrame extracts the event-name line and the joined data lines.
func splitFrame(frame string) (name, data string, err error) {
	var dataLines []string
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if name == "" {
		return "", "", errors.New("frame missing event line")
	}
	if len(dataLines) == 0 {
		return "", "", fmt.Errorf("frame %s missing data line", name)
	}
	return name, strings.Join(dataLines, "\n"), nil
}

// splitStepEvent decomposes names like "step2_chunk" into (2, "chunk").
func splitStepEvent(name string) (stage int, kind string, ok bool) {
	rest, found := strings.CutPrefix(name, "step")
	if !found {
		return 0, "", false
	}
	num, kind, found := strings.Cut(rest, "_")
	if !found {
		return 0, "", false
	}
	stage, err := strconv.Atoi(num)
	if err != nil || stage < 1 || stage > 4 {
		return 0, "", false
	}
	return stage, kind, true
}

// EncodeFrame renders the wire form of an event, blank-line terminator
// included. The CLI only decodes; encoding keeps tests honest about the
// frame format and feeds the fake backend used in them.
func EncodeFrame(ev Event) (string, error) {
	var name string
	var payload wirePayload

	switch e := ev.(type) {
	case StageStart:
		name = "stage-start"
		payload.Step = e.Stage
	case StageComplete:
		name = "stage-complete"
		payload.Step = e.Stage
		payload.Count = e.Count
	case AgentChunk:
		name = fmt.Sprintf("step%d_chunk", e.Stage)
		payload.Provider = e.Agent
		payload.Content = e.Content
	case AgentDone:
		name = fmt.Sprintf("step%d_done", e.Stage)
		payload.Provider = e.Agent
		success := e.Success
		payload.Success = &success
		payload.Confidence = e.Confidence
		payload.Parsed = e.Parsed
		payload.FinalAnswer = e.FinalAnswer
	case AgentError:
		name = fmt.Sprintf("step%d_error", e.Stage)
		payload.Provider = e.Agent
		payload.Error = e.Message
	case SynthesizerSelected:
		name = "step4_synthesizer"
		payload.Provider = e.Agent
		payload.Label = e.Label
	case PipelineComplete:
		name = "pipeline_complete"
	case PipelineError:
		name = "error"
		payload.Message = e.Message
	default:
		return "", fmt.Errorf("encode: unsupported event %T", ev)
	}

	data, err := jsonx.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", name, err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", name, data), nil
}
