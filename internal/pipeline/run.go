// Package pipeline tracks one execution of the four-stage deliberation
// process: independent drafting, mutual refinement, peer evaluation and final
// synthesis. A Run is an explicitly owned value mutated only by the Tracker
// applying stream events (or restored whole from a transcript); rendering is
// a downstream Sink, never interleaved with state transitions.
package pipeline

import (
	"strings"

	"quorum/internal/normalize"
)

// Stage numbers. Stage 0 means the run has not started.
const (
	StageDraft      = 1
	StageRefine     = 2
	StageEvaluate   = 3
	StageSynthesize = 4
)

// StageName returns the human label used in logs and rendering.
func StageName(stage int) string {
	switch stage {
	case StageDraft:
		return "drafting"
	case StageRefine:
		return "refinement"
	case StageEvaluate:
		return "evaluation"
	case StageSynthesize:
		return "synthesis"
	default:
		return "pending"
	}
}

// AgentStatus captures the lifecycle state of a (stage, agent) pair.
type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentStreaming AgentStatus = "streaming"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s AgentStatus) Terminal() bool {
	return s == AgentCompleted || s == AgentFailed
}

type agentKey struct {
	stage int
	agent string
}

// Run is the mutable state of one pipeline execution. It is not safe for
// concurrent mutation; the single stream-consumer loop provides mutual
// exclusion, and the Controller serializes run replacement.
type Run struct {
	currentStage int
	synthesizer  string
	synthLabel   string
	complete     bool

	responses   map[int]*StageResponses
	final       *normalize.StageOutput
	finalAgent  string
	errors      map[int][]string
	statuses    map[agentKey]AgentStatus
	buffers     map[agentKey]*strings.Builder
	stageCounts map[int]int
}

// NewRun creates an empty run in the not-started state.
func NewRun() *Run {
	return &Run{
		responses:   make(map[int]*StageResponses),
		errors:      make(map[int][]string),
		statuses:    make(map[agentKey]AgentStatus),
		buffers:     make(map[agentKey]*strings.Builder),
		stageCounts: make(map[int]int),
	}
}

// CurrentStage is the highest stage the backend has announced, 0 before the
// first stage-start. It never decreases within a run.
func (r *Run) CurrentStage() int { return r.currentStage }

// IsComplete is true only after the terminal pipeline_complete event (or for
// restored transcripts, which are complete by construction).
func (r *Run) IsComplete() bool { return r.complete }

// Synthesizer returns the agent chosen for stage 4 and its display label.
// The choice is set once and immutable afterwards.
func (r *Run) Synthesizer() (agent, label string) { return r.synthesizer, r.synthLabel }

// Status returns the lifecycle state of a (stage, agent) pair.
func (r *Run) Status(stage int, agent string) AgentStatus {
	if s, ok := r.statuses[agentKey{stage, agent}]; ok {
		return s
	}
	return AgentIdle
}

// Buffer returns the text accumulated so far for a (stage, agent) pair.
func (r *Run) Buffer(stage int, agent string) string {
	if b, ok := r.buffers[agentKey{stage, agent}]; ok {
		return b.String()
	}
	return ""
}

// Responses returns the structured outputs for one of stages 1-3, keyed and
// ordered by first-seen agent. Only successfully completed agents appear.
func (r *Run) Responses(stage int) *StageResponses {
	if resp, ok := r.responses[stage]; ok {
		return resp
	}
	return &StageResponses{}
}

// Final returns the stage 4 output and the agent that produced it, or nil
// when synthesis has not completed.
func (r *Run) Final() (*normalize.StageOutput, string) {
	return r.final, r.finalAgent
}

// Errors returns the ordered error strings recorded for a stage. Stage 0
// holds pipeline-level errors.
func (r *Run) Errors(stage int) []string { return r.errors[stage] }

// ErrorStages lists stages with recorded errors in ascending order.
func (r *Run) ErrorStages() []int {
	stages := make([]int, 0, len(r.errors))
	for stage := 0; stage <= StageSynthesize; stage++ {
		if len(r.errors[stage]) > 0 {
			stages = append(stages, stage)
		}
	}
	return stages
}

// StageCount returns the agent count reported by stage-complete, 0 when the
// stage has not been summarized yet.
func (r *Run) StageCount(stage int) int { return r.stageCounts[stage] }

// Reset returns the run to its initial state, dropping buffers and results.
func (r *Run) Reset() {
	r.currentStage = 0
	r.synthesizer = ""
	r.synthLabel = ""
	r.complete = false
	r.final = nil
	r.finalAgent = ""
	r.responses = make(map[int]*StageResponses)
	r.errors = make(map[int][]string)
	r.statuses = make(map[agentKey]AgentStatus)
	r.buffers = make(map[agentKey]*strings.Builder)
	r.stageCounts = make(map[int]int)
}

// resetStage drops buffers and reopens bookkeeping for one stage. Terminal
// agent states from earlier deliveries of the same stage are kept; the
// backend starts each stage exactly once.
func (r *Run) resetStage(stage int) {
	for key := range r.buffers {
		if key.stage == stage {
			delete(r.buffers, key)
		}
	}
}

func (r *Run) appendChunk(stage int, agent, content string) {
	key := agentKey{stage, agent}
	b, ok := r.buffers[key]
	if !ok {
		b = &strings.Builder{}
		r.buffers[key] = b
	}
	b.WriteString(content)
}

func (r *Run) setResponse(stage int, agent string, out *normalize.StageOutput) {
	resp, ok := r.responses[stage]
	if !ok {
		resp = &StageResponses{}
		r.responses[stage] = resp
	}
	resp.set(agent, out)
}

func (r *Run) recordError(stage int, message string) {
	r.errors[stage] = append(r.errors[stage], message)
}

// RestoredRun rebuilds a run from persisted transcript state in one atomic
// step. Every agent present in responses is completed; agents named in error
// entries are failed; the run is complete. The ephemeral buffers stay empty:
// structured outputs already retain the raw text.
func RestoredRun(responses map[int]*StageResponses, final *normalize.StageOutput, synthesizer string, errors map[int][]string) *Run {
	run := NewRun()
	run.complete = true
	run.synthesizer = synthesizer

	for stage, resp := range responses {
		if resp == nil || resp.Len() == 0 {
			continue
		}
		run.responses[stage] = resp
		for _, agent := range resp.Agents() {
			run.statuses[agentKey{stage, agent}] = AgentCompleted
		}
		if stage > run.currentStage {
			run.currentStage = stage
		}
		run.stageCounts[stage] = resp.Len()
	}

	if final != nil {
		run.final = final
		run.currentStage = StageSynthesize
		if synthesizer != "" {
			run.finalAgent = synthesizer
			run.statuses[agentKey{StageSynthesize, synthesizer}] = AgentCompleted
		}
	}

	for stage, msgs := range errors {
		for _, msg := range msgs {
			run.recordError(stage, msg)
			if agent, _, ok := strings.Cut(msg, ": "); ok && stage >= StageDraft {
				key := agentKey{stage, agent}
				if !run.statuses[key].Terminal() {
					run.statuses[key] = AgentFailed
				}
			}
		}
		if stage > run.currentStage {
			run.currentStage = stage
		}
	}

	return run
}
