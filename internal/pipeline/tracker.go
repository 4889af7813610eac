package pipeline

import (
	"fmt"

	"quorum/internal/logging"
	"quorum/internal/normalize"
	"quorum/internal/stream"
)

// Tracker applies stream events to a run and notifies the sink of the state
// changes that actually happened. Duplicate or out-of-order terminal events
// mutate nothing and emit nothing.
type Tracker struct {
	run    *Run
	sink   Sink
	logger logging.Logger
}

func NewTracker(run *Run, sink Sink, logger logging.Logger) *Tracker {
	if sink == nil {
		sink = NopSink{}
	}
	return &Tracker{run: run, sink: sink, logger: logging.OrNop(logger)}
}

// Run exposes the tracked run for inspection after the stream ends.
func (t *Tracker) Run() *Run { return t.run }

// HandleEvent applies one decoded event. It is called from the single
// consumer loop, so no locking happens here.
func (t *Tracker) HandleEvent(ev stream.Event) {
	switch e := ev.(type) {
	case stream.StageStart:
		t.stageStart(e)
	case stream.StageComplete:
		t.stageComplete(e)
	case stream.AgentChunk:
		t.agentChunk(e)
	case stream.AgentDone:
		t.agentDone(e)
	case stream.AgentError:
		t.agentError(e)
	case stream.SynthesizerSelected:
		t.synthesizerSelected(e)
	case stream.PipelineComplete:
		t.pipelineComplete()
	case stream.PipelineError:
		t.pipelineError(e)
	default:
		t.logger.Debug("ignoring unhandled event %T", ev)
	}
}

func (t *Tracker) stageStart(e stream.StageStart) {
	if e.Stage > t.run.currentStage {
		t.run.currentStage = e.Stage
	}
	t.run.resetStage(e.Stage)
	t.logger.Info("stage %d (%s) started", e.Stage, StageName(e.Stage))
	t.sink.StageStarted(e.Stage)
}

// stageComplete records the backend's agent count for the stage. It does not
// close individual agent states: their own done/error events may arrive on
// either side of this one.
func (t *Tracker) stageComplete(e stream.StageComplete) {
	t.run.stageCounts[e.Stage] = e.Count
	t.logger.Info("stage %d (%s) complete, %d agents", e.Stage, StageName(e.Stage), e.Count)
	t.sink.StageCompleted(e.Stage, e.Count)
}

func (t *Tracker) agentChunk(e stream.AgentChunk) {
	key := agentKey{e.Stage, e.Agent}
	status := t.run.statuses[key]
	if status.Terminal() {
		t.logger.Debug("dropping chunk for %s stage %d: already %s", e.Agent, e.Stage, status)
		return
	}
	if status != AgentStreaming {
		t.run.statuses[key] = AgentStreaming
	}
	t.run.appendChunk(e.Stage, e.Agent, e.Content)
	t.sink.AgentDelta(e.Stage, e.Agent, e.Content)
}

func (t *Tracker) agentDone(e stream.AgentDone) {
	key := agentKey{e.Stage, e.Agent}
	if t.run.statuses[key].Terminal() {
		t.logger.Debug("duplicate done for %s stage %d ignored", e.Agent, e.Stage)
		return
	}

	if !e.Success {
		t.run.statuses[key] = AgentFailed
		message := fmt.Sprintf("%s: reported failure", e.Agent)
		t.run.recordError(e.Stage, message)
		t.sink.AgentFailed(e.Stage, e.Agent, message)
		return
	}

	t.run.statuses[key] = AgentCompleted
	out := t.normalizeDone(e)

	if e.Stage == StageSynthesize {
		// The final response is set at most once per run.
		if t.run.final == nil {
			t.run.final = out
			t.run.finalAgent = e.Agent
		} else {
			t.logger.Warn("extra synthesis result from %s ignored", e.Agent)
		}
	} else {
		t.run.setResponse(e.Stage, e.Agent, out)
	}
	t.sink.AgentCompleted(e.Stage, e.Agent, out)
}

// normalizeDone derives the structured output for a completed agent. The
// backend's own parse is preferred when it carries the stage's fields;
// otherwise the accumulated buffer is normalized from scratch. Explicit
// done-event fields win over both.
func (t *Tracker) normalizeDone(e stream.AgentDone) *normalize.StageOutput {
	raw := t.run.Buffer(e.Stage, e.Agent)

	out, ok := normalize.FromParsed(e.Stage, e.Parsed, raw)
	if !ok {
		out = normalize.Normalize(e.Stage, raw)
	}
	if e.Confidence != nil {
		out.Confidence = *e.Confidence
	}
	if e.Stage == StageSynthesize && e.FinalAnswer != "" {
		out.FinalAnswer = e.FinalAnswer
	}
	return out
}

func (t *Tracker) agentError(e stream.AgentError) {
	key := agentKey{e.Stage, e.Agent}
	if t.run.statuses[key].Terminal() {
		t.logger.Debug("error for terminal %s stage %d ignored", e.Agent, e.Stage)
		return
	}
	t.run.statuses[key] = AgentFailed
	message := fmt.Sprintf("%s: %s", e.Agent, e.Message)
	t.run.recordError(e.Stage, message)
	t.sink.AgentFailed(e.Stage, e.Agent, message)
}

func (t *Tracker) synthesizerSelected(e stream.SynthesizerSelected) {
	if t.run.synthesizer != "" {
		t.logger.Debug("synthesizer already chosen, ignoring %s", e.Agent)
		return
	}
	t.run.synthesizer = e.Agent
	t.run.synthLabel = e.Label
	t.sink.SynthesizerChosen(e.Agent, e.Label)
}

// pipelineComplete marks the run complete unconditionally. Agents still
// streaming stay as they are: partial success is a supported outcome.
func (t *Tracker) pipelineComplete() {
	t.run.complete = true
	t.sink.RunCompleted(t.run)
}

func (t *Tracker) pipelineError(e stream.PipelineError) {
	t.run.recordError(0, e.Message)
	t.sink.RunFailed(e.Message)
}
