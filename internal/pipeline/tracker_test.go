package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"quorum/internal/jsonx"
	"quorum/internal/stream"
)

func newTestTracker() *Tracker {
	return NewTracker(NewRun(), nil, nil)
}

func TestLifecycleIdleToStreamingToCompleted(t *testing.T) {
	tr := newTestTracker()
	run := tr.Run()

	require.Equal(t, AgentIdle, run.Status(1, "sonnet"))

	tr.HandleEvent(stream.StageStart{Stage: 1})
	tr.HandleEvent(stream.AgentChunk{Stage: 1, Agent: "sonnet", Content: "The"})
	require.Equal(t, AgentStreaming, run.Status(1, "sonnet"))

	tr.HandleEvent(stream.AgentDone{Stage: 1, Agent: "sonnet", Success: true})
	require.Equal(t, AgentCompleted, run.Status(1, "sonnet"))
}

func TestLifecycleTerminalStatesAreSticky(t *testing.T) {
	tr := newTestTracker()
	run := tr.Run()

	tr.HandleEvent(stream.AgentChunk{Stage: 1, Agent: "a", Content: "x"})
	tr.HandleEvent(stream.AgentDone{Stage: 1, Agent: "a", Success: true})

	// A chunk after completion must not reopen streaming or grow the buffer.
	tr.HandleEvent(stream.AgentChunk{Stage: 1, Agent: "a", Content: "y"})
	require.Equal(t, AgentCompleted, run.Status(1, "a"))
	require.Equal(t, "x", run.Buffer(1, "a"))

	// A late error must not flip completed to failed.
	tr.HandleEvent(stream.AgentError{Stage: 1, Agent: "a", Message: "late"})
	require.Equal(t, AgentCompleted, run.Status(1, "a"))
	require.Empty(t, run.Errors(1))
}

func TestDuplicateDoneDoesNotDoubleCount(t *testing.T) {
	tr := newTestTracker()
	run := tr.Run()

	tr.HandleEvent(stream.AgentChunk{Stage: 1, Agent: "a", Content: `{"answer":"hi"}`})
	tr.HandleEvent(stream.AgentDone{Stage: 1, Agent: "a", Success: true})
	tr.HandleEvent(stream.AgentDone{Stage: 1, Agent: "a", Success: true})

	require.Equal(t, 1, run.Responses(1).Len())

	// A duplicate reporting failure after success is ignored too.
	tr.HandleEvent(stream.AgentDone{Stage: 1, Agent: "a", Success: false})
	require.Equal(t, AgentCompleted, run.Status(1, "a"))
	require.Empty(t, run.Errors(1))
}

func TestBufferAppendsInArrivalOrder(t *testing.T) {
	tr := newTestTracker()
	run := tr.Run()

	for _, fragment := range []string{"ab", "cd", "ef"} {
		tr.HandleEvent(stream.AgentChunk{Stage: 2, Agent: "a", Content: fragment})
	}
	require.Equal(t, "abcdef", run.Buffer(2, "a"))
}

func TestCrossAgentInterleaving(t *testing.T) {
	tr := newTestTracker()
	run := tr.Run()

	tr.HandleEvent(stream.AgentChunk{Stage: 1, Agent: "a", Content: "a1"})
	tr.HandleEvent(stream.AgentChunk{Stage: 1, Agent: "b", Content: "b1"})
	tr.HandleEvent(stream.AgentChunk{Stage: 1, Agent: "a", Content: "a2"})
	tr.HandleEvent(stream.AgentChunk{Stage: 1, Agent: "b", Content: "b2"})

	require.Equal(t, "a1a2", run.Buffer(1, "a"))
	require.Equal(t, "b1b2", run.Buffer(1, "b"))
}

func TestFailedAgentIsolation(t *testing.T) {
	tr := newTestTracker()
	run := tr.Run()

	tr.HandleEvent(stream.AgentChunk{Stage: 1, Agent: "a", Content: `{"answer":"ok","confidence":0.8}`})
	tr.HandleEvent(stream.AgentChunk{Stage: 1, Agent: "b", Content: "partial"})
	tr.HandleEvent(stream.AgentError{Stage: 1, Agent: "b", Message: "connection reset"})
	tr.HandleEvent(stream.AgentDone{Stage: 1, Agent: "a", Success: true})

	// Failed agents appear only in the stage errors, never in responses.
	require.Equal(t, []string{"a"}, run.Responses(1).Agents())
	require.Equal(t, []string{"b: connection reset"}, run.Errors(1))
	require.Equal(t, AgentFailed, run.Status(1, "b"))
	require.Equal(t, AgentCompleted, run.Status(1, "a"))
}

func TestStageCompleteAndDoneOrderIndependence(t *testing.T) {
	run := func(doneFirst bool) *Run {
		tr := newTestTracker()
		tr.HandleEvent(stream.StageStart{Stage: 1})
		tr.HandleEvent(stream.AgentChunk{Stage: 1, Agent: "a", Content: `{"answer":"x"}`})
		if doneFirst {
			tr.HandleEvent(stream.AgentDone{Stage: 1, Agent: "a", Success: true})
			tr.HandleEvent(stream.StageComplete{Stage: 1, Count: 1})
		} else {
			tr.HandleEvent(stream.StageComplete{Stage: 1, Count: 1})
			tr.HandleEvent(stream.AgentDone{Stage: 1, Agent: "a", Success: true})
		}
		return tr.Run()
	}

	for _, doneFirst := range []bool{true, false} {
		r := run(doneFirst)
		require.Equal(t, 1, r.StageCount(1))
		require.Equal(t, AgentCompleted, r.Status(1, "a"))
		require.Equal(t, 1, r.Responses(1).Len())
	}
}

func TestCurrentStageNeverDecreases(t *testing.T) {
	tr := newTestTracker()
	run := tr.Run()

	tr.HandleEvent(stream.StageStart{Stage: 3})
	require.Equal(t, 3, run.CurrentStage())

	tr.HandleEvent(stream.StageStart{Stage: 2})
	require.Equal(t, 3, run.CurrentStage())
}

func TestSynthesizerSetOnce(t *testing.T) {
	tr := newTestTracker()
	run := tr.Run()

	tr.HandleEvent(stream.SynthesizerSelected{Agent: "gpt", Label: "GPT-5"})
	tr.HandleEvent(stream.AgentDone{Stage: 4, Agent: "gpt", Success: true, FinalAnswer: "first"})
	tr.HandleEvent(stream.AgentDone{Stage: 4, Agent: "sonnet", Success: true, FinalAnswer: "second"})

	agent, label := run.Synthesizer()
	require.Equal(t, "gpt", agent)
	require.Equal(t, "GPT-5", label)

	// The final response is also set at most once.
	final, finalAgent := run.Final()
	require.NotNil(t, final)
	require.Equal(t, "first", final.FinalAnswer)
	require.Equal(t, "gpt", finalAgent)
}

func TestPipelineCompleteWithPartialAgents(t *testing.T) {
	tr := newTestTracker()
	run := tr.Run()

	tr.HandleEvent(stream.StageStart{Stage: 1})
	tr.HandleEvent(stream.AgentChunk{Stage: 1, Agent: "a", Content: "never finished"})
	tr.HandleEvent(stream.PipelineComplete{})

	// Partial success is a supported outcome, not an error.
	require.True(t, run.IsComplete())
	require.Equal(t, AgentStreaming, run.Status(1, "a"))
}

func TestPipelineErrorRecordedAtStageZero(t *testing.T) {
	tr := newTestTracker()
	run := tr.Run()

	tr.HandleEvent(stream.PipelineError{Message: "backend on fire"})
	require.Equal(t, []string{"backend on fire"}, run.Errors(0))
	require.False(t, run.IsComplete())
}

func TestDoneEventFieldsOverrideBufferNormalization(t *testing.T) {
	tr := newTestTracker()
	run := tr.Run()

	conf := 0.91
	parsed := jsonx.RawMessage(`{"answer":"from backend","atomic_facts":["f1","f2"]}`)
	tr.HandleEvent(stream.AgentChunk{Stage: 1, Agent: "a", Content: "raw stream text"})
	tr.HandleEvent(stream.AgentDone{Stage: 1, Agent: "a", Success: true, Confidence: &conf, Parsed: parsed})

	out, ok := run.Responses(1).Get("a")
	require.True(t, ok)
	require.Equal(t, "from backend", out.Answer)
	require.InDelta(t, 0.91, out.Confidence, 1e-9)
	require.Equal(t, []string{"f1", "f2"}, out.AtomicFacts)
	require.Equal(t, "raw stream text", out.Raw)
}

func TestDoneWithoutSuccessRecordsFailure(t *testing.T) {
	tr := newTestTracker()
	run := tr.Run()

	tr.HandleEvent(stream.AgentChunk{Stage: 2, Agent: "b", Content: "half"})
	tr.HandleEvent(stream.AgentDone{Stage: 2, Agent: "b", Success: false})

	require.Equal(t, AgentFailed, run.Status(2, "b"))
	require.Equal(t, []string{"b: reported failure"}, run.Errors(2))
	require.Equal(t, 0, run.Responses(2).Len())
}

func TestStageStartResetsStageBuffers(t *testing.T) {
	tr := newTestTracker()
	run := tr.Run()

	tr.HandleEvent(stream.AgentChunk{Stage: 2, Agent: "a", Content: "stale"})
	tr.HandleEvent(stream.StageStart{Stage: 2})
	require.Equal(t, "", run.Buffer(2, "a"))
}
