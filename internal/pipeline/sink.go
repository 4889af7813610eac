package pipeline

import "quorum/internal/normalize"

// Sink receives state-change notifications as the tracker applies events.
// Implementations render; they never mutate the run. Calls arrive from the
// single consumer loop in event order.
type Sink interface {
	StageStarted(stage int)
	StageCompleted(stage, count int)
	AgentDelta(stage int, agent, delta string)
	AgentCompleted(stage int, agent string, out *normalize.StageOutput)
	AgentFailed(stage int, agent, message string)
	SynthesizerChosen(agent, label string)
	RunCompleted(run *Run)
	RunFailed(message string)
}

// NopSink discards every notification. Useful as a default and in tests.
type NopSink struct{}

func (NopSink) StageStarted(int)                                 {}
func (NopSink) StageCompleted(int, int)                          {}
func (NopSink) AgentDelta(int, string, string)                   {}
func (NopSink) AgentCompleted(int, string, *normalize.StageOutput) {}
func (NopSink) AgentFailed(int, string, string)                  {}
func (NopSink) SynthesizerChosen(string, string)                 {}
func (NopSink) RunCompleted(*Run)                                {}
func (NopSink) RunFailed(string)                                 {}
