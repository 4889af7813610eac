// Package transcript persists completed runs and rebuilds them for replay.
// A snapshot carries the structured outputs, synthesizer choice and errors
// of a run; the ephemeral stream buffers are deliberately absent, since every
// structured output already retains its raw text.
package transcript

import (
	"fmt"

	"quorum/internal/jsonx"
	"quorum/internal/normalize"
	"quorum/internal/pipeline"
)

// Snapshot is the storage-ready serialization of one run.
type Snapshot struct {
	Step1Responses *pipeline.StageResponses `json:"step1Responses"`
	Step2Responses *pipeline.StageResponses `json:"step2Responses"`
	Step3Responses *pipeline.StageResponses `json:"step3Responses"`
	Step4Response  *normalize.StageOutput   `json:"step4Response"`
	Synthesizer    string                   `json:"synthesizer"`
	Errors         map[int][]string         `json:"errors"`
}

// requiredKeys must all be present for a snapshot to decode. Values may be
// empty; missing keys mean truncated or foreign data and fail loudly rather
// than producing a partially initialized run.
var requiredKeys = []string{
	"step1Responses",
	"step2Responses",
	"step3Responses",
	"step4Response",
	"synthesizer",
	"errors",
}

// Serialize captures a run's durable state.
func Serialize(run *pipeline.Run) *Snapshot {
	snap := &Snapshot{
		Step1Responses: run.Responses(pipeline.StageDraft),
		Step2Responses: run.Responses(pipeline.StageRefine),
		Step3Responses: run.Responses(pipeline.StageEvaluate),
		Errors:         map[int][]string{},
	}
	snap.Step4Response, _ = run.Final()
	snap.Synthesizer, _ = run.Synthesizer()
	for _, stage := range run.ErrorStages() {
		snap.Errors[stage] = append([]string(nil), run.Errors(stage)...)
	}
	return snap
}

// Restore rebuilds a run from a snapshot in one synchronous step: every
// recorded agent is completed, agents named in error entries are failed, and
// the run is complete. Restoring needs no network or timers and is
// idempotent.
func Restore(snap *Snapshot) (*pipeline.Run, error) {
	if snap == nil {
		return nil, fmt.Errorf("restore: nil snapshot")
	}
	responses := map[int]*pipeline.StageResponses{
		pipeline.StageDraft:    snap.Step1Responses,
		pipeline.StageRefine:   snap.Step2Responses,
		pipeline.StageEvaluate: snap.Step3Responses,
	}
	return pipeline.RestoredRun(responses, snap.Step4Response, snap.Synthesizer, snap.Errors), nil
}

// DecodeSnapshot parses persisted snapshot bytes, verifying the presence of
// every required key before unmarshalling the full value.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var keys map[string]jsonx.RawMessage
	if err := jsonx.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	for _, key := range requiredKeys {
		if _, ok := keys[key]; !ok {
			return nil, fmt.Errorf("decode snapshot: missing key %q", key)
		}
	}
	var snap Snapshot
	if err := jsonx.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
