package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeFrameStageLifecycle(t *testing.T) {
	ev, err := DecodeFrame("event: stage-start\ndata: {\"step\": 2}")
	require.NoError(t, err)
	require.Equal(t, StageStart{Stage: 2}, ev)

	ev, err = DecodeFrame("event: stage-complete\ndata: {\"step\": 2, \"count\": 3}")
	require.NoError(t, err)
	require.Equal(t, StageComplete{Stage: 2, Count: 3}, ev)
}

func TestDecodeFrameAgentEvents(t *testing.T) {
	ev, err := DecodeFrame("event: step1_chunk\ndata: {\"provider\": \"sonnet\", \"content\": \"The answer\"}")
	require.NoError(t, err)
	require.Equal(t, AgentChunk{Stage: 1, Agent: "sonnet", Content: "The answer"}, ev)

	ev, err = DecodeFrame("event: step3_done\ndata: {\"provider\": \"gpt\", \"success\": true, \"confidence\": 0.9}")
	require.NoError(t, err)
	done, ok := ev.(AgentDone)
	require.True(t, ok)
	require.Equal(t, 3, done.Stage)
	require.Equal(t, "gpt", done.Agent)
	require.True(t, done.Success)
	require.NotNil(t, done.Confidence)
	require.InDelta(t, 0.9, *done.Confidence, 1e-9)

	ev, err = DecodeFrame("event: step2_error\ndata: {\"provider\": \"gemini\", \"error\": \"timeout\"}")
	require.NoError(t, err)
	require.Equal(t, AgentError{Stage: 2, Agent: "gemini", Message: "timeout"}, ev)
}

func TestDecodeFramePipelineEvents(t *testing.T) {
	ev, err := DecodeFrame("event: step4_synthesizer\ndata: {\"provider\": \"gpt\", \"label\": \"GPT-5\"}")
	require.NoError(t, err)
	require.Equal(t, SynthesizerSelected{Agent: "gpt", Label: "GPT-5"}, ev)

	ev, err = DecodeFrame("event: pipeline_complete\ndata: {}")
	require.NoError(t, err)
	require.Equal(t, PipelineComplete{}, ev)

	ev, err = DecodeFrame("event: error\ndata: {\"message\": \"all providers unavailable\"}")
	require.NoError(t, err)
	require.Equal(t, PipelineError{Message: "all providers unavailable"}, ev)
}

func TestDecodeFrameMalformed(t *testing.T) {
	cases := []struct {
		name  string
		frame string
	}{
		{"missing event line", "data: {}"},
		{"missing data line", "event: stage-start"},
		{"bad json", "event: stage-start\ndata: {not json"},
		{"step out of range", "event: stage-start\ndata: {\"step\": 9}"},
		{"step zero", "event: step0_chunk\ndata: {\"provider\": \"x\"}"},
		{"missing provider", "event: step1_chunk\ndata: {\"content\": \"hi\"}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeFrame(tc.frame)
			require.Error(t, err)
		})
	}
}

func TestDecodeFrameUnknownEventName(t *testing.T) {
	_, err := DecodeFrame("event: step2_reflection\ndata: {\"provider\": \"x\"}")
	require.ErrorIs(t, err, ErrUnknownEvent)

	_, err = DecodeFrame("event: heartbeat\ndata: {}")
	require.ErrorIs(t, err, ErrUnknownEvent)
}

// Well-formed events survive an encode/decode round trip untouched.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	conf := 0.75
	events := []Event{
		StageStart{Stage: 1},
		StageComplete{Stage: 1, Count: 3},
		AgentChunk{Stage: 1, Agent: "sonnet", Content: "partial text\nwith newline"},
		AgentDone{Stage: 1, Agent: "sonnet", Success: true, Confidence: &conf},
		AgentError{Stage: 2, Agent: "gemini", Message: "rate limited"},
		SynthesizerSelected{Agent: "gpt", Label: "GPT-5"},
		AgentDone{Stage: 4, Agent: "gpt", Success: true, FinalAnswer: "42"},
		PipelineError{Message: "boom"},
		PipelineComplete{},
	}
	for _, ev := range events {
		frame, err := EncodeFrame(ev)
		require.NoError(t, err)

		decoded, err := DecodeFrame(frame)
		require.NoError(t, err)
		require.Equal(t, ev, decoded)
	}
}
