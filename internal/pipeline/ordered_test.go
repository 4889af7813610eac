package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"quorum/internal/jsonx"
	"quorum/internal/normalize"
)

func TestStageResponsesInsertionOrder(t *testing.T) {
	r := &StageResponses{}
	r.Set("zeta", &normalize.StageOutput{Answer: "z"})
	r.Set("alpha", &normalize.StageOutput{Answer: "a"})
	r.Set("mid", &normalize.StageOutput{Answer: "m"})

	require.Equal(t, []string{"zeta", "alpha", "mid"}, r.Agents())

	// Overwriting keeps the original position.
	r.Set("alpha", &normalize.StageOutput{Answer: "a2"})
	require.Equal(t, []string{"zeta", "alpha", "mid"}, r.Agents())
	out, ok := r.Get("alpha")
	require.True(t, ok)
	require.Equal(t, "a2", out.Answer)
}

func TestStageResponsesJSONRoundTripPreservesOrder(t *testing.T) {
	r := &StageResponses{}
	r.Set("zeta", &normalize.StageOutput{Answer: "z", Confidence: 0.9, Raw: "rz"})
	r.Set("alpha", &normalize.StageOutput{Answer: "a", Confidence: 0.4, Raw: "ra"})

	data, err := jsonx.Marshal(r)
	require.NoError(t, err)

	var restored StageResponses
	require.NoError(t, jsonx.Unmarshal(data, &restored))
	require.Equal(t, []string{"zeta", "alpha"}, restored.Agents())

	out, ok := restored.Get("zeta")
	require.True(t, ok)
	require.Equal(t, "z", out.Answer)
	require.InDelta(t, 0.9, out.Confidence, 1e-9)
	require.Equal(t, "rz", out.Raw)
}

func TestStageResponsesEmptyJSON(t *testing.T) {
	var r StageResponses
	data, err := jsonx.Marshal(&r)
	require.NoError(t, err)
	require.JSONEq(t, "{}", string(data))

	var restored StageResponses
	require.NoError(t, jsonx.Unmarshal([]byte("{}"), &restored))
	require.Equal(t, 0, restored.Len())
}

func TestStageResponsesRejectsNonObject(t *testing.T) {
	var r StageResponses
	require.Error(t, jsonx.Unmarshal([]byte(`["not","an","object"]`), &r))
}
