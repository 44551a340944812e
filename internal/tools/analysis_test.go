package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleText = `The Meridian Report is a survey of postwar reconstruction. It was published in 1948 by the Harlan Institute.

Funding collapsed because donor states withdrew support. The collapse leads to a decade of stalled projects. Reconstruction resumed next year under new oversight.`

func TestSegment(t *testing.T) {
	data, meta, err := Segment(context.Background(), sampleText, map[string]interface{}{"sentences_per_segment": 2})
	require.NoError(t, err)

	segs := data["segments"].([]interface{})
	assert.Equal(t, len(segs), meta["segment_count"])
	assert.GreaterOrEqual(t, len(segs), 2, "paragraphs start new segments")

	first := segs[0].(map[string]interface{})
	assert.Equal(t, 0, first["index"])
	assert.Contains(t, first["text"], "Meridian Report")

	_, _, err = Segment(context.Background(), sampleText, map[string]interface{}{"sentences_per_segment": 0})
	assert.Error(t, err)
}

func TestExtractEntities(t *testing.T) {
	data, meta, err := ExtractEntities(context.Background(), sampleText, nil)
	require.NoError(t, err)

	entities := data["entities"].([]interface{})
	assert.Equal(t, len(entities), meta["entity_count"])

	surfaces := map[string]bool{}
	for _, e := range entities {
		surfaces[e.(map[string]interface{})["surface"].(string)] = true
	}
	assert.True(t, surfaces["Meridian Report"] || surfaces["The Meridian Report"])
	assert.True(t, surfaces["Harlan Institute"])
}

func TestExtractTemporal(t *testing.T) {
	data, _, err := ExtractTemporal(context.Background(), sampleText, nil)
	require.NoError(t, err)

	exprs := data["expressions"].([]interface{})
	found := map[string]bool{}
	for _, e := range exprs {
		found[e.(map[string]interface{})["expression"].(string)] = true
	}
	assert.True(t, found["1948"])
	assert.True(t, found["next year"])
}

func TestExtractCausal(t *testing.T) {
	data, meta, err := ExtractCausal(context.Background(), sampleText, nil)
	require.NoError(t, err)

	relations := data["relations"].([]interface{})
	require.Equal(t, meta["relation_count"], len(relations))
	require.NotEmpty(t, relations)

	var becauseRel, leadsRel map[string]interface{}
	for _, r := range relations {
		m := r.(map[string]interface{})
		switch m["connective"] {
		case "because":
			becauseRel = m
		case "leads to":
			leadsRel = m
		}
	}
	require.NotNil(t, becauseRel)
	assert.Contains(t, becauseRel["cause"], "donor states withdrew")
	assert.Contains(t, becauseRel["effect"], "Funding collapsed")

	require.NotNil(t, leadsRel)
	assert.Contains(t, leadsRel["cause"], "The collapse")
	assert.Contains(t, leadsRel["effect"], "stalled projects")
}

func TestExtractDefinitions(t *testing.T) {
	data, _, err := ExtractDefinitions(context.Background(), sampleText, nil)
	require.NoError(t, err)

	defs := data["definitions"].([]interface{})
	require.NotEmpty(t, defs)
	first := defs[0].(map[string]interface{})
	assert.Contains(t, first["term"], "Meridian Report")
	assert.Contains(t, first["definition"], "survey of postwar reconstruction")
}

func TestGenerateEmbeddingsDeterministic(t *testing.T) {
	a, metaA, err := GenerateEmbeddings(context.Background(), sampleText, nil)
	require.NoError(t, err)
	b, _, err := GenerateEmbeddings(context.Background(), sampleText, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b, "embeddings must be deterministic")
	assert.Equal(t, embeddingDim, metaA["dimension"])

	// Per-segment vectors when segment output is threaded through params.
	segData, _, err := Segment(context.Background(), sampleText, nil)
	require.NoError(t, err)
	multi, meta, err := GenerateEmbeddings(context.Background(), sampleText, map[string]interface{}{
		"segments": segData["segments"],
	})
	require.NoError(t, err)
	assert.Equal(t, len(segData["segments"].([]interface{})), meta["vector_count"])
	assert.NotEqual(t, a["vectors"], multi["vectors"])
}
