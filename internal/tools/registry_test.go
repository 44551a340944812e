package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-labs/corpusflow/internal/run"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewDefaultRegistry()
	require.NoError(t, err)
	return r
}

func TestCatalogLoads(t *testing.T) {
	defs, err := LoadCatalog()
	require.NoError(t, err)
	assert.NotEmpty(t, defs)

	byName := map[string]Definition{}
	for _, d := range defs {
		byName[d.Name] = d
	}
	assert.Equal(t, StatusImplemented, byName["segment"].Status)
	assert.Equal(t, StatusStub, byName["extract_citations"].Status)
	assert.Equal(t, StatusDeprecated, byName["summarize_rules"].Status)
}

func TestAvailableExcludesDeprecatedAndPlanned(t *testing.T) {
	r := testRegistry(t)

	for _, includeStubs := range []bool{true, false} {
		for _, d := range r.Available(includeStubs) {
			assert.NotEqual(t, StatusDeprecated, d.Status)
			assert.NotEqual(t, StatusPlanned, d.Status)
			if !includeStubs {
				assert.NotEqual(t, StatusStub, d.Status)
			}
		}
	}

	with := len(r.Available(true))
	without := len(r.Available(false))
	assert.Greater(t, with, without, "stub entries only appear when requested")
}

func TestValidateStrategyFilters(t *testing.T) {
	r := testRegistry(t)

	raw := run.Strategy{
		"doc1": {"segment", "hallucinated_tool", "extract_citations", "summarize_rules"},
		"doc2": {"extract_entities"},
	}

	filtered, report := r.ValidateStrategy(raw, false)

	assert.Equal(t, run.Strategy{
		"doc1": {"segment"},
		"doc2": {"extract_entities"},
	}, filtered)
	assert.Equal(t, 5, report.Recommended)
	assert.Equal(t, 1, report.Unknown)
	assert.Equal(t, 1, report.Stubs)
	assert.Equal(t, 2, report.Retained)
	assert.NotEmpty(t, report.Warnings)

	// Deprecated and unknown tools never survive, even with stubs included.
	filtered, _ = r.ValidateStrategy(raw, true)
	for _, toolsForDoc := range filtered {
		for _, name := range toolsForDoc {
			d, ok := r.Lookup(name)
			require.True(t, ok, "filtered strategy must only contain catalog tools")
			assert.NotEqual(t, StatusDeprecated, d.Status)
		}
	}
	assert.Contains(t, filtered["doc1"], "extract_citations", "stubs retained when requested")
}

func TestValidateStrategyDropsEmptyDocuments(t *testing.T) {
	r := testRegistry(t)
	filtered, report := r.ValidateStrategy(run.Strategy{"doc1": {"nope"}}, false)
	assert.Empty(t, filtered)
	assert.Equal(t, 0, report.Retained)
}
