package tools

import (
	"fmt"
	"sort"

	"github.com/inkwell-labs/corpusflow/internal/run"
)

// Registry is the catalog of available analysis tools plus the strategy
// validator. Built once at startup and passed explicitly to whatever needs
// it; there is no package-level singleton.
type Registry struct {
	defs  map[string]Definition
	order []string
}

// NewRegistry builds a registry from catalog definitions.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("tool definition with empty name")
		}
		if _, dup := r.defs[d.Name]; dup {
			return nil, fmt.Errorf("duplicate tool definition %q", d.Name)
		}
		r.defs[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// NewDefaultRegistry loads the embedded catalog.
func NewDefaultRegistry() (*Registry, error) {
	defs, err := LoadCatalog()
	if err != nil {
		return nil, err
	}
	return NewRegistry(defs)
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Available returns all non-deprecated tools, optionally excluding stubs.
// Order follows the catalog.
func (r *Registry) Available(includeStubs bool) []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		d := r.defs[name]
		switch d.Status {
		case StatusDeprecated, StatusPlanned:
			continue
		case StatusStub:
			if !includeStubs {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

// ValidationReport aggregates what ValidateStrategy kept and dropped.
type ValidationReport struct {
	Recommended int      `json:"recommended"`
	Unknown     int      `json:"unknown"`
	Stubs       int      `json:"stubs"`
	Retained    int      `json:"retained"`
	Warnings    []string `json:"warnings,omitempty"`
}

// ValidateStrategy checks every referenced tool name against the catalog and
// returns a filtered strategy containing only implemented (or, when
// includeStubs is set, stub) tools. Unknown names are warnings, never errors;
// stub usage is flagged. The filtered strategy is what the execute stage
// actually runs — never the raw recommendation.
func (r *Registry) ValidateStrategy(s run.Strategy, includeStubs bool) (run.Strategy, ValidationReport) {
	report := ValidationReport{}
	filtered := make(run.Strategy, len(s))

	docs := make([]string, 0, len(s))
	for doc := range s {
		docs = append(docs, doc)
	}
	sort.Strings(docs)

	for _, doc := range docs {
		var kept []string
		for _, name := range s[doc] {
			report.Recommended++
			d, ok := r.defs[name]
			if !ok {
				report.Unknown++
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("document %s: unknown tool %q dropped", doc, name))
				continue
			}
			switch d.Status {
			case StatusImplemented:
				kept = append(kept, name)
			case StatusStub:
				report.Stubs++
				if includeStubs {
					kept = append(kept, name)
				} else {
					report.Warnings = append(report.Warnings,
						fmt.Sprintf("document %s: stub tool %q dropped", doc, name))
				}
			default:
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("document %s: tool %q is %s, dropped", doc, name, d.Status))
			}
		}
		if len(kept) > 0 {
			filtered[doc] = kept
		}
	}
	report.Retained = filtered.ToolCount()
	return filtered, report
}
