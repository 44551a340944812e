package tools

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Func is the black-box contract every analysis tool implements. Data and
// metadata are plain maps so tools never depend on engine-internal types.
type Func func(ctx context.Context, text string, params map[string]interface{}) (data, metadata map[string]interface{}, err error)

// BuiltinFuncs maps catalog names to their implementations. Tools whose
// catalog status is stub or planned have no entry here; the executor turns
// the missing lookup into a structured error result.
func BuiltinFuncs() map[string]Func {
	return map[string]Func{
		"segment":             Segment,
		"extract_entities":    ExtractEntities,
		"extract_temporal":    ExtractTemporal,
		"extract_causal":      ExtractCausal,
		"extract_definitions": ExtractDefinitions,
		"generate_embeddings": GenerateEmbeddings,
	}
}

var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

func splitSentences(text string) []string {
	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Segment splits text into ordered segments of at most `sentences_per_segment`
// sentences (default 3), paragraph boundaries always starting a new segment.
func Segment(_ context.Context, text string, params map[string]interface{}) (map[string]interface{}, map[string]interface{}, error) {
	perSegment := intParam(params, "sentences_per_segment", 3)
	if perSegment < 1 {
		return nil, nil, fmt.Errorf("sentences_per_segment must be positive")
	}

	type segment struct {
		Index int    `json:"index"`
		Text  string `json:"text"`
	}
	var segments []segment
	for _, para := range strings.Split(text, "\n\n") {
		sentences := splitSentences(para)
		for i := 0; i < len(sentences); i += perSegment {
			end := i + perSegment
			if end > len(sentences) {
				end = len(sentences)
			}
			segments = append(segments, segment{
				Index: len(segments),
				Text:  strings.Join(sentences[i:end], " "),
			})
		}
	}

	segs := make([]interface{}, len(segments))
	for i, s := range segments {
		segs[i] = map[string]interface{}{"index": s.Index, "text": s.Text}
	}
	data := map[string]interface{}{"segments": segs}
	meta := map[string]interface{}{"segment_count": len(segments)}
	return data, meta, nil
}

var entityPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)*\b`)

// ExtractEntities finds capitalized surface forms with occurrence counts,
// skipping sentence-initial single words that are common lowercase elsewhere.
func ExtractEntities(_ context.Context, text string, _ map[string]interface{}) (map[string]interface{}, map[string]interface{}, error) {
	counts := map[string]int{}
	lower := strings.ToLower(text)
	for _, m := range entityPattern.FindAllString(text, -1) {
		// Single common words at sentence starts are not entities.
		if !strings.Contains(m, " ") && strings.Count(lower, " "+strings.ToLower(m)+" ") > strings.Count(text, " "+m+" ") {
			continue
		}
		counts[m]++
	}

	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)

	entities := make([]interface{}, 0, len(names))
	for _, n := range names {
		entities = append(entities, map[string]interface{}{"surface": n, "count": counts[n]})
	}
	return map[string]interface{}{"entities": entities},
		map[string]interface{}{"entity_count": len(entities)}, nil
}

var temporalPattern = regexp.MustCompile(`\b(?:\d{4}|\d{1,2}/\d{1,2}/\d{2,4}|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:,\s*\d{4})?|(?:yesterday|today|tomorrow|last\s+\w+|next\s+\w+))\b`)

// ExtractTemporal finds dates, years, and relative temporal expressions.
func ExtractTemporal(_ context.Context, text string, _ map[string]interface{}) (map[string]interface{}, map[string]interface{}, error) {
	matches := temporalPattern.FindAllString(text, -1)
	exprs := make([]interface{}, len(matches))
	for i, m := range matches {
		exprs[i] = map[string]interface{}{"expression": m, "position": i}
	}
	return map[string]interface{}{"expressions": exprs},
		map[string]interface{}{"expression_count": len(exprs)}, nil
}

var causalConnectives = []string{"because", "therefore", "as a result", "leads to", "due to", "consequently", "causes", "caused by"}

// ExtractCausal finds sentences anchored on causal connectives and splits
// them into a cause side and an effect side around the connective.
func ExtractCausal(_ context.Context, text string, _ map[string]interface{}) (map[string]interface{}, map[string]interface{}, error) {
	var relations []interface{}
	for _, s := range splitSentences(text) {
		lower := strings.ToLower(s)
		for _, conn := range causalConnectives {
			idx := strings.Index(lower, conn)
			if idx < 0 {
				continue
			}
			left := strings.TrimSpace(s[:idx])
			right := strings.TrimSpace(strings.TrimRight(s[idx+len(conn):], ".!?"))
			if left == "" || right == "" {
				continue
			}
			cause, effect := right, left
			// "therefore" and friends flip the direction.
			if conn == "therefore" || conn == "as a result" || conn == "leads to" || conn == "consequently" || conn == "causes" {
				cause, effect = left, right
			}
			relations = append(relations, map[string]interface{}{
				"connective": conn,
				"cause":      cause,
				"effect":     effect,
				"sentence":   s,
			})
			break
		}
	}
	return map[string]interface{}{"relations": relations},
		map[string]interface{}{"relation_count": len(relations)}, nil
}

var definitionPattern = regexp.MustCompile(`(?m)^\s*(?:An?\s+)?([A-Z][\w\s-]{1,60}?)\s+(?:is|are|refers to|means|denotes)\s+(.+?)[.!?]`)

// ExtractDefinitions finds "X is/refers to/means Y" statements.
func ExtractDefinitions(_ context.Context, text string, _ map[string]interface{}) (map[string]interface{}, map[string]interface{}, error) {
	var defs []interface{}
	for _, s := range splitSentences(text) {
		m := definitionPattern.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		defs = append(defs, map[string]interface{}{
			"term":       strings.TrimSpace(m[1]),
			"definition": strings.TrimSpace(m[2]),
		})
	}
	return map[string]interface{}{"definitions": defs},
		map[string]interface{}{"definition_count": len(defs)}, nil
}

const embeddingDim = 64

// GenerateEmbeddings produces a deterministic hashed bag-of-words vector per
// segment. When segment output is present in params (the usual case, since
// the strategy orders segment first), vectors are built per segment;
// otherwise the whole text is one vector.
func GenerateEmbeddings(_ context.Context, text string, params map[string]interface{}) (map[string]interface{}, map[string]interface{}, error) {
	texts := []string{text}
	if segs, ok := params["segments"].([]interface{}); ok && len(segs) > 0 {
		texts = texts[:0]
		for _, s := range segs {
			if m, ok := s.(map[string]interface{}); ok {
				if t, ok := m["text"].(string); ok {
					texts = append(texts, t)
				}
			}
		}
	}

	vectors := make([]interface{}, len(texts))
	for i, t := range texts {
		vec := make([]float64, embeddingDim)
		for _, tok := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(strings.Trim(tok, ".,;:!?\"'()")))
			vec[h.Sum32()%embeddingDim]++
		}
		// L2 normalize
		var norm float64
		for _, v := range vec {
			norm += v * v
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for j := range vec {
				vec[j] /= norm
			}
		}
		out := make([]interface{}, embeddingDim)
		for j, v := range vec {
			out[j] = v
		}
		vectors[i] = map[string]interface{}{"index": i, "vector": out}
	}

	return map[string]interface{}{"vectors": vectors},
		map[string]interface{}{"dimension": embeddingDim, "vector_count": len(vectors)}, nil
}

func intParam(params map[string]interface{}, key string, def int) int {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
