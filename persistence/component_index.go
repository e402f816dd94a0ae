package persistence

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Match is one ranked component.
type Match struct {
	Name  string
	Score float64
}

// ComponentIndex ranks component documentation by term overlap with a
// query. Vectors are plain term frequencies compared by cosine similarity;
// the component name counts as a heading and is weighted up.
type ComponentIndex struct {
	mu   sync.RWMutex
	vecs map[string]map[string]float64
}

const nameWeight = 3

// NewComponentIndex returns an empty index.
func NewComponentIndex() *ComponentIndex {
	return &ComponentIndex{vecs: make(map[string]map[string]float64)}
}

// Add indexes or replaces the documentation of name.
func (x *ComponentIndex) Add(name, content string) {
	vec := termVector(content)
	for term, n := range termVector(splitCamel(name)) {
		vec[term] += n * nameWeight
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vecs[name] = vec
}

// Remove drops name from the index.
func (x *ComponentIndex) Remove(name string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.vecs, name)
}

// Len reports the number of indexed components.
func (x *ComponentIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vecs)
}

// Search returns up to limit components sharing terms with query, best
// first. Ties are broken by name.
func (x *ComponentIndex) Search(query string, limit int) []Match {
	if limit <= 0 {
		limit = 5
	}
	q := termVector(query)
	x.mu.RLock()
	var matches []Match
	for name, vec := range x.vecs {
		if score := cosine(q, vec); score > 0 {
			matches = append(matches, Match{Name: name, Score: score})
		}
	}
	x.mu.RUnlock()
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Name < matches[j].Name
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// termVector lowercases text and counts alphanumeric runs, which drops
// markdown punctuation such as #, *, backticks and pipes.
func termVector(text string) map[string]float64 {
	vec := make(map[string]float64)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		vec[w]++
	}
	return vec
}

// splitCamel turns DatePicker into "Date Picker" so name parts match queries.
func splitCamel(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func cosine(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for term, w := range a {
		dot += w * b[term]
		normA += w * w
	}
	for _, w := range b {
		normB += w * w
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
