// Package paragraph builds the race target text.
package paragraph

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Common words keep the wire text deterministic in length bounds and
// free of characters clients cannot type.
var defaultWords = []string{
	"the", "of", "and", "to", "in", "is", "you", "that", "it", "he",
	"was", "for", "on", "are", "as", "with", "his", "they", "at", "be",
	"this", "have", "from", "or", "one", "had", "by", "word", "but", "not",
	"what", "all", "were", "we", "when", "your", "can", "said", "there", "use",
	"an", "each", "which", "she", "do", "how", "their", "if", "will", "up",
	"other", "about", "out", "many", "then", "them", "these", "so", "some", "her",
	"would", "make", "like", "him", "into", "time", "has", "look", "two", "more",
	"write", "go", "see", "number", "no", "way", "could", "people", "my", "than",
	"first", "water", "been", "call", "who", "oil", "its", "now", "find", "long",
	"down", "day", "did", "get", "come", "made", "may", "part", "over", "new",
}

// Generator produces randomized race paragraphs.
//
// Multiple goroutines may invoke methods on a Generator simultaneously.
type Generator struct {
	words []string
	rnd   *rand.Rand
	mu    sync.Mutex
}

// NewGenerator returns a Generator seeded with the current time.
func NewGenerator() *Generator {
	return &Generator{
		words: defaultWords,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewGeneratorWithSeed returns a deterministic Generator for tests.
func NewGeneratorWithSeed(seed int64) *Generator {
	return &Generator{
		words: defaultWords,
		rnd:   rand.New(rand.NewSource(seed)),
	}
}

// Generate returns a space-separated paragraph of count words.
func (g *Generator) Generate(count int) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	parts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		parts = append(parts, g.words[g.rnd.Intn(len(g.words))])
	}
	return strings.Join(parts, " ")
}

// Extension returns additional text to append to an existing
// paragraph, including the joining space.
func (g *Generator) Extension(count int) string {
	return " " + g.Generate(count)
}
