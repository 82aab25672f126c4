// Package entities maps free-text company mentions to canonical tickers.
// Retrieval strategies never see raw entity text; everything downstream of
// the extractor works with the canonical form.
package entities

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Normalizer resolves entity mentions against an alias table. Lookups are
// pure; the table itself may be replaced atomically by a hot reload.
type Normalizer struct {
	mu      sync.RWMutex
	aliases map[string]string // upper-cased alias -> ticker
	logger  *zap.Logger
}

// aliasFile is the on-disk shape of the alias table.
type aliasFile struct {
	Companies map[string][]string `yaml:"companies"` // ticker -> aliases
}

// defaultAliases covers the bank coverage universe the knowledge base ships
// with. A configured alias file extends or replaces these.
var defaultAliases = map[string][]string{
	"WFC":  {"wells fargo", "wells fargo & company", "wells fargo bank"},
	"JPM":  {"jpmorgan", "jp morgan", "jpmorgan chase", "jp morgan chase", "chase"},
	"BAC":  {"bank of america", "bank of america corporation", "bofa"},
	"GS":   {"goldman sachs", "goldman sachs group", "goldman"},
	"MS":   {"morgan stanley"},
	"C":    {"citigroup", "citi", "citibank"},
	"USB":  {"u.s. bancorp", "us bancorp", "us bank"},
	"ZION": {"zions bancorporation", "zions bank", "zions"},
	"KEY":  {"keycorp", "keybank", "key bank"},
	"TFC":  {"truist", "truist financial", "truist financial corporation"},
	"FITB": {"fifth third", "fifth third bank", "fifth third bancorp"},
	"RF":   {"regions", "regions bank", "regions financial"},
	"BK":   {"bank of new york mellon", "bny mellon", "mellon"},
	"MTB":  {"m&t bank", "mt bank", "m&t bank corporation"},
	"SNV":  {"synovus", "synovus financial"},
}

// NewNormalizer builds a normalizer from the built-in table, optionally
// merged with the aliases in path (when path is non-empty and readable).
func NewNormalizer(path string, logger *zap.Logger) (*Normalizer, error) {
	n := &Normalizer{
		aliases: buildIndex(defaultAliases),
		logger:  logger,
	}
	if path != "" {
		if err := n.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			logger.Warn("alias file not found, using built-in table",
				zap.String("path", path))
		}
	}
	return n, nil
}

// Normalize maps a raw entity mention to its canonical ticker. The second
// return is false when no canonical match exists; callers leave the field
// unset rather than guessing.
func (n *Normalizer) Normalize(raw string) (string, bool) {
	key := canonKey(raw)
	if key == "" {
		return "", false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	id, ok := n.aliases[key]
	return id, ok
}

// FindMention scans free text for the longest known alias and returns its
// ticker. Used by the extractor's rule pass.
func (n *Normalizer) FindMention(text string) (string, bool) {
	upper := strings.ToUpper(text)
	n.mu.RLock()
	defer n.mu.RUnlock()

	best := ""
	bestLen := 0
	for alias, id := range n.aliases {
		if len(alias) > bestLen && containsWord(upper, alias) {
			best = id
			bestLen = len(alias)
		}
	}
	return best, best != ""
}

// Size returns the number of aliases currently loaded.
func (n *Normalizer) Size() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.aliases)
}

// loadFile parses a yaml alias file and merges it over the built-in table.
func (n *Normalizer) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse alias file %s: %w", path, err)
	}

	merged := buildIndex(defaultAliases)
	for ticker, aliases := range f.Companies {
		t := strings.ToUpper(strings.TrimSpace(ticker))
		merged[t] = t
		for _, a := range aliases {
			if key := canonKey(a); key != "" {
				merged[key] = t
			}
		}
	}

	n.mu.Lock()
	n.aliases = merged
	n.mu.Unlock()

	n.logger.Info("loaded entity alias table",
		zap.String("path", path),
		zap.Int("aliases", len(merged)),
	)
	return nil
}

func buildIndex(table map[string][]string) map[string]string {
	idx := make(map[string]string, len(table)*4)
	for ticker, aliases := range table {
		idx[ticker] = ticker
		for _, a := range aliases {
			idx[canonKey(a)] = ticker
		}
	}
	return idx
}

var punct = regexp.MustCompile(`[.,;:!?]+$`)

func canonKey(s string) string {
	s = strings.TrimSpace(s)
	s = punct.ReplaceAllString(s, "")
	return strings.ToUpper(s)
}

// containsWord reports whether needle appears in haystack on word
// boundaries, so "KEY" does not match inside "KEYNOTE".
func containsWord(haystack, needle string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], needle)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(needle)
		beforeOK := start == 0 || !isAlnum(haystack[start-1])
		afterOK := end == len(haystack) || !isAlnum(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isAlnum(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
