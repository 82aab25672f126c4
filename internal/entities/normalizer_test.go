package entities

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := NewNormalizer("", zap.NewNop())
	require.NoError(t, err)
	return n
}

func TestNormalizeKnownAliases(t *testing.T) {
	n := newTestNormalizer(t)

	cases := map[string]string{
		"Wells Fargo":            "WFC",
		"wells fargo & company":  "WFC",
		"JPMorgan Chase":         "JPM",
		"chase":                  "JPM",
		"Bank of New York Mellon": "BK",
		"ZION":                   "ZION",
		"zions bancorporation":   "ZION",
	}
	for raw, want := range cases {
		got, ok := n.Normalize(raw)
		require.True(t, ok, "expected match for %q", raw)
		assert.Equal(t, want, got)
	}
}

func TestNormalizeUnknownStaysUnset(t *testing.T) {
	n := newTestNormalizer(t)

	_, ok := n.Normalize("Acme Savings & Loan")
	assert.False(t, ok)
	_, ok = n.Normalize("")
	assert.False(t, ok)
}

func TestFindMentionPrefersLongestAlias(t *testing.T) {
	n := newTestNormalizer(t)

	id, ok := n.FindMention("What are Wells Fargo & Company's capital ratios?")
	require.True(t, ok)
	assert.Equal(t, "WFC", id)
}

func TestFindMentionWordBoundary(t *testing.T) {
	n := newTestNormalizer(t)

	// "KEY" is a ticker but must not match inside other words.
	_, ok := n.FindMention("the keynote covered monkeys")
	assert.False(t, ok)

	id, ok := n.FindMention("How did KEY perform in 2024?")
	require.True(t, ok)
	assert.Equal(t, "KEY", id)
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companies.yaml")
	data := []byte("companies:\n  PNC:\n    - pnc financial\n    - pnc bank\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	n, err := NewNormalizer(path, zap.NewNop())
	require.NoError(t, err)

	id, ok := n.Normalize("PNC Financial")
	require.True(t, ok)
	assert.Equal(t, "PNC", id)

	// built-in table still present after merge
	id, ok = n.Normalize("wells fargo")
	require.True(t, ok)
	assert.Equal(t, "WFC", id)
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("companies: {}\n"), 0o644))

	n, err := NewNormalizer(path, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.Watch(ctx, path) }()

	time.Sleep(50 * time.Millisecond)
	data := []byte("companies:\n  HBAN:\n    - huntington bancshares\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.Eventually(t, func() bool {
		_, ok := n.Normalize("huntington bancshares")
		return ok
	}, 2*time.Second, 20*time.Millisecond)
}
