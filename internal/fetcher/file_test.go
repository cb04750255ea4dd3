package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlFlags = `
flags:
  new-checkout:
    version: 3
    on: true
    variations: [false, true]
    offVariation: 0
    targets:
      - values: [beta-user]
        variation: 1
    rules:
      - clauses:
          - attribute: country
            op: in
            values: [BR, PT]
        variation: 1
    fallthrough:
      variation: 0
flagValues:
  banner-text: "hello"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFileFetcher_YAML(t *testing.T) {
	path := writeFile(t, "flags.yaml", yamlFlags)

	flags, err := NewFileFetcher(path).FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, flags, 2)

	nc := flags["new-checkout"]
	assert.Equal(t, "new-checkout", nc.Key)
	assert.Equal(t, 3, nc.Version)
	require.Len(t, nc.Rules, 1)
	require.NotNil(t, nc.Rules[0].Variation)
	assert.Equal(t, 1, *nc.Rules[0].Variation)
	assert.Equal(t, domain.OperatorIn, nc.Rules[0].Clauses[0].Op)

	banner := flags["banner-text"]
	assert.True(t, banner.On)
	assert.Equal(t, []any{"hello"}, banner.Variations)
}

func TestFileFetcher_JSON(t *testing.T) {
	path := writeFile(t, "flags.json", `{"flagValues": {"limit": 10}}`)

	flags, err := NewFileFetcher(path).FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{10}, flags["limit"].Variations)
}

func TestFileFetcher_LaterFileWins(t *testing.T) {
	a := writeFile(t, "a.yaml", "flagValues:\n  x: 1\n")
	b := writeFile(t, "b.yaml", "flagValues:\n  x: 2\n")

	flags, err := NewFileFetcher(a, b).FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{2}, flags["x"].Variations)
}

func TestFileFetcher_Errors(t *testing.T) {
	_, err := NewFileFetcher(filepath.Join(t.TempDir(), "missing.yaml")).FetchAll(context.Background())
	assert.True(t, domain.IsFetchError(err))

	bad := writeFile(t, "bad.yaml", "flags: [unclosed")
	_, err = NewFileFetcher(bad).FetchAll(context.Background())
	assert.True(t, domain.IsFetchError(err))

	dup := writeFile(t, "dup.yaml", "flags:\n  x: {variations: [1]}\nflagValues:\n  x: 2\n")
	_, err = NewFileFetcher(dup).FetchAll(context.Background())
	assert.Error(t, err)

	invalid := writeFile(t, "invalid.yaml", "flags:\n  x: {variations: [1], offVariation: 4}\n")
	_, err = NewFileFetcher(invalid).FetchAll(context.Background())
	assert.Error(t, err)
}

func TestMockFetcher(t *testing.T) {
	m := NewMockFetcher()
	m.AddFlag(domain.Flag{Key: "a"})

	flags, err := m.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, flags, 1)
	m.AssertCalled(t, 1)

	m.Reset()
	assert.Equal(t, 0, m.Calls())
}
