package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		tag  string
		want Runtime
	}{
		{"node", Node},
		{"NODE", Node},
		{"nodejs", Node},
		{"js", Node},
		{"javascript", Node},
		{"bun", Bun},
		{"BUN", Bun},
		{"ts", TypeScript},
		{"typescript", TypeScript},
		{"TypeScript", TypeScript},
		{"  bun  ", Bun},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.tag), "tag=%q", tc.tag)
	}
}

func TestNormalizeUnknownFallsThrough(t *testing.T) {
	assert.Equal(t, Runtime("python"), Normalize("python"))
}

func TestLookupKnownRuntimes(t *testing.T) {
	for _, tag := range []string{"node", "nodejs", "bun", "ts", "typescript"} {
		entry, err := Lookup(tag)
		require.NoError(t, err, "tag=%q", tag)
		assert.NotEmpty(t, entry.Image)
		assert.NotEmpty(t, entry.MainFile)
		assert.NotEmpty(t, entry.ExecuteCommand)
	}
}

func TestLookupUnknownRuntime(t *testing.T) {
	_, err := Lookup("python")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownRuntime))
}

func TestSynthesizePackageJSONBunAddsModuleType(t *testing.T) {
	entry, err := Lookup("bun")
	require.NoError(t, err)

	pkg := SynthesizePackageJSON(entry, "index.ts", false)
	assert.Contains(t, pkg, `"type": "module"`)
}

func TestSynthesizePackageJSONNonBunOmitsModuleType(t *testing.T) {
	entry, err := Lookup("node")
	require.NoError(t, err)

	pkg := SynthesizePackageJSON(entry, "index.js", false)
	assert.NotContains(t, pkg, `"type": "module"`)
}

func TestSynthesizePackageJSONDevServerAddsDevScript(t *testing.T) {
	entry, err := Lookup("node")
	require.NoError(t, err)

	pkg := SynthesizePackageJSON(entry, "index.js", true)
	assert.Contains(t, pkg, `"dev":`)
	assert.Contains(t, pkg, `"start":`)
}

func TestSynthesizePackageJSONWithoutDevServerOmitsDevScript(t *testing.T) {
	entry, err := Lookup("node")
	require.NoError(t, err)

	pkg := SynthesizePackageJSON(entry, "index.js", false)
	assert.NotContains(t, pkg, `"dev":`)
	assert.Contains(t, pkg, `"start":`)
}

func TestRenderCommandSubstitutesFile(t *testing.T) {
	entry, err := Lookup("typescript")
	require.NoError(t, err)

	rendered := RenderCommand(entry.ExecuteCommand, "main.ts")
	assert.Contains(t, rendered, "main.ts")
	for _, part := range rendered {
		assert.NotContains(t, part, "{{file}}")
	}
}

func TestIsMainFile(t *testing.T) {
	assert.True(t, IsMainFile("index.js"))
	assert.True(t, IsMainFile("src/main.ts"))
	assert.False(t, IsMainFile("utils.js"))
}

func TestHasPackageJSON(t *testing.T) {
	assert.True(t, HasPackageJSON([]string{"index.js", "package.json"}))
	assert.False(t, HasPackageJSON([]string{"index.js"}))
}
