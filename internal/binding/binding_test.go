package binding_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenilsonani/psitrajectory/internal/binding"
)

func TestTryBindToElfinSucceedsOnRegisteredHash(t *testing.T) {
	g := binding.NewConceptGraph()

	mockSig := []float64{0.1, 0.2, 0.3, 0.4}

	elfinID := g.CreateNode()
	require.NoError(t, g.SetMeta(elfinID, "elfin_name", "wheelDiameter"))
	require.NoError(t, g.SetMeta(elfinID, "elfin_unit", "meters"))

	node := g.CreateNode()
	bound := g.TryBindToElfin(node, mockSig)
	assert.False(t, bound, "no hash registered yet: must not bind")

	g.RegisterHash(binding.SignatureHash(mockSig), elfinID)

	bound = g.TryBindToElfin(node, mockSig)
	assert.True(t, bound)

	name, ok := g.GetMeta(node, "elfin_name")
	assert.True(t, ok)
	assert.Equal(t, "wheelDiameter", name)

	source, ok := g.GetMeta(node, "source")
	assert.True(t, ok)
	assert.Equal(t, "ELFIN", source)
}

func TestTryBindToElfinMissIsNotAnError(t *testing.T) {
	g := binding.NewConceptGraph()
	node := g.CreateNode()
	bound := g.TryBindToElfin(node, []float64{9, 9, 9})
	assert.False(t, bound)
}

func TestSignatureHashIsDeterministic(t *testing.T) {
	sig := []float64{0.1, 0.2, 0.3}
	assert.Equal(t, binding.SignatureHash(sig), binding.SignatureHash(sig))
	assert.NotEqual(t, binding.SignatureHash(sig), binding.SignatureHash([]float64{0.4, 0.5, 0.6}))
}

func TestEnsureNodeIsIdempotentForSameKey(t *testing.T) {
	g := binding.NewConceptGraph()
	a := g.EnsureNode("abc123")
	b := g.EnsureNode("abc123")
	assert.Equal(t, a, b)
}

func TestImportELFINRegistersSymbols(t *testing.T) {
	g := binding.NewConceptGraph()
	path := filepath.Join(t.TempDir(), "symbols.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"symbols": [
			{"name": "wheelDiameter", "hash": "1a2b3c", "unit": "meters"},
			{"name": "noHashSkipped", "unit": "meters"}
		]
	}`), 0o644))

	count, err := g.ImportELFIN(path)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMergeCombinesMetadataWithoutErasingDestination(t *testing.T) {
	g := binding.NewConceptGraph()
	a := g.CreateNode()
	b := g.CreateNode()
	require.NoError(t, g.SetMeta(a, "own", "keep"))
	require.NoError(t, g.SetMeta(b, "elfin_name", "thing"))

	require.NoError(t, g.Merge(a, b))

	own, _ := g.GetMeta(a, "own")
	assert.Equal(t, "keep", own)
	name, _ := g.GetMeta(a, "elfin_name")
	assert.Equal(t, "thing", name)
}
