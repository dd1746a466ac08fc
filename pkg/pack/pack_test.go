package pack

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/fabric/pkg/types"
)

func TestParseFormfileAppliesDefaults(t *testing.T) {
	raw := []byte("name: demo\nfrom: scratch\n")
	f, err := ParseFormfile(raw)
	require.NoError(t, err)
	require.Equal(t, types.DefaultResources(), f.Resources)
}

func TestParseFormfileRequiresNameAndFrom(t *testing.T) {
	_, err := ParseFormfile([]byte("run: [\"echo hi\"]\n"))
	require.Error(t, err)
}

func TestPackArtifactDeterministicForSameContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("hello"), 0644))

	idA, err := PackArtifact(dir)
	require.NoError(t, err)
	idB, err := PackArtifact(dir)
	require.NoError(t, err)
	require.Equal(t, idA, idB)
}

func TestBuilderRunPublishesAndReturnsBuildID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("data"), 0644))

	b := NewBuilder(nil, 0)
	step := func(ctx context.Context, f types.Formfile, scratchDir string) (string, error) {
		return dir, nil
	}
	id, err := b.Run(context.Background(), types.Address{}, types.Formfile{Name: "x", From: "scratch"}, t.TempDir(), step)
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, id)
}

func TestBuildIDFromBytes(t *testing.T) {
	require.Equal(t, buildIDFromBytes([]byte("x")), buildIDFromBytes([]byte("x")))
	require.NotEqual(t, buildIDFromBytes([]byte("x")), buildIDFromBytes([]byte("y")))
}
