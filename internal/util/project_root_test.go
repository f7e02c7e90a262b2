package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUpward(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(deep, 0755))
	cfg := filepath.Join(root, "a", "remotebuild.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("ssh: {}\n"), 0644))

	got, err := FindUpward(deep, "remotebuild.yaml")
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	_, err = FindUpward(deep, "missing.yaml")
	assert.Error(t, err)
}

func TestFindUpwardSkipsDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "x", "remotebuild.yaml"), 0755))

	_, err := FindUpward(filepath.Join(root, "x"), "remotebuild.yaml")
	assert.Error(t, err)
}
