package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maneesh/scatterstore/internal/config"
	"github.com/maneesh/scatterstore/internal/engine"
	"github.com/maneesh/scatterstore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Metadata.SQLitePath = filepath.Join(dir, "metadata.db")
	cfg.Providers.Filesystem.Dir = filepath.Join(dir, "chunks")
	cfg.Providers.Archive.Dir = filepath.Join(dir, "archive")
	cfg.Providers.Database.Path = filepath.Join(dir, "chunks.db")
	cfg.Engine.RandomSeed = 11

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	root, closeApp := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", cfgPath, "--no-progress"}, args...))

	err := root.Execute()
	require.NoError(t, closeApp())
	return stdout.String(), err
}

func chunkOne(t *testing.T, cfgPath, src string) string {
	t.Helper()
	out, err := run(t, cfgPath, "chunk", src)
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.NotEmpty(t, fields)
	return fields[0]
}

func TestChunkReconstructDelete(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	data := bytes.Repeat([]byte("command line "), 40_000)
	src := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(src, data, 0o644))

	id := chunkOne(t, cfgPath, src)

	out := filepath.Join(dir, "rebuilt.bin")
	stdout, err := run(t, cfgPath, "reconstruct", id, out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "rebuilt to")

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	stdout, err = run(t, cfgPath, "delete", id)
	require.NoError(t, err)
	assert.Contains(t, stdout, id+" deleted")

	_, err = run(t, cfgPath, "delete", id)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestInfoAndList(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	src := filepath.Join(dir, "ten.txt")
	require.NoError(t, os.WriteFile(src, []byte("abcdefghij"), 0o644))

	id := chunkOne(t, cfgPath, src)

	stdout, err := run(t, cfgPath, "info", "--json", id)
	require.NoError(t, err)
	var file models.FileRecord
	require.NoError(t, json.Unmarshal([]byte(stdout), &file))
	assert.Equal(t, id, file.ID)
	assert.Equal(t, "ten.txt", file.Name)
	assert.Len(t, file.Chunks, 2)

	stdout, err = run(t, cfgPath, "info", id)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Complete:  true")
	assert.Contains(t, stdout, id+"_chunk_1")

	stdout, err = run(t, cfgPath, "list", "--json")
	require.NoError(t, err)
	var files []models.FileRecord
	require.NoError(t, json.Unmarshal([]byte(stdout), &files))
	require.Len(t, files, 1)
	assert.Equal(t, id, files[0].ID)

	stdout, err = run(t, cfgPath, "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "ten.txt")
}

func TestChunk_NamedAndFailures(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	src := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(src, []byte("0123456789"), 0o644))

	stdout, err := run(t, cfgPath, "chunk", "--name", "renamed.bin", src)
	require.NoError(t, err)
	id := strings.Fields(stdout)[0]

	stdout, err = run(t, cfgPath, "info", "--json", id)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"name": "renamed.bin"`)

	_, err = run(t, cfgPath, "chunk", "--name", "x", src, src)
	assert.Error(t, err)

	stdout, err = run(t, cfgPath, "chunk", src, filepath.Join(dir, "missing"))
	assert.EqualError(t, err, "1 of 2 files failed")
	assert.Equal(t, 1, strings.Count(stdout, "\n"))
}

func TestVerifyAndProviders(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	src := filepath.Join(dir, "v.bin")
	require.NoError(t, os.WriteFile(src, bytes.Repeat([]byte{9}, 200_000), 0o644))
	id := chunkOne(t, cfgPath, src)

	stdout, err := run(t, cfgPath, "verify", id)
	require.NoError(t, err)
	var report engine.VerifyReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.True(t, report.Healthy)
	assert.Equal(t, 2, report.ExpectedChunks)

	stdout, err = run(t, cfgPath, "providers")
	require.NoError(t, err)
	for _, name := range []string{"archive", "database", "filesystem"} {
		assert.Contains(t, stdout, name)
	}
}

func TestUnknownFile(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())
	_, err := run(t, cfgPath, "reconstruct", "nope", filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [oops"), 0o644))
	_, err := run(t, path, "list")
	assert.Error(t, err)
}
