package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/codegnn/internal/compress"
	"github.com/dusk-indust/codegnn/internal/graph"
	"github.com/dusk-indust/codegnn/internal/inference"
)

const testConfig = `
model:
  kind: sage
  seed: 3
  inputDim: 32
  hiddenDims: [16]
  outputDim: 8
features:
  dim: 32
  nameHashBuckets: 4
training:
  epochs: 2
  batchSize: 4
`

func fixture(t *testing.T, parts ...string) string {
	t.Helper()
	abs, err := filepath.Abs(filepath.Join(append([]string{"..", "..", "testdata", "fixtures"}, parts...)...))
	require.NoError(t, err)
	return abs
}

// newProject writes a small codegnn.yml into a temp dir.
func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "codegnn.yml"), []byte(testConfig), 0o644))
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	out, err := runCLI(t, "-C", dir, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "created ./codegnn.yml")
	assert.Contains(t, out, "created .mcp.json")
	assert.FileExists(t, filepath.Join(dir, "codegnn.yml"))

	data, err := os.ReadFile(filepath.Join(dir, ".mcp.json"))
	require.NoError(t, err)
	var cfg mcpConfig
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.JSONEq(t, string(codegnnMCPEntry), string(cfg.MCPServers["codegnn"]))

	out, err = runCLI(t, "-C", dir, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "skipped ./codegnn.yml")
	assert.Contains(t, out, "skipped .mcp.json codegnn entry")
}

func TestMergeMCPConfig_KeepsOtherServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"other":{"command":"x"}}}`), 0o644))

	var out bytes.Buffer
	require.NoError(t, mergeMCPConfig(&out, path, false))
	assert.Contains(t, out.String(), "updated .mcp.json")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var cfg mcpConfig
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Len(t, cfg.MCPServers, 2)
	assert.JSONEq(t, `{"command":"x"}`, string(cfg.MCPServers["other"]))
}

func TestInfo_JSON(t *testing.T) {
	dir := newProject(t)
	out, err := runCLI(t, "-C", dir, "info", "--json")
	require.NoError(t, err)

	var info projectInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "sage", info.ModelKind)
	assert.Equal(t, 32, info.InputDim)
	assert.Equal(t, 8, info.OutputDim)
	assert.Positive(t, info.Params)
	assert.NotEmpty(t, info.Fingerprint)
	assert.NotEmpty(t, info.Features)
	assert.Empty(t, info.StorePath)
}

func TestParse_Summary(t *testing.T) {
	dir := newProject(t)
	out, err := runCLI(t, "-C", dir, "parse", fixture(t, "go_project"))
	require.NoError(t, err)
	assert.Contains(t, out, "FILE")
	assert.Contains(t, out, "main.go")
	assert.Contains(t, out, "service.go")
	assert.Contains(t, out, "total")
}

func TestParse_OutAndMermaid(t *testing.T) {
	dir := newProject(t)
	outDir := filepath.Join(dir, "graphs")
	out, err := runCLI(t, "-C", dir, "parse", fixture(t, "go_project"), "--out", outDir, "--mermaid")
	require.NoError(t, err)
	assert.Contains(t, out, "%% main.go")
	assert.Contains(t, out, "graph TD")

	g, err := graph.ReadGraphFile(filepath.Join(outDir, "model.go.json"))
	require.NoError(t, err)
	assert.Equal(t, "model.go", g.FilePath)
	assert.Equal(t, graph.LangGo, g.Language)
}

func TestParse_Store(t *testing.T) {
	dir := newProject(t)
	_, err := runCLI(t, "-C", dir, "parse", fixture(t, "py_project"), "--store")
	require.NoError(t, err)
}

func TestParse_StoreMermaidReadsBack(t *testing.T) {
	dir := newProject(t)
	out, err := runCLI(t, "-C", dir, "parse", fixture(t, "go_project"), "--store", "--mermaid")
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, `subgraph F0["main.go"]`)
	assert.NotContains(t, out, "%% main.go", "store rendering replaces the per-file diagrams")
}

func TestParse_UnsupportedLanguage(t *testing.T) {
	dir := newProject(t)
	src := filepath.Join(dir, "x.rb")
	require.NoError(t, os.WriteFile(src, []byte("puts 1\n"), 0o644))
	_, err := runCLI(t, "-C", dir, "parse", src)
	assert.ErrorIs(t, err, graph.ErrUnsupportedLanguage)
}

func TestCompress_FileToStdout(t *testing.T) {
	dir := newProject(t)
	out, err := runCLI(t, "-C", dir, "compress", fixture(t, "go_project", "main.go"))
	require.NoError(t, err)

	emb, err := compress.Decode([]byte(out))
	require.NoError(t, err)
	assert.Len(t, emb.Vector, 8)
	require.NotNil(t, emb.Metadata)
	assert.Equal(t, 1, emb.Metadata.GraphCount)
}

func TestCompress_CodebaseToFile(t *testing.T) {
	dir := newProject(t)
	outPath := filepath.Join(dir, "out", "codebase.bin")
	_, err := runCLI(t, "-C", dir, "compress", fixture(t, "go_project"), "-o", outPath)
	require.NoError(t, err)

	emb, err := compress.ReadFile(outPath)
	require.NoError(t, err)
	assert.Len(t, emb.Vector, 8)
	require.NotNil(t, emb.Metadata)
	assert.Equal(t, 3, emb.Metadata.GraphCount)
}

func TestCompress_StoredNeedsGraphs(t *testing.T) {
	dir := newProject(t)
	_, err := runCLI(t, "-C", dir, "compress", "--stored")
	assert.ErrorIs(t, err, compress.ErrEmptyCodebase)

	_, err = runCLI(t, "-C", dir, "compress", "--stored", fixture(t, "go_project"))
	assert.ErrorContains(t, err, "--stored takes no path argument")

	_, err = runCLI(t, "-C", dir, "search", fixture(t, "go_project", "main.go"), "--stored")
	assert.ErrorIs(t, err, compress.ErrEmptyCodebase)
}

func TestCompress_BinaryNeedsOutput(t *testing.T) {
	dir := newProject(t)
	_, err := runCLI(t, "-C", dir, "compress", fixture(t, "go_project", "main.go"), "--format", "binary")
	assert.ErrorContains(t, err, "needs --output")
}

func TestCompressIndexThenSearch(t *testing.T) {
	dir := newProject(t)
	idx := filepath.Join(dir, "index.json")
	_, err := runCLI(t, "-C", dir, "compress", fixture(t, "go_project"), "--index", idx)
	require.NoError(t, err)
	require.FileExists(t, idx)

	out, err := runCLI(t, "-C", dir, "search", fixture(t, "go_project", "main.go"), "--index", idx, "-k", "2", "--json")
	require.NoError(t, err)

	var matches []inference.Match
	require.NoError(t, json.Unmarshal([]byte(out), &matches))
	require.Len(t, matches, 2)
	assert.Equal(t, "main.go", matches[0].Path)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)
}

func TestInfo_PurgeStale(t *testing.T) {
	dir := t.TempDir()
	writeConfig := func(seed string) {
		cfg := strings.Replace(testConfig, "seed: 3", "seed: "+seed, 1) + "store:\n  enabled: true\n  path: .codegnn/embeddings\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "codegnn.yml"), []byte(cfg), 0o644))
	}
	readInfo := func(args ...string) projectInfo {
		out, err := runCLI(t, append([]string{"-C", dir, "info", "--json"}, args...)...)
		require.NoError(t, err)
		var info projectInfo
		require.NoError(t, json.Unmarshal([]byte(out), &info))
		return info
	}

	writeConfig("3")
	_, err := runCLI(t, "-C", dir, "compress", fixture(t, "go_project"))
	require.NoError(t, err)
	info := readInfo()
	assert.Equal(t, 3, info.StoreEntries)
	assert.Equal(t, 1, info.StoreModels)

	// Nothing is stale while the same model is configured.
	info = readInfo("--purge-stale")
	assert.Zero(t, info.Purged)
	assert.Equal(t, 3, info.StoreEntries)

	writeConfig("4")
	info = readInfo("--purge-stale")
	assert.Equal(t, 3, info.Purged)
	assert.Zero(t, info.StoreEntries)
	assert.Zero(t, info.StoreModels)
}

func TestSearch_Repo(t *testing.T) {
	dir := newProject(t)
	out, err := runCLI(t, "-C", dir, "search", fixture(t, "go_project", "service.go"), "--repo", fixture(t, "go_project"), "-k", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "RANK")
	assert.Contains(t, out, "service.go")
}

func TestSearch_RejectsDirectoryQuery(t *testing.T) {
	dir := newProject(t)
	_, err := runCLI(t, "-C", dir, "search", fixture(t, "go_project"))
	assert.ErrorContains(t, err, "search takes one file")
}

func TestTrain(t *testing.T) {
	dir := newProject(t)
	out, err := runCLI(t, "-C", dir, "train", fixture(t, "go_project"), "--samples", "6", "--save", "models/model.bin")
	require.NoError(t, err)
	assert.Contains(t, out, "EPOCH")
	assert.FileExists(t, filepath.Join(dir, "models", "model.bin"))

	out, err = runCLI(t, "-C", dir, "info", "--json")
	require.NoError(t, err)
	var seeded projectInfo
	require.NoError(t, json.Unmarshal([]byte(out), &seeded))

	// The saved model loads back through model.path.
	loadDir := t.TempDir()
	cfg := "model:\n  path: " + filepath.Join(dir, "models", "model.bin") + "\nfeatures:\n  dim: 32\n  nameHashBuckets: 4\n"
	require.NoError(t, os.WriteFile(filepath.Join(loadDir, "codegnn.yml"), []byte(cfg), 0o644))
	out, err = runCLI(t, "-C", loadDir, "info", "--json")
	require.NoError(t, err)
	var loaded projectInfo
	require.NoError(t, json.Unmarshal([]byte(out), &loaded))
	assert.Equal(t, "file", loaded.ModelKind)
	assert.Equal(t, seeded.Fingerprint, loaded.Fingerprint)
}

func TestTrain_NeedsTwoFiles(t *testing.T) {
	dir := newProject(t)
	_, err := runCLI(t, "-C", dir, "train", fixture(t, "rs_project"))
	assert.Error(t, err)
}

func TestUnknownConfigKind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "codegnn.yml"), []byte("model:\n  kind: rnn\n"), 0o644))
	_, err := runCLI(t, "-C", dir, "info")
	assert.ErrorContains(t, err, "unknown kind")
}
