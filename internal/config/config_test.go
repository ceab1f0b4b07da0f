package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConf(t, `
[mainConfig]
appName = "VectorLink"

[splitterConfig]
chunkSize = 100
chunkOverlap = 20
`)

	conf, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8000, conf.MainConfig.Port)
	assert.Equal(t, "vl_document_vectors", conf.MilvusConfig.CollectionName)
	assert.Equal(t, 768, conf.MilvusConfig.VectorDim)
	assert.Equal(t, 32, conf.EmbeddingConfig.BatchSize)
	assert.Equal(t, 2, conf.WorkerConfig.Count)
	assert.Equal(t, 30, conf.WorkerConfig.ShutdownGraceSeconds)
}

func TestLoad_OverlapGteChunkSizeFails(t *testing.T) {
	path := writeConf(t, `
[splitterConfig]
chunkSize = 100
chunkOverlap = 100
`)
	_, err := Load(path)
	assert.Error(t, err)

	path = writeConf(t, `
[splitterConfig]
chunkSize = 100
chunkOverlap = 150
`)
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoad_NegativeOverlapFails(t *testing.T) {
	path := writeConf(t, `
[splitterConfig]
chunkSize = 100
chunkOverlap = -1
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_DimensionMismatchFails(t *testing.T) {
	path := writeConf(t, `
[milvusConfig]
vectorDim = 768

[embeddingConfig]
dimensions = 1024
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_DimensionsMatchingPasses(t *testing.T) {
	path := writeConf(t, `
[milvusConfig]
vectorDim = 1024

[embeddingConfig]
dimensions = 1024
`)
	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1024, conf.MilvusConfig.VectorDim)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
