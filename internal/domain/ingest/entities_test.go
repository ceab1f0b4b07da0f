package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordID_Deterministic(t *testing.T) {
	a := RecordID("doc-1", 0)
	b := RecordID("doc-1", 0)
	assert.Equal(t, a, b)

	assert.NotEqual(t, RecordID("doc-1", 0), RecordID("doc-1", 1))
	assert.NotEqual(t, RecordID("doc-1", 0), RecordID("doc-2", 0))

	// 相邻字段不会因拼接产生碰撞
	assert.NotEqual(t, RecordID("doc-1", 11), RecordID("doc-11", 1))
}

func TestRecordID_Format(t *testing.T) {
	id := RecordID("any", 42)
	assert.True(t, strings.HasPrefix(id, "v_"))
	assert.Len(t, id, 50)
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "queued", StatusText(JobStatusQueued))
	assert.Equal(t, "running", StatusText(JobStatusRunning))
	assert.Equal(t, "succeeded", StatusText(JobStatusSucceeded))
	assert.Equal(t, "failed", StatusText(JobStatusFailed))
	assert.Equal(t, "unknown", StatusText(99))
}

func TestTerminal(t *testing.T) {
	assert.False(t, (&IngestJob{Status: JobStatusQueued}).Terminal())
	assert.False(t, (&IngestJob{Status: JobStatusRunning}).Terminal())
	assert.True(t, (&IngestJob{Status: JobStatusSucceeded}).Terminal())
	assert.True(t, (&IngestJob{Status: JobStatusFailed}).Terminal())
}
