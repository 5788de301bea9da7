package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/poet-crawler/pkg/models"
)

func TestItemWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "items.jsonl")

	w, err := NewItemWriter(path, false, testLogger())
	require.NoError(t, err)
	item, err := w.ProcessItem(context.Background(), map[string]string{"title": "a"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "a"}, item)
	_, err = w.ProcessItem(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 2, w.Count())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second close is a no-op")

	_, err = w.ProcessItem(context.Background(), "late")
	assert.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"title\":\"a\"}\n\"b\"\n", string(data))

	t.Run("resume appends", func(t *testing.T) {
		w, err := NewItemWriter(path, true, testLogger())
		require.NoError(t, err)
		_, err = w.ProcessItem(context.Background(), "c")
		require.NoError(t, err)
		require.NoError(t, w.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 3, strings.Count(string(data), "\n"))
	})

	t.Run("fresh run truncates", func(t *testing.T) {
		w, err := NewItemWriter(path, false, testLogger())
		require.NoError(t, err)
		require.NoError(t, w.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Empty(t, data)
	})
}

func TestItemWriter_UnencodableItem(t *testing.T) {
	w, err := NewItemWriter(filepath.Join(t.TempDir(), "items.jsonl"), false, testLogger())
	require.NoError(t, err)
	defer w.Close()

	_, err = w.ProcessItem(context.Background(), make(chan int))
	assert.Error(t, err)
	assert.Equal(t, 0, w.Count())
}

func TestWriteSummaryYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "summary.yaml")
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	summary := &models.CrawlSummary{
		RunID:          "run-1",
		SpiderName:     "docs",
		CrawlStartTime: start,
		CrawlEndTime:   start.Add(time.Minute),
		ItemsScraped:   3,
		Stats:          map[string]int64{"retry/count": 2, "downloader/request_count": 5},
	}
	require.NoError(t, WriteSummaryYAML(path, summary, testLogger()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got models.CrawlSummary
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, int64(3), got.ItemsScraped)
	assert.Equal(t, int64(2), got.Stats["retry/count"])
	assert.True(t, start.Equal(got.CrawlStartTime))
}
