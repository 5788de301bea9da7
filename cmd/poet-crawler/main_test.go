package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/poet-crawler/pkg/fixture"
	"github.com/Sriram-PR/poet-crawler/pkg/pages"
)

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// execute runs the CLI with args and returns what it wrote to stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--loglevel", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func htmlServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

const titleHTML = `<html><head><title>Fixture Page</title></head><body><h1>Intro</h1><p>Text</p></body></html>`

func TestLoadConfig(t *testing.T) {
	t.Run("valid file gets defaults", func(t *testing.T) {
		path := writeConfig(t, `
num_workers: 3
spiders:
  docs:
    start_urls: ["http://example.com"]
    page_object: title
`)
		cfg, err := loadConfig(path, discardLogger())
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.NumWorkers)
		assert.Contains(t, cfg.Spiders, "docs")
		require.NotNil(t, cfg.PageRetryTimes)
		assert.Equal(t, 2, *cfg.PageRetryTimes)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadConfig("/nonexistent/path/config.yaml", discardLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read config")
	})

	t.Run("invalid YAML", func(t *testing.T) {
		_, err := loadConfig(writeConfig(t, "{{invalid yaml"), discardLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config")
	})
}

func TestNewLogger(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, newLogger("debug", io.Discard).GetLevel())
	assert.Equal(t, logrus.InfoLevel, newLogger("bogus", io.Discard).GetLevel())
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "poet-crawler "+version+"\n", out)
}

func TestValidateCmd(t *testing.T) {
	path := writeConfig(t, `
spiders:
  docs:
    start_urls: ["http://example.com"]
    page_object: title
  broken:
    start_urls: ["http://example.com"]
    page_object: nope
`)

	out, err := execute(t, "--config", path, "validate", "docs")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: Spider 'docs' configuration is valid")

	out, err = execute(t, "--config", path, "validate")
	require.ErrorIs(t, err, errInvalidConfig)
	assert.Contains(t, out, "ERROR: [broken] unknown page object 'nope'")
	assert.Contains(t, out, "OK: Spider 'docs'")

	_, err = execute(t, "--config", path, "validate", "missing")
	assert.Error(t, err)
}

func TestListSpidersCmd(t *testing.T) {
	path := writeConfig(t, `
spiders:
  docs:
    start_urls: ["http://example.com/a", "http://example.com/b"]
    page_object: markdown
`)
	out, err := execute(t, "--config", path, "list-spiders")
	require.NoError(t, err)
	assert.Contains(t, out, "docs")
	assert.Contains(t, out, "page_object=markdown start_urls=2")
	for _, name := range pages.DefaultRegistry(nil).Names() {
		assert.Contains(t, out, "  "+name+"\n")
	}
}

func TestSaveFixtureCmd(t *testing.T) {
	server := htmlServer(t, titleHTML)
	fixturesDir := filepath.Join(t.TempDir(), "fixtures")
	cfgPath := writeConfig(t, "num_workers: 1\n")

	before := time.Now().UTC()
	out, err := execute(t, "--config", cfgPath, "savefixture", "--fixtures-dir", fixturesDir, "title", server.URL+"/page")
	require.NoError(t, err)
	assert.Contains(t, out, "The test fixture has been written to")

	dirs, err := filepath.Glob(filepath.Join(fixturesDir, "*", "test-1"))
	require.NoError(t, err)
	require.Len(t, dirs, 1)

	fx, err := fixture.Load(dirs[0])
	require.NoError(t, err)
	assert.Len(t, fx.Inputs, 2, "HTML document and fetch time")
	assert.Equal(t, server.URL+"/page", fx.Meta.URL)

	frozen, err := time.Parse(time.RFC3339Nano, fx.Meta.FrozenTime)
	require.NoError(t, err)
	assert.False(t, frozen.Before(before.Add(-time.Second)))

	var item pages.TitleItem
	require.NoError(t, json.Unmarshal(fx.Output, &item))
	assert.Equal(t, "Fixture Page", item.Title)
	assert.Equal(t, []string{"Intro"}, item.Headings)
	assert.Equal(t, frozen.Format("2006-01-02T15:04:05Z07:00"), item.FetchedAt)

	_, err = execute(t, "--config", cfgPath, "savefixture", "--fixtures-dir", fixturesDir, "title", server.URL+"/page")
	require.NoError(t, err)
	dirs, err = filepath.Glob(filepath.Join(fixturesDir, "*", "test-2"))
	require.NoError(t, err)
	assert.Len(t, dirs, 1)
}

func TestSaveFixtureCmd_Errors(t *testing.T) {
	cfgPath := writeConfig(t, "num_workers: 1\n")
	fixturesDir := t.TempDir()

	t.Run("wrong argument count", func(t *testing.T) {
		_, err := execute(t, "--config", cfgPath, "savefixture", "title")
		assert.Error(t, err)
	})

	t.Run("unknown page object", func(t *testing.T) {
		_, err := execute(t, "--config", cfgPath, "savefixture", "--fixtures-dir", fixturesDir, "nope", "http://example.com")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown page object 'nope'")
	})

	t.Run("no item produced", func(t *testing.T) {
		server := htmlServer(t, `<html><body><p>no title here</p></body></html>`)
		_, err := execute(t, "--config", cfgPath, "savefixture", "--fixtures-dir", fixturesDir, "title", server.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "produced no item")
	})

	t.Run("explicit missing config", func(t *testing.T) {
		_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "savefixture", "title", "http://example.com")
		assert.Error(t, err)
	})
}

func TestCrawlCmd(t *testing.T) {
	server := htmlServer(t, `<html><body><h1>Hello</h1><p>World of markdown.</p></body></html>`)
	dir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(`
num_workers: 2
state_dir: %q
spiders:
  docs:
    start_urls: [%q, %q]
    page_object: markdown
`, filepath.Join(dir, "state"), server.URL+"/a", server.URL+"/b"))
	itemsPath := filepath.Join(dir, "items.jsonl")
	summaryPath := filepath.Join(dir, "summary.yaml")
	visitedPath := filepath.Join(dir, "visited.txt")

	out, err := execute(t, "--config", cfgPath, "crawl", "docs",
		"--items", itemsPath, "--summary", summaryPath, "--write-visited-log", visitedPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Final stats:")
	assert.Contains(t, out, "downloader/request_count")
	assert.Contains(t, out, "item_scraped_count")

	items, err := os.ReadFile(itemsPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(items)), "\n")
	require.Len(t, lines, 2)
	var item pages.MarkdownItem
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &item))
	assert.Contains(t, item.Markdown, "Hello")

	summary, err := os.ReadFile(summaryPath)
	require.NoError(t, err)
	assert.Contains(t, string(summary), "spider_name: docs")
	assert.Contains(t, string(summary), "items_scraped: 2")

	visited, err := os.ReadFile(visitedPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(visited), "success"))
}

func TestCrawlCmd_UnknownSpider(t *testing.T) {
	path := writeConfig(t, `
spiders:
  docs:
    start_urls: ["http://example.com"]
    page_object: title
`)
	_, err := execute(t, "--config", path, "crawl", "other")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spider 'other' not found")
}
