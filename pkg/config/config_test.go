package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Search.DefaultSize)
	assert.Equal(t, DocCountSourceOpenSearch, cfg.DocCount.Source)
	assert.Equal(t, time.Minute, cfg.DocCount.TTL)
	assert.Contains(t, cfg.Search.Entities, "dataset")
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  port: 9000
  readTimeout: 5s
search:
  entities: [dataset, chart]
  ranker: identity
opensearch:
  addresses: ["http://search:9200"]
  indexPrefix: prod_
docCount:
  source: postgres
  ttl: 2m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout, "unset values keep defaults")
	assert.Equal(t, []string{"dataset", "chart"}, cfg.Search.Entities)
	assert.Equal(t, "identity", cfg.Search.Ranker)
	assert.Equal(t, []string{"http://search:9200"}, cfg.OpenSearch.Addresses)
	assert.Equal(t, "prod_", cfg.OpenSearch.IndexPrefix)
	assert.Equal(t, DocCountSourcePostgres, cfg.DocCount.Source)
	assert.Equal(t, 2*time.Minute, cfg.DocCount.TTL)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
port = 9100
shutdownTimeout = "3s"

[redis]
addr = "cache:6379"
cacheTTL = "90s"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, 90*time.Second, cfg.Redis.CacheTTL)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := writeConfig(t, "config.json", `{}`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "only .toml and .yml are supported")
}

func TestLoad_ExpandsVariables(t *testing.T) {
	t.Setenv("TEST_OS_HOST", "search.internal")
	t.Setenv("TEST_PG_PASSWORD", "s3cret")
	path := writeConfig(t, "config.yml", `
opensearch:
  addresses: ["http://${TEST_OS_HOST}:9200"]
  username: ${TEST_OS_USER:-admin}
postgres:
  password: $TEST_PG_PASSWORD
  user: $TEST_UNSET_USER
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"http://search.internal:9200"}, cfg.OpenSearch.Addresses)
	assert.Equal(t, "admin", cfg.OpenSearch.Username)
	assert.Equal(t, "s3cret", cfg.Postgres.Password)
	assert.Equal(t, "$TEST_UNSET_USER", cfg.Postgres.User, "bare unset variables are kept verbatim")
}

func TestLoad_UnboundBracedVariable(t *testing.T) {
	path := writeConfig(t, "config.yml", `
redis:
  password: ${TEST_DEFINITELY_UNSET_VAR}
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "TEST_DEFINITELY_UNSET_VAR")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SP_SERVER_PORT", "7000")
	t.Setenv("SP_OPENSEARCH_ADDRESSES", "http://a:9200,http://b:9200")
	t.Setenv("SP_SEARCH_CACHE_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, []string{"http://a:9200", "http://b:9200"}, cfg.OpenSearch.Addresses)
	assert.False(t, cfg.Search.CacheEnabled)
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.DocCount.Source = "elasticsearch"
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Search.MaxSize = 1
	assert.Error(t, cfg.Validate())
}

func TestLoad_SampleConfig(t *testing.T) {
	t.Setenv("OPENSEARCH_HOST", "")
	t.Setenv("POSTGRES_PASSWORD", "")

	cfg, err := Load(filepath.Join("..", "..", "configs", "searcher.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:9200"}, cfg.OpenSearch.Addresses)
	assert.Equal(t, "datahub", cfg.Postgres.Password)
	assert.Equal(t, 5*time.Minute, cfg.OpenSearch.DefaultKeepAlive)
	assert.Len(t, cfg.Search.Entities, 12)
}
