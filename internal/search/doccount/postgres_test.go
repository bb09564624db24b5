package doccount

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spadhi7/datahub/pkg/config"
	"github.com/spadhi7/datahub/pkg/postgres"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// skipIfNoPostgres returns a single-connection client so that temporary
// tables stay visible to every query.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	port, _ := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, err := postgres.New(ctx, config.PostgresConfig{
		Host:         envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:         port,
		Database:     envOrDefault("TEST_POSTGRES_DB", "datahub_test"),
		User:         envOrDefault("TEST_POSTGRES_USER", "datahub"),
		Password:     envOrDefault("TEST_POSTGRES_PASSWORD", "datahub"),
		SSLMode:      "disable",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewPostgresCounter_RejectsBadTableName(t *testing.T) {
	_, err := NewPostgresCounter(nil, "aspects; DROP TABLE users")
	assert.Error(t, err)

	_, err = NewPostgresCounter(nil, "public.metadata_aspect_v2")
	assert.NoError(t, err)
}

func TestPostgresCounter_Count(t *testing.T) {
	client := skipIfNoPostgres(t)
	ctx := context.Background()

	_, err := client.DB.ExecContext(ctx, `CREATE TEMP TABLE aspect_test (
		urn TEXT NOT NULL, aspect TEXT NOT NULL, version BIGINT NOT NULL)`)
	require.NoError(t, err)
	_, err = client.DB.ExecContext(ctx, `INSERT INTO aspect_test (urn, aspect, version) VALUES
		('urn:li:dataset:(urn:li:dataPlatform:hive,orders,PROD)', 'schemaMetadata', 0),
		('urn:li:dataset:(urn:li:dataPlatform:hive,orders,PROD)', 'ownership', 0),
		('urn:li:dataset:(urn:li:dataPlatform:hive,orders,PROD)', 'ownership', 1),
		('urn:li:dataset:(urn:li:dataPlatform:hive,users,PROD)', 'ownership', 0),
		('urn:li:chart:(looker,1)', 'chartInfo', 0),
		('urn:li:dashboard:(looker,2)', 'dashboardInfo', 3)`)
	require.NoError(t, err)

	counter, err := NewPostgresCounter(client.DB, "aspect_test")
	require.NoError(t, err)
	counts, err := counter.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"dataset": 2, "chart": 1}, counts)
}
