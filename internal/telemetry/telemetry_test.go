package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDBCreatesTables(t *testing.T) {
	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"sessions", "messages", "stories"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestInitDBIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := InitDB(path)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO sessions (id, backend) VALUES ('s1', 'ollama')")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = InitDB(path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestInitLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := InitLogger(dir, true)
	require.NoError(t, err)

	logger.Debug("debug line", "k", "v")

	data, err := os.ReadFile(filepath.Join(dir, "elicitchat.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"debug line"`)
	assert.Contains(t, string(data), `"service":"elicitchat"`)
}

func TestInitTelemetry(t *testing.T) {
	dir := t.TempDir()
	tracer, meter, cleanup, err := InitTelemetry(context.Background(), dir)
	require.NoError(t, err)
	require.NotNil(t, tracer)
	require.NotNil(t, meter)

	_, span := tracer.Start(context.Background(), "test")
	span.End()
	cleanup()

	_, err = os.Stat(filepath.Join(dir, "elicitchat_traces.log"))
	assert.NoError(t, err)
}
