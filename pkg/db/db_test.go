package db

import (
	"path/filepath"
	"testing"

	"freight-chat/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLDSN(t *testing.T) {
	dsn := MySQLDSN(config.DatabaseConfig{
		Host: "db", Port: 3306, Username: "freight", Password: "pw", Database: "chat", Charset: "utf8mb4",
	})
	assert.Contains(t, dsn, "freight:pw@tcp(db:3306)/chat?")
	assert.Contains(t, dsn, "charset=utf8mb4")
	assert.Contains(t, dsn, "parseTime=true")
}

func TestOpenSQLite(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "chat.db"), LogLevel: "silent"}

	conn, err := InitDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseDB() })

	type probe struct {
		ID   int64
		Name string
	}
	require.NoError(t, AutoMigrate(conn, &probe{}))
	require.NoError(t, HealthCheck())
	assert.Same(t, conn, GetDB())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
