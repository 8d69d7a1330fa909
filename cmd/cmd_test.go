package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scott/kvdns/config"
	"github.com/scott/kvdns/storage"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestKeysCommand(t *testing.T) {
	out := execute(t, "keys", "WWW.Example.com.")
	assert.Equal(t, "www.example.com\n*.example.com\n*.com\n*\n", out)
}

func TestVersionCommand(t *testing.T) {
	assert.Equal(t, Version+"\n", execute(t, "version"))
}

func TestOpenBackend(t *testing.T) {
	cfg := config.DefaultConfig().Store
	cfg.Backend = "bolt"
	cfg.Bolt.Path = filepath.Join(t.TempDir(), "records.db")
	b, err := openBackend(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	cfg.Backend = "etcd"
	_, err = openBackend(context.Background(), cfg)
	assert.Error(t, err)
}

func TestImportCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "records.db")
	yamlPath := filepath.Join(dir, "records.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("records:\n  www.example.org:\n    A:\n      - {ttl: 300, data: 192.0.2.20}\n"), 0o644))

	execute(t, "import", "--backend", "bolt", "--bolt-path", dbPath, yamlPath)

	b, err := storage.OpenBolt(dbPath)
	require.NoError(t, err)
	defer b.Close()
	store, err := storage.New(storage.Options{Backend: b})
	require.NoError(t, err)
	recs, err := store.GetRecords(context.Background(), "www.example.org", storage.TypeA)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "192.0.2.20", recs[0].Data.Value())
}
