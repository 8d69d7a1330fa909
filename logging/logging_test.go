package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	defer log.SetOutput(os.Stderr)
	defer log.SetLevel(log.InfoLevel)

	require.NoError(t, Init("debug", "console"))
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	assert.Error(t, Init("loud", ""))

	path := filepath.Join(t.TempDir(), "kvdns.log")
	require.NoError(t, Init("warn", path))
	log.Warn("rotated")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rotated")
}

func TestFormatterAddsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(NewFormatter())

	ctx := WithRequest(context.Background(), Request{ID: 4242, Client: "192.0.2.1"})
	logger.WithContext(ctx).Info("answered")
	assert.Contains(t, buf.String(), "request_id=4242")
	assert.Contains(t, buf.String(), "client=192.0.2.1")

	buf.Reset()
	logger.Info("plain")
	assert.NotContains(t, buf.String(), "request_id")

	req, ok := RequestFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, uint16(4242), req.ID)
	_, ok = RequestFrom(context.Background())
	assert.False(t, ok)
}
