package main

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupKey(t *testing.T) {
	now := time.Date(2025, 3, 1, 2, 0, 5, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "backups/backup-2025-03-01T01-00-05Z.sql.gz", backupKey(now))
	assert.True(t, strings.HasPrefix(backupKey(now), backupPrefix))
}

func TestCompressRoundTrip(t *testing.T) {
	dump := strings.Repeat("INSERT INTO trials VALUES ('NCT01234567');\n", 50)
	data, err := compress(strings.NewReader(dump))
	require.NoError(t, err)
	assert.Less(t, len(data), len(dump))

	zr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, dump, string(out))
}
