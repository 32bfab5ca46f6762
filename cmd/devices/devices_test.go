package devices

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/proctor-go/internal/device"
)

func TestWriteTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeTable(&buf, []device.Info{
		{ID: "usb:1-2", DisplayName: "SanDisk Cruzer Blade", Source: device.SourceUSB, Classification: device.ClassStorage},
	}))

	out := buf.String()
	assert.Contains(t, out, "SOURCE")
	assert.Contains(t, out, "SanDisk Cruzer Blade")
	assert.Contains(t, out, "storage")
}

func TestWriteJSONEmptyInventory(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, nil))

	var got []device.Info
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Empty(t, got)
	assert.Equal(t, "[]\n", buf.String())
}
