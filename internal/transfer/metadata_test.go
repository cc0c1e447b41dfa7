package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionEncode(t *testing.T) {
	v := Version{Major: 1, Minor: 2, Build: 3, Beta: 4}
	assert.Equal(t, uint32(0x01020304), v.encode())
	assert.Equal(t, "1.2.3.4", v.String())
}

func TestDeviceTimestamp(t *testing.T) {
	m := FileMetadata{Timestamp: time.Date(2000, time.January, 1, 0, 1, 0, 0, time.UTC)}
	assert.Equal(t, uint32(60), m.deviceTimestamp())
}

func TestDeviceTimestampClampsBeforeEpoch(t *testing.T) {
	m := FileMetadata{Timestamp: time.Date(1999, time.June, 1, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, uint32(0), m.deviceTimestamp())
}

func TestExtensionField(t *testing.T) {
	m := FileMetadata{Extension: "bin"}
	field, err := m.extensionField()
	require.NoError(t, err)
	assert.Equal(t, [3]byte{'b', 'i', 'n'}, field)

	m.Extension = "toml"
	_, err = m.extensionField()
	assert.ErrorContains(t, err, "exceeds")
}
