package transfer

import (
	"fmt"
	"time"
)

// deviceEpoch is the zero point of on-device timestamps.
var deviceEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Version is the semantic version recorded in a catalog entry.
type Version struct {
	Major, Minor, Build, Beta uint8
}

func (v Version) encode() uint32 {
	return uint32(v.Major)<<24 | uint32(v.Minor)<<16 | uint32(v.Build)<<8 | uint32(v.Beta)
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Beta)
}

// FileMetadata describes one catalog entry. It is rebuilt for every
// upload attempt and never reused.
type FileMetadata struct {
	Extension     string // at most three bytes, e.g. "bin" or "ini"
	ExtensionType byte
	Timestamp     time.Time
	Version       Version
}

// NewFileMetadata builds metadata for an upload happening now, versioned
// 1.0.0.0.
func NewFileMetadata(extension string) FileMetadata {
	return FileMetadata{
		Extension: extension,
		Timestamp: time.Now(),
		Version:   Version{Major: 1},
	}
}

func (m FileMetadata) extensionField() ([3]byte, error) {
	var field [3]byte
	if len(m.Extension) > len(field) {
		return field, fmt.Errorf("extension %q exceeds %d bytes", m.Extension, len(field))
	}
	copy(field[:], m.Extension)
	return field, nil
}

// deviceTimestamp converts to seconds since the device epoch. Times
// before the epoch clamp to zero rather than underflowing.
func (m FileMetadata) deviceTimestamp() uint32 {
	d := m.Timestamp.Sub(deviceEpoch)
	if d < 0 {
		return 0
	}
	return uint32(d / time.Second)
}
