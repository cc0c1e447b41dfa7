package patch

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
)

// The base cache sits next to the uploaded image and holds the exact
// bytes of the last cold-uploaded base, followed by a 4-byte
// little-endian CRC32 trailer. It is the only durable state this engine
// owns: written only after a successful cold upload, read before every
// patch decision.

const cacheTrailer = 4

// CachePath names the cache file for an image path.
func CachePath(imagePath string) string {
	return imagePath + ".base"
}

// WriteCache persists base bytes with the CRC trailer.
func WriteCache(path string, base []byte) error {
	out := make([]byte, 0, len(base)+cacheTrailer)
	out = append(out, base...)
	out = binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(base))
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write base cache: %w", err)
	}
	return nil
}

// ReadCache loads the cached base and its embedded CRC. Errors here are
// never fatal to a caller: an unusable cache simply forces a cold upload.
func ReadCache(path string) (base []byte, crc uint32, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	if len(raw) < cacheTrailer {
		return nil, 0, fmt.Errorf("base cache %s is truncated: %d bytes", path, len(raw))
	}
	split := len(raw) - cacheTrailer
	return raw[:split], binary.LittleEndian.Uint32(raw[split:]), nil
}
