// Package patch builds and plans differential uploads. A patch payload
// is a bsdiff delta with a 12-byte length header spliced into it, then
// gzip-compressed for the wire.
package patch

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

// MaxImageSize is the per-region budget the device's patch loader can
// handle. Base image, new image, and assembled patch must each fit.
const MaxImageSize = 2 * 1024 * 1024

// headerOffset is where the length header is spliced into the raw diff,
// directly after the diff format's own magic. The loader firmware parses
// this exact layout; do not normalize it.
const (
	headerOffset = 8
	headerSize   = 12
)

// ProgramTooLargeError means an image exceeds the differential budget.
type ProgramTooLargeError struct {
	Size int
}

func (e *ProgramTooLargeError) Error() string {
	return fmt.Sprintf("program exceeded the maximum differential upload size of %d bytes (program was %d)", MaxImageSize, e.Size)
}

func (e *ProgramTooLargeError) Hint() string {
	return "Larger binaries can still be uploaded monolithically with --strategy=monolith."
}

// PatchTooLargeError means the assembled delta exceeds the budget even
// though both images fit.
type PatchTooLargeError struct {
	Size int
}

func (e *PatchTooLargeError) Error() string {
	return fmt.Sprintf("patch exceeded the maximum size of %d bytes (patch was %d)", MaxImageSize, e.Size)
}

func (e *PatchTooLargeError) Hint() string {
	return "Force a full upload with --cold to reset the base image."
}

// Build produces the gzip-compressed patch payload transforming old into
// newImage. The uncompressed layout is the raw bsdiff output with total,
// old, and new lengths (little-endian u32) spliced in at offset 8.
func Build(old, newImage []byte) ([]byte, error) {
	diff, err := bsdiff.Bytes(old, newImage)
	if err != nil {
		return nil, fmt.Errorf("diff failed: %w", err)
	}
	if len(diff) < headerOffset {
		return nil, fmt.Errorf("diff output too short: %d bytes", len(diff))
	}

	total := len(diff) + headerSize
	if total > MaxImageSize {
		return nil, &PatchTooLargeError{Size: total}
	}

	assembled := make([]byte, 0, total)
	assembled = append(assembled, diff[:headerOffset]...)
	assembled = binary.LittleEndian.AppendUint32(assembled, uint32(total))
	assembled = binary.LittleEndian.AppendUint32(assembled, uint32(len(old)))
	assembled = binary.LittleEndian.AppendUint32(assembled, uint32(len(newImage)))
	assembled = append(assembled, diff[headerOffset:]...)

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(assembled); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Header is the spliced length header of an uncompressed patch.
type Header struct {
	Total, Old, New uint32
}

// ReadHeader decompresses a patch payload and returns its header.
func ReadHeader(payload []byte) (*Header, error) {
	raw, err := gunzip(payload)
	if err != nil {
		return nil, err
	}
	return parseHeader(raw)
}

// Apply reverses Build: it reconstructs new from old and a compressed
// patch payload. The device loader does the same thing in firmware; this
// direction exists for verification and tests.
func Apply(old, payload []byte) ([]byte, error) {
	raw, err := gunzip(payload)
	if err != nil {
		return nil, err
	}
	header, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}
	if int(header.Old) != len(old) {
		return nil, fmt.Errorf("patch expects a %d-byte base, have %d bytes", header.Old, len(old))
	}

	// Trim to the declared total, then remove the spliced header to
	// recover the raw diff.
	raw = raw[:header.Total]
	diff := make([]byte, 0, len(raw)-headerSize)
	diff = append(diff, raw[:headerOffset]...)
	diff = append(diff, raw[headerOffset+headerSize:]...)

	out, err := bspatch.Bytes(old, diff)
	if err != nil {
		return nil, fmt.Errorf("patch apply failed: %w", err)
	}
	if len(out) != int(header.New) {
		return nil, fmt.Errorf("patched image is %d bytes, header declares %d", len(out), header.New)
	}
	return out, nil
}

func parseHeader(raw []byte) (*Header, error) {
	if len(raw) < headerOffset+headerSize {
		return nil, fmt.Errorf("patch too short for header: %d bytes", len(raw))
	}
	h := &Header{
		Total: binary.LittleEndian.Uint32(raw[8:12]),
		Old:   binary.LittleEndian.Uint32(raw[12:16]),
		New:   binary.LittleEndian.Uint32(raw[16:20]),
	}
	if int(h.Total) > len(raw) || h.Total < headerOffset+headerSize {
		return nil, fmt.Errorf("patch declares %d bytes, have %d", h.Total, len(raw))
	}
	if h.Total > MaxImageSize || h.Old > MaxImageSize || h.New > MaxImageSize {
		return nil, &PatchTooLargeError{Size: int(h.Total)}
	}
	return h, nil
}

func gunzip(payload []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("patch is not gzip data: %w", err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("patch decompression failed: %w", err)
	}
	return raw, nil
}
