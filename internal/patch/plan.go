package patch

import (
	"go.uber.org/zap"

	"v5deploy/internal/logging"
)

// Kind is the planner's verdict for one differential upload.
type Kind int

const (
	// Cold re-uploads the full image as a fresh base.
	Cold Kind = iota
	// Differential transfers only a patch against the cached base.
	Differential
)

// Plan is the planner's output. Base and Payload are set only for
// Differential.
type Plan struct {
	Kind    Kind
	Base    []byte
	Payload []byte
}

// RemoteCRC reports the CRC of the base file currently on the device, or
// present=false when the catalog has no such entry.
type RemoteCRC func() (crc uint32, present bool, err error)

// Decide picks cold versus differential for newImage. The CRC comparison
// between the local cache and the device's copy guards against patching
// a base the device does not actually hold (a reflashed Brain, or a base
// last uploaded from another machine): the loader cannot validate base
// identity itself, so a wrong base would silently corrupt the program.
//
// Oversized images are a hard error rather than a silent cold fallback,
// since the caller explicitly asked for bandwidth-saving patches.
func Decide(cachePath string, newImage []byte, forceCold bool, remote RemoteCRC, log *zap.SugaredLogger) (*Plan, error) {
	if log == nil {
		log = logging.Nop()
	}
	if len(newImage) > MaxImageSize {
		return nil, &ProgramTooLargeError{Size: len(newImage)}
	}
	if forceCold {
		log.Debugf("cold upload forced")
		return &Plan{Kind: Cold}, nil
	}

	base, cachedCRC, err := ReadCache(cachePath)
	if err != nil {
		log.Debugf("base cache unusable (%v), falling back to cold upload", err)
		return &Plan{Kind: Cold}, nil
	}

	remoteCRC, present, err := remote()
	if err != nil {
		return nil, err
	}
	if !present {
		log.Debugf("device has no base file, falling back to cold upload")
		return &Plan{Kind: Cold}, nil
	}
	if remoteCRC != cachedCRC {
		log.Debugf("base CRC mismatch (device 0x%08X, cache 0x%08X), falling back to cold upload", remoteCRC, cachedCRC)
		return &Plan{Kind: Cold}, nil
	}

	if len(base) > MaxImageSize {
		return nil, &ProgramTooLargeError{Size: len(base)}
	}

	payload, err := Build(base, newImage)
	if err != nil {
		return nil, err
	}
	log.Debugf("patch payload is %d bytes against a %d-byte base", len(payload), len(base))
	return &Plan{Kind: Differential, Base: base, Payload: payload}, nil
}
