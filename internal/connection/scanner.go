// Package connection provides the two concrete transports for reaching a
// Brain: a tethered serial link and the controller's bluetooth radio.
// Both speak the framed protocol from internal/protocol and differ only
// in how raw bytes move.
package connection

import (
	"bytes"

	"go.uber.org/zap"

	"v5deploy/internal/protocol"
)

// frameScanner reassembles device frames from an unframed byte stream.
// Garbage between frames is discarded by hunting for the device header.
type frameScanner struct {
	buf []byte
	log *zap.SugaredLogger
}

func (s *frameScanner) append(b []byte) {
	s.buf = append(s.buf, b...)
}

// next returns the next complete, well-formed frame, or nil if the buffer
// does not hold one yet. Frames that fail to decode (CRC damage on a noisy
// radio link) are dropped and scanning continues.
func (s *frameScanner) next() *protocol.Reply {
	for {
		i := bytes.Index(s.buf, protocol.DeviceHeader)
		if i < 0 {
			// Keep the final byte in case a header straddles two reads.
			if len(s.buf) > 1 {
				s.buf = s.buf[len(s.buf)-1:]
			}
			return nil
		}
		s.buf = s.buf[i:]

		total := protocol.FrameLength(s.buf)
		if total == 0 || len(s.buf) < total {
			return nil
		}

		frame := s.buf[:total]
		s.buf = s.buf[total:]

		reply, err := protocol.DecodeFrame(frame)
		if err != nil {
			s.log.Debugf("dropping damaged frame: %v", err)
			continue
		}
		return reply
	}
}
