package wujihand

import (
	"encoding/binary"
	"fmt"
	"io"
)

// frame is one reassembled inbound frame. body excludes the header but
// includes the trailing padding; record parsers know where to stop.
type frame struct {
	frameType byte
	body      []byte
}

// frameScanner reassembles frames from a byte stream. Serial transports
// deliver arbitrary chunks, so the scanner buffers until a full padded
// frame is available and resynchronizes on the magic bytes after
// corruption.
type frameScanner struct {
	r   io.Reader
	buf []byte
	n   int
}

func newFrameScanner(r io.Reader) *frameScanner {
	return &frameScanner{r: r, buf: make([]byte, 4096)}
}

// next returns the following complete frame. Read errors from the
// underlying transport pass through unchanged; framing damage returns a
// ProtocolError after discarding up to one byte of input.
func (s *frameScanner) next() (frame, error) {
	for {
		// Resync: drop bytes until a magic pair heads the buffer.
		for s.n >= 2 && !(s.buf[0] == frameMagic0 && s.buf[1] == frameMagic1) {
			s.discard(1)
		}

		if s.n >= headerSize {
			desc := binary.BigEndian.Uint16(s.buf[4:6])
			total := decodeDescription(desc)
			if total > len(s.buf) {
				s.discard(1)
				return frame{}, &ProtocolError{
					Op:     "frame scan",
					Reason: fmt.Sprintf("announced frame length %d exceeds buffer", total),
				}
			}
			if s.n >= total {
				ft := s.buf[6]
				if ft != frameTypeSDO && ft != frameTypePDO {
					s.discard(1)
					return frame{}, &ProtocolError{
						Op:     "frame scan",
						Reason: fmt.Sprintf("invalid header type 0x%02X", ft),
					}
				}
				body := make([]byte, total-headerSize)
				copy(body, s.buf[headerSize:total])
				s.discard(total)
				return frame{frameType: ft, body: body}, nil
			}
		}

		n, err := s.r.Read(s.buf[s.n:])
		s.n += n
		if err != nil && n == 0 {
			return frame{}, err
		}
	}
}

func (s *frameScanner) discard(n int) {
	copy(s.buf, s.buf[n:s.n])
	s.n -= n
}
