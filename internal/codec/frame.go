package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrFrameTooLarge 는 프레임 길이가 허용치를 넘는 경우(protocol-fatal).
var ErrFrameTooLarge = errors.New("codec: frame too large")

// DefaultMaxFrameSize 는 설정이 0 일 때 쓰는 프레임 상한.
const DefaultMaxFrameSize = 16 << 20

// Framer
// ------------------------------------------------------------
// 연속 스트림에서 레코드 경계를 나눈다.
//
// ReadFrame 반환 규약:
//   - 프레임 경계에서 스트림 종료      → io.EOF
//   - 프레임 중간에서 스트림 종료      → io.ErrUnexpectedEOF
//   - 길이 > max                       → ErrFrameTooLarge
//   - 길이 0 프레임                    → 빈 slice (keep-alive)
type Framer interface {
	ReadFrame(r *bufio.Reader, max int) ([]byte, error)
	WriteFrame(w io.Writer, frame []byte) error
}

// FramerFor 는 코덱 종류별 프레이밍을 반환한다.
//
//	bson/json : 4-byte big-endian 길이 prefix
//	protobuf  : uvarint 길이 prefix
//	xml       : NUL(0x00) 종료
//
// gzip 결과에는 0x00 이 섞이므로 압축 스트림은 종류와 무관하게 길이 prefix 를 쓴다.
func FramerFor(kind Kind, compressed bool) (Framer, error) {
	if _, err := ParseKind(kind.String()); err != nil {
		return nil, err
	}
	if compressed {
		return LengthPrefixFramer{}, nil
	}
	switch kind {
	case KindBinary, KindJSON:
		return LengthPrefixFramer{}, nil
	case KindProtobuf:
		return UvarintFramer{}, nil
	case KindXML:
		return DelimitedFramer{Delim: 0}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
}

func limit(max int) int {
	if max <= 0 {
		return DefaultMaxFrameSize
	}
	return max
}

func tooLarge(n uint64, max int) error {
	return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, max)
}

// readBody 는 길이를 알고 있는 본문을 읽는다. 본문 도중 EOF 는 ErrUnexpectedEOF.
func readBody(r *bufio.Reader, n uint64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// ---------------------------------------------------------------
// 4-byte big-endian length prefix
// ---------------------------------------------------------------

type LengthPrefixFramer struct{}

func (LengthPrefixFramer) ReadFrame(r *bufio.Reader, max int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := uint64(binary.BigEndian.Uint32(hdr[:]))
	if max = limit(max); n > uint64(max) {
		return nil, tooLarge(n, max)
	}
	return readBody(r, n)
}

func (LengthPrefixFramer) WriteFrame(w io.Writer, frame []byte) error {
	buf := make([]byte, 4, 4+len(frame))
	binary.BigEndian.PutUint32(buf, uint32(len(frame)))
	_, err := w.Write(append(buf, frame...))
	return err
}

// ---------------------------------------------------------------
// uvarint length prefix
// ---------------------------------------------------------------

type UvarintFramer struct{}

func (UvarintFramer) ReadFrame(r *bufio.Reader, max int) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if max = limit(max); n > uint64(max) {
		return nil, tooLarge(n, max)
	}
	return readBody(r, n)
}

func (UvarintFramer) WriteFrame(w io.Writer, frame []byte) error {
	buf := protowire.AppendVarint(make([]byte, 0, 10+len(frame)), uint64(len(frame)))
	_, err := w.Write(append(buf, frame...))
	return err
}

// ---------------------------------------------------------------
// delimiter 종료
// ---------------------------------------------------------------

// DelimitedFramer 는 Delim 바이트로 끝나는 프레임. 본문에 Delim 이 나오면 안 된다.
type DelimitedFramer struct {
	Delim byte
}

func (f DelimitedFramer) ReadFrame(r *bufio.Reader, max int) ([]byte, error) {
	max = limit(max)
	var out []byte
	for {
		chunk, err := r.ReadSlice(f.Delim)
		if len(out)+len(chunk) > max+1 {
			return nil, tooLarge(uint64(len(out)+len(chunk)), max)
		}
		out = append(out, chunk...)

		switch {
		case err == nil:
			return out[:len(out)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(out) > 0:
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}

func (f DelimitedFramer) WriteFrame(w io.Writer, frame []byte) error {
	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	_, err := w.Write(append(buf, f.Delim))
	return err
}
