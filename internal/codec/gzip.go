package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"logsink/internal/pool"

	"github.com/klauspost/compress/gzip"
)

// compressed 는 레코드 전체를 gzip 으로 감싸는 코덱 래퍼.
type compressed[T any] struct {
	inner Codec[T]
	max   int
}

// Compressed 는 inner 코덱 결과를 gzip 압축/해제한다.
// 해제 결과는 DefaultMaxFrameSize 까지만 허용한다.
func Compressed[T any](inner Codec[T]) Codec[T] {
	return CompressedLimit(inner, 0)
}

// CompressedLimit 는 해제 상한을 max 로 둔 Compressed. 0 이면 DefaultMaxFrameSize.
func CompressedLimit[T any](inner Codec[T], max int) Codec[T] {
	return compressed[T]{inner: inner, max: max}
}

func (c compressed[T]) Encode(v T) ([]byte, error) {
	raw, err := c.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return Gzip(raw)
}

func (c compressed[T]) Decode(data []byte) (T, error) {
	raw, err := Gunzip(data, c.max)
	if err != nil {
		var zero T
		if errors.Is(err, ErrFrameTooLarge) {
			return zero, err
		}
		return zero, fmt.Errorf("%w (gzip): %w", ErrDecode, err)
	}
	return c.inner.Decode(raw)
}

// Gzip
// ------------------------------------------------------------
// 1) 결과 버퍼 / gzip.Writer 를 pool 에서 가져온다.
// 2) Close() 로 footer 까지 flush
// 3) 호출자 소유의 새 slice 로 복사 후 pool 반환
func Gzip(raw []byte) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	gz := pool.GzipPool.Get().(*gzip.Writer)
	defer pool.GzipPool.Put(gz)
	gz.Reset(buf)

	if _, err := gz.Write(raw); err != nil {
		_ = gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return pool.CopyBytes(buf), nil
}

// Gunzip 은 gzip 한 덩어리를 완전히 해제한다.
// 해제 결과가 max 바이트를 넘으면 그 지점에서 멈추고 ErrFrameTooLarge.
// max 가 0 이하이면 DefaultMaxFrameSize.
func Gunzip(data []byte, max int) ([]byte, error) {
	max = limit(max)

	gz := pool.GunzipPool.Get().(*gzip.Reader)
	defer pool.GunzipPool.Put(gz)

	if err := gz.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	defer gz.Close()

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	n, err := io.Copy(buf, io.LimitReader(gz, int64(max)+1))
	if err != nil {
		return nil, err
	}
	if n > int64(max) {
		return nil, fmt.Errorf("%w: decompressed record exceeds %d bytes", ErrFrameTooLarge, max)
	}
	return pool.CopyBytes(buf), nil
}
