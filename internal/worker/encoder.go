package worker

import (
	"bytes"
	"errors"
	"io"

	"logsink/internal/model"
	"logsink/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// EncodeJSONL 은 wrapper 배치를 JSONL(한 줄에 wrapper 하나)로 인코딩한다.
// gz 가 true 면 gzip 으로 감싼다.
//
// 결과는 pool 버퍼를 복사한 새 slice (호출자 소유).
func EncodeJSONL[T model.Event](batch []*model.EventWrapper[T], gz bool) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if !gz {
		if err := writeJSONL(json.NewEncoder(buf), batch); err != nil {
			return nil, err
		}
		return pool.CopyBytes(buf), nil
	}

	zw := pool.GzipPool.Get().(*gzip.Writer)
	defer pool.GzipPool.Put(zw)
	zw.Reset(buf)

	if err := writeJSONL(json.NewEncoder(zw), batch); err != nil {
		_ = zw.Close()
		return nil, err
	}
	// Close() 시 gzip footer 까지 써야 스트림이 완성된다
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return pool.CopyBytes(buf), nil
}

func writeJSONL[T model.Event](enc *json.Encoder, batch []*model.EventWrapper[T]) error {
	for _, w := range batch {
		// Encoder.Encode 가 줄마다 '\n' 을 붙인다
		if err := enc.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

// DecodeJSONL 은 EncodeJSONL 의 역방향 (forwarder 소비 측 / 테스트용).
func DecodeJSONL[T model.Event](data []byte, gz bool) ([]*model.EventWrapper[T], error) {
	if gz {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return readJSONL[T](json.NewDecoder(zr))
	}
	return readJSONL[T](json.NewDecoder(bytes.NewReader(data)))
}

func readJSONL[T model.Event](dec *json.Decoder) ([]*model.EventWrapper[T], error) {
	var out []*model.EventWrapper[T]
	for {
		var w model.EventWrapper[T]
		if err := dec.Decode(&w); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		out = append(out, &w)
	}
}
