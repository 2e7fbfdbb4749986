package codec

import (
	"logsink/internal/model"

	json "github.com/goccy/go-json"
)

// jsonCodec 은 goccy/go-json 기반 JSON 포맷.
type jsonCodec[T model.Event] struct{}

func (jsonCodec[T]) Encode(w *model.EventWrapper[T]) ([]byte, error) {
	return json.Marshal(w)
}

func (jsonCodec[T]) Decode(data []byte) (*model.EventWrapper[T], error) {
	var w model.EventWrapper[T]
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, decodeErr(KindJSON, err)
	}
	return &w, nil
}
