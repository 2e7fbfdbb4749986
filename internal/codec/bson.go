package codec

import (
	"logsink/internal/model"

	"go.mongodb.org/mongo-driver/bson"
)

// bsonCodec 은 "binary" 포맷. wrapper 구조체를 BSON 문서 하나로 직렬화한다.
// 필드 매핑은 model 의 bson 태그를 그대로 따른다.
type bsonCodec[T model.Event] struct{}

func (bsonCodec[T]) Encode(w *model.EventWrapper[T]) ([]byte, error) {
	return bson.Marshal(w)
}

func (bsonCodec[T]) Decode(data []byte) (*model.EventWrapper[T], error) {
	var w model.EventWrapper[T]
	if err := bson.Unmarshal(data, &w); err != nil {
		return nil, decodeErr(KindBinary, err)
	}
	return &w, nil
}
