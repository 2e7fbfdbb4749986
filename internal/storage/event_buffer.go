// internal/storage/event_buffer.go
package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"logsink/internal/codec"
	"logsink/internal/model"
)

// Magic 는 이벤트 파일의 magic ("LSK1").
const Magic uint32 = 0x4C534B31

// metadata key
const (
	MetaCodec      = "codec"
	MetaCompressed = "compressed"
	MetaContent    = "content"
)

// 파일 확장자
const (
	DataExt  = ".data"
	IndexExt = ".index"
)

// Paths 는 한 버퍼를 구성하는 파일 쌍.
type Paths struct {
	Data  string
	Index string
}

// PathsFor 는 dir/base.data, dir/base.index 를 만든다.
func PathsFor(dir, base string) Paths {
	return Paths{
		Data:  filepath.Join(dir, base+DataExt),
		Index: filepath.Join(dir, base+IndexExt),
	}
}

// Active 는 이 쌍의 .active marker 경로.
func (p Paths) Active() string { return ActivePath(p.Data) }

// EventBufferOptions 는 새 파일을 만들 때만 쓰인다.
// 기존 파일은 헤더 metadata 가 우선한다.
type EventBufferOptions struct {
	Codec      codec.Kind
	Compressed bool
	Sync       bool
}

// EventBuffer
// ------------------------------------------------------------
// IndexedFile 위에 코덱을 얹은 typed 버퍼.
// 코덱은 Open 시점에 헤더 metadata 로 한 번만 결정된다.
type EventBuffer[T model.Event] struct {
	paths      Paths
	file       *IndexedFile
	codec      codec.Codec[*model.EventWrapper[T]]
	kind       codec.Kind
	compressed bool
}

func OpenEventBuffer[T model.Event](paths Paths, opts EventBufferOptions) (*EventBuffer[T], error) {
	content := codec.ContentOf[T]()
	meta := map[string]string{
		MetaCodec:      opts.Codec.String(),
		MetaCompressed: strconv.FormatBool(opts.Compressed),
		MetaContent:    content,
	}

	file, err := Open(paths.Data, paths.Index, Magic, meta, WithSync(opts.Sync))
	if err != nil {
		return nil, err
	}

	b, err := newEventBuffer[T](paths, file, content)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return b, nil
}

func newEventBuffer[T model.Event](paths Paths, file *IndexedFile, content string) (*EventBuffer[T], error) {
	stored := file.Metadata()

	if got := stored[MetaContent]; got != content {
		return nil, fmt.Errorf("%w: content %q, want %q", ErrFormat, got, content)
	}
	kind, err := codec.ParseKind(stored[MetaCodec])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	compressed, err := strconv.ParseBool(stored[MetaCompressed])
	if err != nil {
		return nil, fmt.Errorf("%w: compressed flag %q", ErrFormat, stored[MetaCompressed])
	}

	c, err := codec.New[T](kind, compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return &EventBuffer[T]{
		paths:      paths,
		file:       file,
		codec:      c,
		kind:       kind,
		compressed: compressed,
	}, nil
}

// Add 는 wrapper 하나를 인코딩해서 append 하고 그 인덱스를 돌려준다.
func (b *EventBuffer[T]) Add(w *model.EventWrapper[T]) (int64, error) {
	if w == nil {
		return 0, errors.New("storage: nil wrapper")
	}
	raw, err := b.codec.Encode(w)
	if err != nil {
		return 0, fmt.Errorf("storage: encode %s: %w", w.ID.Source, err)
	}
	return b.file.Append(raw)
}

// AddAll 은 순서대로 append 하고 첫 오류에서 멈춘다.
func (b *EventBuffer[T]) AddAll(ws []*model.EventWrapper[T]) error {
	for _, w := range ws {
		if _, err := b.Add(w); err != nil {
			return err
		}
	}
	return nil
}

// Get 은 범위 밖이면 (nil, nil), 디코딩 실패는 ErrCorrupted 로 감싼다.
func (b *EventBuffer[T]) Get(index int64) (*model.EventWrapper[T], error) {
	raw, err := b.file.Get(index)
	if err != nil || raw == nil {
		return nil, err
	}
	w, err := b.codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: record %d: %w", ErrCorrupted, index, err)
	}
	return w, nil
}

func (b *EventBuffer[T]) Size() int64 { return b.file.Size() }

func (b *EventBuffer[T]) Reset() error { return b.file.Reset() }

func (b *EventBuffer[T]) Close() error { return b.file.Close() }

func (b *EventBuffer[T]) Paths() Paths { return b.paths }

func (b *EventBuffer[T]) Codec() codec.Kind { return b.kind }

func (b *EventBuffer[T]) Compressed() bool { return b.compressed }

func (b *EventBuffer[T]) Recovery() Recovery { return b.file.Recovery() }
