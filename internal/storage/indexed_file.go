// internal/storage/indexed_file.go
package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	json "github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"
)

var (
	// ErrFormat 는 magic 불일치 / 헤더 손상 / content 종류 불일치.
	ErrFormat = errors.New("storage: invalid file format")

	// ErrCorrupted 는 범위 안 인덱스를 읽지 못한 경우, 또는 marker 없이 파일 쌍이 어긋난 경우.
	ErrCorrupted = errors.New("storage: corrupted")

	// ErrFailed 는 이전 append 가 I/O 오류로 실패한 뒤의 모든 append.
	ErrFailed = errors.New("storage: buffer failed")

	// ErrClosed 는 Close 이후의 호출.
	ErrClosed = errors.New("storage: closed")
)

const (
	// DescriptorSize 는 index 파일 한 항목 (offset uint64 + length uint32).
	DescriptorSize = 12

	headerFixed = 8 // magic(4) + metadata length(4)
)

// Recovery 는 Open 시 수행한 복구 결과.
type Recovery struct {
	Repaired           bool
	DroppedDescriptors int64
	DroppedBytes       int64
}

type options struct {
	sync bool
}

type Option func(*options)

// WithSync 는 append 마다 data/index 를 fsync 한다.
func WithSync(on bool) Option {
	return func(o *options) { o.sync = on }
}

// IndexedFile
// ------------------------------------------------------------
// append-only data 파일 + 고정폭 descriptor index 파일 한 쌍.
//
// data  : [magic BE u32][metaLen BE u32][metadata JSON][record...]
// index : [offset BE u64][length BE u32] * N
//
// 동시성:
//   - writer 는 하나(wmu 가 실수로 들어온 동시 writer 도 직렬화)
//   - reader 는 ReadAt 만 사용하므로 append 와 동시에 읽을 수 있다
//   - size 는 descriptor 를 다 쓴 뒤에 atomic store → reader 는 완성된 레코드만 본다
//   - Close/Reset 만 lmu 를 배타적으로 잡는다
type IndexedFile struct {
	dataPath   string
	indexPath  string
	activePath string

	data  *os.File
	index *os.File

	headerLen int64
	metadata  map[string]string
	opts      options
	recovery  Recovery

	wmu     sync.Mutex
	lmu     sync.RWMutex
	dataEnd int64 // wmu 보호

	size   atomic.Int64
	failed atomic.Bool
	closed bool // lmu 보호
}

// ActivePath 는 data 경로의 확장자를 ".active" 로 바꾼 경로.
func ActivePath(dataPath string) string {
	return strings.TrimSuffix(dataPath, filepath.Ext(dataPath)) + ".active"
}

// Open
// ------------------------------------------------------------
// 1) .active marker 가 이미 있었는지 기록 (있었다 = 지난번 비정상 종료)
// 2) data 파일이 비어 있으면 헤더를 새로 쓰고, 아니면 magic/metadata 를 읽는다
// 3) index ↔ data 정합성 검사
//   - 정상        → 그대로 사용
//   - marker 있음 → 유효한 prefix 까지 잘라서 복구
//   - marker 없음 → ErrCorrupted
//
// 4) .active marker 생성
func Open(dataPath, indexPath string, magic uint32, metadata map[string]string, opts ...Option) (*IndexedFile, error) {
	f := &IndexedFile{
		dataPath:   dataPath,
		indexPath:  indexPath,
		activePath: ActivePath(dataPath),
	}
	for _, o := range opts {
		o(&f.opts)
	}

	_, statErr := os.Stat(f.activePath)
	uncleanShutdown := statErr == nil

	var err error
	if f.data, err = os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644); err != nil {
		return nil, err
	}
	if f.index, err = os.OpenFile(indexPath, os.O_RDWR|os.O_CREATE, 0o644); err != nil {
		_ = f.data.Close()
		return nil, err
	}

	if err := f.init(magic, metadata, uncleanShutdown); err != nil {
		_ = f.data.Close()
		_ = f.index.Close()
		return nil, err
	}

	if err := os.WriteFile(f.activePath, nil, 0o644); err != nil {
		_ = f.data.Close()
		_ = f.index.Close()
		return nil, err
	}

	if f.recovery.Repaired {
		zlog.Warn().
			Str("data", dataPath).
			Int64("dropped_descriptors", f.recovery.DroppedDescriptors).
			Int64("dropped_bytes", f.recovery.DroppedBytes).
			Msg("indexed file repaired after unclean shutdown")
	}
	return f, nil
}

func (f *IndexedFile) init(magic uint32, metadata map[string]string, uncleanShutdown bool) error {
	info, err := f.data.Stat()
	if err != nil {
		return err
	}
	dataLen := info.Size()

	if dataLen == 0 {
		if dataLen, err = f.writeHeader(magic, metadata); err != nil {
			return err
		}
	} else if err := f.readHeader(magic, dataLen); err != nil {
		return err
	}

	return f.validate(dataLen, uncleanShutdown)
}

func (f *IndexedFile) writeHeader(magic uint32, metadata map[string]string) (int64, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return 0, err
	}

	hdr := make([]byte, headerFixed, headerFixed+len(meta))
	binary.BigEndian.PutUint32(hdr[0:4], magic)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(meta)))
	hdr = append(hdr, meta...)

	if _, err := f.data.WriteAt(hdr, 0); err != nil {
		return 0, err
	}
	if err := f.data.Sync(); err != nil {
		return 0, err
	}

	f.headerLen = int64(len(hdr))
	f.metadata = maps.Clone(metadata)
	return f.headerLen, nil
}

func (f *IndexedFile) readHeader(magic uint32, dataLen int64) error {
	var fixed [headerFixed]byte
	if _, err := f.data.ReadAt(fixed[:], 0); err != nil {
		return fmt.Errorf("%w: read header: %v", ErrFormat, err)
	}
	if got := binary.BigEndian.Uint32(fixed[0:4]); got != magic {
		return fmt.Errorf("%w: magic %#08x, want %#08x", ErrFormat, got, magic)
	}

	metaLen := int64(binary.BigEndian.Uint32(fixed[4:8]))
	if headerFixed+metaLen > dataLen {
		return fmt.Errorf("%w: metadata length %d exceeds file", ErrFormat, metaLen)
	}
	meta := make([]byte, metaLen)
	if _, err := f.data.ReadAt(meta, headerFixed); err != nil {
		return fmt.Errorf("%w: read metadata: %v", ErrFormat, err)
	}
	if err := json.Unmarshal(meta, &f.metadata); err != nil {
		return fmt.Errorf("%w: metadata: %v", ErrFormat, err)
	}
	if f.metadata == nil {
		f.metadata = map[string]string{}
	}

	f.headerLen = headerFixed + metaLen
	return nil
}

// validate 는 descriptor 를 앞에서부터 훑어 "연속이고 data 범위 안" 인 prefix 를 찾는다.
func (f *IndexedFile) validate(dataLen int64, uncleanShutdown bool) error {
	info, err := f.index.Stat()
	if err != nil {
		return err
	}
	indexLen := info.Size()
	total := indexLen / DescriptorSize

	valid, end, err := f.scanDescriptors(total, dataLen)
	if err != nil {
		return err
	}

	consistent := indexLen%DescriptorSize == 0 && valid == total && end == dataLen
	if !consistent {
		if !uncleanShutdown {
			return fmt.Errorf("%w: index/data mismatch (descriptors %d/%d, data end %d/%d)",
				ErrCorrupted, valid, total, end, dataLen)
		}
		if err := f.index.Truncate(valid * DescriptorSize); err != nil {
			return err
		}
		if err := f.data.Truncate(end); err != nil {
			return err
		}
		f.recovery = Recovery{
			Repaired:           true,
			DroppedDescriptors: total - valid,
			DroppedBytes:       dataLen - end,
		}
	}

	f.dataEnd = end
	f.size.Store(valid)
	return nil
}

func (f *IndexedFile) scanDescriptors(total, dataLen int64) (valid, end int64, err error) {
	end = f.headerLen
	r := bufio.NewReaderSize(io.NewSectionReader(f.index, 0, total*DescriptorSize), 64*1024)

	var desc [DescriptorSize]byte
	for valid < total {
		if _, err := io.ReadFull(r, desc[:]); err != nil {
			return 0, 0, err
		}
		off, n := decodeDescriptor(desc[:])
		if int64(off) != end || end+int64(n) > dataLen {
			break
		}
		end += int64(n)
		valid++
	}
	return valid, end, nil
}

func encodeDescriptor(dst []byte, off uint64, n uint32) {
	binary.BigEndian.PutUint64(dst[0:8], off)
	binary.BigEndian.PutUint32(dst[8:12], n)
}

func decodeDescriptor(src []byte) (uint64, uint32) {
	return binary.BigEndian.Uint64(src[0:8]), binary.BigEndian.Uint32(src[8:12])
}

// Append 는 레코드를 data 끝에 쓰고, descriptor 를 쓴 뒤 size 를 공개한다.
// I/O 오류가 한 번이라도 나면 이후 append 는 모두 ErrFailed.
func (f *IndexedFile) Append(record []byte) (int64, error) {
	if uint64(len(record)) > math.MaxUint32 {
		return 0, fmt.Errorf("storage: record too large (%d bytes)", len(record))
	}

	f.wmu.Lock()
	defer f.wmu.Unlock()
	f.lmu.RLock()
	defer f.lmu.RUnlock()

	if f.closed {
		return 0, ErrClosed
	}
	if f.failed.Load() {
		return 0, ErrFailed
	}

	idx := f.size.Load()
	if err := f.write(record, idx); err != nil {
		f.rollback(idx)
		f.failed.Store(true)
		return 0, fmt.Errorf("%w: append %d: %w", ErrFailed, idx, err)
	}

	f.dataEnd += int64(len(record))
	f.size.Store(idx + 1)
	return idx, nil
}

// rollback 은 실패한 append 가 남긴 data/index 꼬리를 잘라낸다 (best-effort).
// 잘라내지 못해도 failed 상태의 버퍼는 Close 에서 .active 를 남기므로 다음 Open 이 복구한다.
func (f *IndexedFile) rollback(idx int64) {
	if err := f.data.Truncate(f.dataEnd); err != nil {
		zlog.Warn().Err(err).Str("data", f.dataPath).Msg("rollback of failed append left trailing data")
	}
	if err := f.index.Truncate(idx * DescriptorSize); err != nil {
		zlog.Warn().Err(err).Str("index", f.indexPath).Msg("rollback of failed append left trailing descriptor")
	}
}

func (f *IndexedFile) write(record []byte, idx int64) error {
	if _, err := f.data.WriteAt(record, f.dataEnd); err != nil {
		return err
	}
	if f.opts.sync {
		if err := f.data.Sync(); err != nil {
			return err
		}
	}

	var desc [DescriptorSize]byte
	encodeDescriptor(desc[:], uint64(f.dataEnd), uint32(len(record)))
	if _, err := f.index.WriteAt(desc[:], idx*DescriptorSize); err != nil {
		return err
	}
	if f.opts.sync {
		return f.index.Sync()
	}
	return nil
}

// Get 은 index 번째 레코드를 돌려준다.
// 범위 밖이면 (nil, nil), 범위 안에서 읽기 실패면 ErrCorrupted.
func (f *IndexedFile) Get(index int64) ([]byte, error) {
	if index < 0 || index >= f.size.Load() {
		return nil, nil
	}

	f.lmu.RLock()
	defer f.lmu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}
	// Reset 과 경합했을 수 있으므로 lock 안에서 다시 확인
	if index >= f.size.Load() {
		return nil, nil
	}

	var desc [DescriptorSize]byte
	if _, err := f.index.ReadAt(desc[:], index*DescriptorSize); err != nil {
		return nil, fmt.Errorf("%w: descriptor %d: %v", ErrCorrupted, index, err)
	}
	off, n := decodeDescriptor(desc[:])
	if int64(off) < f.headerLen {
		return nil, fmt.Errorf("%w: descriptor %d points into header (offset %d)", ErrCorrupted, index, off)
	}

	buf := make([]byte, n)
	if _, err := f.data.ReadAt(buf, int64(off)); err != nil {
		return nil, fmt.Errorf("%w: record %d: %v", ErrCorrupted, index, err)
	}
	return buf, nil
}

// Size 는 완전히 append 된 레코드 수.
func (f *IndexedFile) Size() int64 {
	return f.size.Load()
}

// Reset 은 두 파일을 헤더만 남기고 비운다.
func (f *IndexedFile) Reset() error {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	f.lmu.Lock()
	defer f.lmu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := f.index.Truncate(0); err != nil {
		f.failed.Store(true)
		return err
	}
	if err := f.data.Truncate(f.headerLen); err != nil {
		f.failed.Store(true)
		return err
	}
	f.dataEnd = f.headerLen
	f.size.Store(0)
	f.failed.Store(false)
	return nil
}

// Close 는 flush 후 두 파일을 닫고 marker 를 지운다. 두 번째 호출부터는 no-op.
func (f *IndexedFile) Close() error {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	f.lmu.Lock()
	defer f.lmu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	if err := f.data.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := f.index.Sync(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, f.data.Close(), f.index.Close())

	if err := errors.Join(errs...); err != nil {
		// 정리가 깨끗하지 않으면 marker 를 남겨 다음 Open 에서 복구하게 둔다
		return err
	}
	if f.failed.Load() {
		// 쓰기 실패를 겪은 쌍은 일관성을 보장할 수 없다
		return nil
	}
	_ = os.Remove(f.activePath)
	return nil
}

// Metadata 는 파일 헤더에 저장된 metadata 사본.
func (f *IndexedFile) Metadata() map[string]string {
	return maps.Clone(f.metadata)
}

func (f *IndexedFile) Recovery() Recovery {
	return f.recovery
}

func (f *IndexedFile) DataPath() string  { return f.dataPath }
func (f *IndexedFile) IndexPath() string { return f.indexPath }
