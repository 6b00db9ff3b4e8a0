package player

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/annel0/fg-server/internal/protocol"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrCorruptRecord данные игрока не удалось разобрать или они не прошли проверку
var ErrCorruptRecord = errors.New("corrupt player record")

var (
	codecOnce    sync.Once
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
	codecErr     error
)

func initCodec() {
	codecOnce.Do(func() {
		compressor, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decompressor, codecErr = zstd.NewReader(nil)
	})
}

// EncodeRecord сериализует данные игрока: msgpack, сжатый zstd
func EncodeRecord(r *Record) ([]byte, error) {
	initCodec()
	if codecErr != nil {
		return nil, fmt.Errorf("zstd: %w", codecErr)
	}
	raw, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации игрока %d: %w", r.PID, err)
	}
	return compressor.EncodeAll(raw, nil), nil
}

// DecodeRecord разбирает сохранённые данные и проверяет, что они принадлежат pid
func DecodeRecord(data []byte, pid protocol.PID) (*Record, error) {
	initCodec()
	if codecErr != nil {
		return nil, fmt.Errorf("zstd: %w", codecErr)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload for pid %d", ErrCorruptRecord, pid)
	}
	raw, err := decompressor.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompression failed: %v", ErrCorruptRecord, err)
	}
	var r Record
	if err := msgpack.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if r.PID != pid {
		return nil, fmt.Errorf("%w: record belongs to pid %d, expected %d", ErrCorruptRecord, r.PID, pid)
	}
	if r.X < math.MinInt32 || r.X > math.MaxInt32 || r.Y < math.MinInt32 || r.Y > math.MaxInt32 {
		return nil, fmt.Errorf("%w: position out of range", ErrCorruptRecord)
	}
	return &r, nil
}
