package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/nvandessel/ragp/internal/model"
)

// WeightTick is the effective state of one delta-resident edge.
type WeightTick struct {
	Weight float32
	Tick   uint32
}

// DeltaIndex is the in-memory view of the delta log:
// sender -> receiver -> last-write-wins (weight, tick).
type DeltaIndex map[model.NodeID]map[model.NodeID]WeightTick

// Put applies one record with last-write-wins semantics by tick.
func (d DeltaIndex) Put(sender, receiver model.NodeID, weight float32, tick uint32) {
	m, ok := d[sender]
	if !ok {
		m = make(map[model.NodeID]WeightTick)
		d[sender] = m
	}
	if prev, ok := m[receiver]; ok && prev.Tick > tick {
		return
	}
	m[receiver] = WeightTick{Weight: weight, Tick: tick}
}

// Records returns the total entry count across all senders.
func (d DeltaIndex) Records() int {
	n := 0
	for _, m := range d {
		n += len(m)
	}
	return n
}

// DeltaLog is the append-only edge mutation journal. Each record is
// length-prefixed and CRC-protected; a torn tail is tolerated and
// truncated on replay. Appends are buffered by the OS; Sync flushes
// them, and the consolidation boundary always does.
type DeltaLog struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	count  int
	logger *slog.Logger
}

// OpenDelta opens or creates the delta log at dir/delta.bin.
func OpenDelta(dir string, logger *slog.Logger) (*DeltaLog, error) {
	path := filepath.Join(dir, deltaName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening delta log: %v", model.ErrStorageIO, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: seeking delta log: %v", model.ErrStorageIO, err)
	}
	return &DeltaLog{path: path, f: f, logger: logger}, nil
}

// Append writes one edge mutation record. The record is
// (len u32, sender u64, receiver u64, weight f32, tick u32, crc32 u32),
// with the CRC computed over the 24-byte payload.
func (l *DeltaLog) Append(sender, receiver model.NodeID, weight float32, tick uint32) error {
	var rec [4 + deltaBodySize]byte
	binary.LittleEndian.PutUint32(rec[0:4], deltaBodySize)
	binary.LittleEndian.PutUint64(rec[4:12], uint64(sender))
	binary.LittleEndian.PutUint64(rec[12:20], uint64(receiver))
	binary.LittleEndian.PutUint32(rec[20:24], math.Float32bits(weight))
	binary.LittleEndian.PutUint32(rec[24:28], tick)
	sum := crc32.ChecksumIEEE(rec[4:28])
	binary.LittleEndian.PutUint32(rec[28:32], sum)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(rec[:]); err != nil {
		return fmt.Errorf("%w: appending delta record: %v", model.ErrStorageIO, err)
	}
	l.count++
	return nil
}

// Sync flushes buffered appends to disk.
func (l *DeltaLog) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("%w: syncing delta log: %v", model.ErrStorageIO, err)
	}
	return nil
}

// Truncate empties the log. Called after a successful consolidation
// commit; the new base already holds every merged record.
func (l *DeltaLog) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncating delta log: %v", model.ErrStorageIO, err)
	}
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: rewinding delta log: %v", model.ErrStorageIO, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("%w: syncing truncated delta log: %v", model.ErrStorageIO, err)
	}
	l.count = 0
	return nil
}

// Records returns the count of valid records (replayed + appended).
func (l *DeltaLog) Records() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Size returns the current byte length of the log file.
func (l *DeltaLog) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// Close closes the underlying file.
func (l *DeltaLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Replay scans the log from the start, building the delta index with
// last-write-wins by tick. The scan stops at the first record whose
// declared CRC disagrees with the recomputed CRC over its payload, or at
// a short read; the file is truncated there, so a torn append never
// poisons later appends. Returns the index and the highest tick seen + 1
// (the tick the engine should resume from; 0 when the log is empty).
func (l *DeltaLog) Replay() (DeltaIndex, uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("%w: rewinding delta log: %v", model.ErrStorageIO, err)
	}

	index := make(DeltaIndex)
	var nextTick uint32
	var offset int64
	l.count = 0

	var body [deltaBodySize]byte
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(l.f, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			// Torn length prefix: tolerate as a partial tail.
			if err := l.truncateAtLocked(offset); err != nil {
				return nil, 0, err
			}
			break
		}
		if binary.LittleEndian.Uint32(lenBuf[:]) != deltaBodySize {
			l.logWarn(offset)
			if err := l.truncateAtLocked(offset); err != nil {
				return nil, 0, err
			}
			break
		}
		if _, err := io.ReadFull(l.f, body[:]); err != nil {
			if err := l.truncateAtLocked(offset); err != nil {
				return nil, 0, err
			}
			break
		}
		declared := binary.LittleEndian.Uint32(body[24:28])
		if crc32.ChecksumIEEE(body[0:24]) != declared {
			l.logWarn(offset)
			if err := l.truncateAtLocked(offset); err != nil {
				return nil, 0, err
			}
			break
		}

		sender := model.NodeID(binary.LittleEndian.Uint64(body[0:8]))
		receiver := model.NodeID(binary.LittleEndian.Uint64(body[8:16]))
		weight := math.Float32frombits(binary.LittleEndian.Uint32(body[16:20]))
		tick := binary.LittleEndian.Uint32(body[20:24])

		index.Put(sender, receiver, weight, tick)
		if tick+1 > nextTick {
			nextTick = tick + 1
		}
		l.count++
		offset += 4 + deltaBodySize
	}

	if _, err := l.f.Seek(0, io.SeekEnd); err != nil {
		return nil, 0, fmt.Errorf("%w: seeking delta log end: %v", model.ErrStorageIO, err)
	}
	return index, nextTick, nil
}

func (l *DeltaLog) logWarn(offset int64) {
	cerr := &model.CorruptRecordError{Offset: offset}
	l.logger.Warn("delta log truncated at corrupt record", "offset", offset, "err", cerr)
}

func (l *DeltaLog) truncateAtLocked(offset int64) error {
	if err := l.f.Truncate(offset); err != nil {
		l.logger.Error("failed to truncate corrupt delta tail", "offset", offset, "err", err)
		return fmt.Errorf("%w: %v", &model.CorruptRecordError{Offset: offset}, err)
	}
	_ = l.f.Sync()
	return nil
}
