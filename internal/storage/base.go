package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/nvandessel/ragp/internal/model"
)

// BaseStore is the persistent, random-access outgoing-synapse table.
// The manifest (base.bin) maps each node to a chunk file and offset;
// chunk files hold fixed-width synapse records for contiguous sender
// ranges. A single writer process is assumed; the engine holds the
// directory lock for the store's lifetime.
type BaseStore struct {
	dir    string
	m      *manifest
	logger *slog.Logger
}

// OpenBase opens or creates the base store in dir. A legacy monolithic
// base.bin (records appended after the node index instead of living in
// chunk files) is rechunked in place before use.
func OpenBase(dir string, logger *slog.Logger) (*BaseStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating storage dir: %v", model.ErrStorageIO, err)
	}

	m, err := readManifest(filepath.Join(dir, baseName))
	if err != nil {
		return nil, err
	}

	s := &BaseStore{dir: dir, m: m, logger: logger}
	if err := s.migrateLegacy(); err != nil {
		return nil, err
	}
	return s, nil
}

// RegistryVersion returns the registry version embedded in the manifest,
// or 0 when the store has never been initialized.
func (s *BaseStore) RegistryVersion() uint16 { return s.m.registryVersion }

// ChunkSize returns the sender span of each chunk file.
func (s *BaseStore) ChunkSize() uint32 { return s.m.chunkSize }

// NodeCount returns the number of node index entries.
func (s *BaseStore) NodeCount() int { return len(s.m.index) }

// ChunkCount returns the number of chunk files on disk.
func (s *BaseStore) ChunkCount() int { return len(listChunkIndexes(s.dir, s.m.chunkSize)) }

// NodeIDs returns all indexed node IDs, ascending.
func (s *BaseStore) NodeIDs() []model.NodeID {
	out := make([]model.NodeID, 0, len(s.m.index))
	for id := range s.m.index {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains reports whether the store indexes the node.
func (s *BaseStore) Contains(id model.NodeID) bool {
	_, ok := s.m.index[id]
	return ok
}

// Meta returns the index entry for id.
func (s *BaseStore) Meta(id model.NodeID) (NodeMeta, bool) {
	meta, ok := s.m.index[id]
	return meta, ok
}

// OutDegree returns the stored out-degree of sender, 0 if unindexed.
func (s *BaseStore) OutDegree(sender model.NodeID) uint32 {
	return s.m.index[sender].OutDegree
}

// ReadOutgoing reads the stored outgoing synapses of sender from its
// chunk file. The caller is responsible for the registry check; an
// unindexed sender reads as empty.
func (s *BaseStore) ReadOutgoing(sender model.NodeID) ([]model.Synapse, error) {
	meta, ok := s.m.index[sender]
	if !ok || meta.OutDegree == 0 || meta.Offset == noSynapses {
		return nil, nil
	}

	path := filepath.Join(s.dir, chunkFileName(meta.ChunkIndex, s.m.chunkSize))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening chunk for sender %d: %v", model.ErrStorageIO, sender, err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(meta.Offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seeking chunk for sender %d: %v", model.ErrStorageIO, sender, err)
	}

	buf := make([]byte, int(meta.OutDegree)*chunkRecSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("%w: reading synapses for sender %d: %v", model.ErrStorageIO, sender, err)
	}

	out := make([]model.Synapse, meta.OutDegree)
	for i := range out {
		rec := buf[i*chunkRecSize:]
		out[i] = model.Synapse{
			Receiver: model.NodeID(binary.LittleEndian.Uint64(rec[0:8])),
			Weight:   math.Float32frombits(binary.LittleEndian.Uint32(rec[8:12])),
			Tick:     binary.LittleEndian.Uint32(rec[12:16]),
		}
	}
	return out, nil
}

// RewriteAll replaces the entire base with the given per-sender synapse
// lists and registry version. Chunks are written to temp files and
// renamed before the manifest, so a crash mid-rewrite leaves the old
// manifest pointing at the old (still present) chunk data. Kinds carry
// over from kinds, defaulting to internal. Synapse lists are stored
// sorted by receiver.
func (s *BaseStore) RewriteAll(data map[model.NodeID][]model.Synapse, kinds map[model.NodeID]model.Kind, registryVersion uint16) error {
	ids := make([]model.NodeID, 0, len(data))
	for id := range data {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	next := &manifest{
		chunkSize:       s.m.chunkSize,
		registryVersion: registryVersion,
		index:           make(map[model.NodeID]NodeMeta, len(ids)),
	}

	chunkBufs := map[uint32][]byte{}
	for _, id := range ids {
		syns := append([]model.Synapse(nil), data[id]...)
		sort.Slice(syns, func(i, j int) bool { return syns[i].Receiver < syns[j].Receiver })

		meta := NodeMeta{Kind: kinds[id], Offset: noSynapses}
		if len(syns) > 0 {
			idx := chunkIndexFor(id, s.m.chunkSize)
			buf := chunkBufs[idx]
			meta.ChunkIndex = idx
			meta.Offset = uint64(len(buf))
			meta.OutDegree = uint32(len(syns))

			var rec [chunkRecSize]byte
			for _, syn := range syns {
				binary.LittleEndian.PutUint64(rec[0:8], uint64(syn.Receiver))
				binary.LittleEndian.PutUint32(rec[8:12], math.Float32bits(syn.Weight))
				binary.LittleEndian.PutUint32(rec[12:16], syn.Tick)
				buf = append(buf, rec[:]...)
			}
			chunkBufs[idx] = buf
		}
		next.index[id] = meta
	}

	// Write chunk data first, then flip the manifest.
	chunkIdxs := make([]uint32, 0, len(chunkBufs))
	for idx := range chunkBufs {
		chunkIdxs = append(chunkIdxs, idx)
	}
	sort.Slice(chunkIdxs, func(i, j int) bool { return chunkIdxs[i] < chunkIdxs[j] })
	for _, idx := range chunkIdxs {
		path := filepath.Join(s.dir, chunkFileName(idx, s.m.chunkSize))
		tmp := path + ".tmp"
		if err := writeFileSync(tmp, chunkBufs[idx]); err != nil {
			return err
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("%w: renaming chunk %d: %v", model.ErrStorageIO, idx, err)
		}
	}

	// Drop chunk files no longer referenced.
	for _, idx := range listChunkIndexes(s.dir, s.m.chunkSize) {
		if _, used := chunkBufs[idx]; !used {
			_ = os.Remove(filepath.Join(s.dir, chunkFileName(idx, s.m.chunkSize)))
		}
	}

	if err := writeManifest(filepath.Join(s.dir, baseName), next); err != nil {
		return err
	}
	s.m = next
	return nil
}

// migrateLegacy detects a monolithic base.bin, where synapse records
// follow the node index in the manifest file itself instead of living in
// chunk files, and rechunks it. Detection: nodes with synapses but no
// chunk files present.
func (s *BaseStore) migrateLegacy() error {
	if len(s.m.index) == 0 || s.ChunkCount() > 0 {
		return nil
	}
	hasSynapses := false
	for _, meta := range s.m.index {
		if meta.OutDegree > 0 && meta.Offset != noSynapses {
			hasSynapses = true
			break
		}
	}
	if !hasSynapses {
		return nil
	}

	f, err := os.Open(filepath.Join(s.dir, baseName))
	if err != nil {
		return fmt.Errorf("%w: opening legacy base: %v", model.ErrStorageIO, err)
	}
	defer f.Close()

	data := make(map[model.NodeID][]model.Synapse, len(s.m.index))
	kinds := make(map[model.NodeID]model.Kind, len(s.m.index))
	for id, meta := range s.m.index {
		kinds[id] = meta.Kind
		if meta.OutDegree == 0 || meta.Offset == noSynapses {
			data[id] = nil
			continue
		}
		if _, err := f.Seek(int64(meta.Offset), io.SeekStart); err != nil {
			return fmt.Errorf("%w: seeking legacy base: %v", model.ErrStorageIO, err)
		}
		buf := make([]byte, int(meta.OutDegree)*chunkRecSize)
		if _, err := io.ReadFull(f, buf); err != nil {
			return fmt.Errorf("%w: legacy base truncated for node %d", model.ErrCorruptRecord, id)
		}
		syns := make([]model.Synapse, meta.OutDegree)
		for i := range syns {
			rec := buf[i*chunkRecSize:]
			syns[i] = model.Synapse{
				Receiver: model.NodeID(binary.LittleEndian.Uint64(rec[0:8])),
				Weight:   math.Float32frombits(binary.LittleEndian.Uint32(rec[8:12])),
				Tick:     binary.LittleEndian.Uint32(rec[12:16]),
			}
		}
		data[id] = syns
	}
	f.Close()

	if err := s.RewriteAll(data, kinds, s.m.registryVersion); err != nil {
		return err
	}
	s.logger.Info("legacy base migrated to chunked layout", "nodes", len(data))
	return nil
}
