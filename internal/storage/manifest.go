package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/nvandessel/ragp/internal/model"
)

// NodeMeta is one node index entry of the manifest.
type NodeMeta struct {
	ChunkIndex uint32
	Offset     uint64 // byte offset inside the chunk file; noSynapses if empty
	OutDegree  uint32
	Kind       model.Kind
}

// manifest is the decoded content of base.bin.
type manifest struct {
	chunkSize       uint32
	registryVersion uint16
	index           map[model.NodeID]NodeMeta
}

// readManifest loads and decodes base.bin. A missing file yields an empty
// manifest; a bad magic or version yields an error (the file is not ours,
// or a layout we cannot read).
func readManifest(path string) (*manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &manifest{chunkSize: DefaultChunkSize, index: map[model.NodeID]NodeMeta{}}, nil
		}
		return nil, fmt.Errorf("%w: opening manifest: %v", model.ErrStorageIO, err)
	}
	defer f.Close()

	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return nil, fmt.Errorf("%w: manifest header truncated", model.ErrCorruptRecord)
	}
	if !bytes.Equal(header[0:4], Magic[:]) {
		return nil, fmt.Errorf("%w: bad manifest magic %q", model.ErrCorruptRecord, header[0:4])
	}
	version := binary.LittleEndian.Uint16(header[4:6])
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", model.ErrCorruptRecord, version)
	}

	m := &manifest{
		chunkSize:       binary.LittleEndian.Uint32(header[6:10]),
		registryVersion: binary.LittleEndian.Uint16(header[14:16]),
		index:           map[model.NodeID]NodeMeta{},
	}
	if m.chunkSize == 0 {
		m.chunkSize = DefaultChunkSize
	}

	nodeCount := binary.LittleEndian.Uint32(header[10:14])
	var rec [indexEntrySize]byte
	for i := uint32(0); i < nodeCount; i++ {
		if _, err := io.ReadFull(f, rec[:]); err != nil {
			return nil, fmt.Errorf("%w: node index truncated at entry %d", model.ErrCorruptRecord, i)
		}
		id := model.NodeID(binary.LittleEndian.Uint64(rec[0:8]))
		m.index[id] = NodeMeta{
			ChunkIndex: binary.LittleEndian.Uint32(rec[8:12]),
			Offset:     binary.LittleEndian.Uint64(rec[12:20]),
			OutDegree:  binary.LittleEndian.Uint32(rec[20:24]),
			Kind:       model.Kind(rec[24]),
		}
	}
	return m, nil
}

// encode serializes the manifest. Index entries are written in ascending
// node ID order so identical logical state yields byte-identical files.
func (m *manifest) encode() []byte {
	ids := make([]model.NodeID, 0, len(m.index))
	for id := range m.index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	buf := make([]byte, headerSize, headerSize+len(ids)*indexEntrySize)
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], FormatVersion)
	binary.LittleEndian.PutUint32(buf[6:10], m.chunkSize)
	binary.LittleEndian.PutUint32(buf[10:14], uint32(len(ids)))
	binary.LittleEndian.PutUint16(buf[14:16], m.registryVersion)

	var rec [indexEntrySize]byte
	for _, id := range ids {
		meta := m.index[id]
		binary.LittleEndian.PutUint64(rec[0:8], uint64(id))
		binary.LittleEndian.PutUint32(rec[8:12], meta.ChunkIndex)
		binary.LittleEndian.PutUint64(rec[12:20], meta.Offset)
		binary.LittleEndian.PutUint32(rec[20:24], meta.OutDegree)
		rec[24] = byte(meta.Kind)
		buf = append(buf, rec[:]...)
	}
	return buf
}

// writeManifest atomically replaces path with the encoded manifest:
// write to a temp file, fsync, rename, fsync the directory.
func writeManifest(path string, m *manifest) error {
	tmp := path + ".tmp"
	if err := writeFileSync(tmp, m.encode()); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: renaming manifest: %v", model.ErrStorageIO, err)
	}
	return syncDir(filepath.Dir(path))
}

// writeFileSync writes data to path and fsyncs before close.
func writeFileSync(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", model.ErrStorageIO, filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("%w: writing %s: %v", model.ErrStorageIO, filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: syncing %s: %v", model.ErrStorageIO, filepath.Base(path), err)
	}
	return f.Close()
}

// syncDir fsyncs a directory so renames inside it are durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("%w: opening dir for sync: %v", model.ErrStorageIO, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("%w: syncing dir: %v", model.ErrStorageIO, err)
	}
	return nil
}
