// Package storage implements the persistent graph representation: a chunked
// binary base (manifest + synapse chunk files keyed by sender ranges) and an
// append-only, CRC-protected delta log. All integers are little-endian.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/nvandessel/ragp/internal/model"
)

// On-disk format constants.
const (
	// FormatVersion is the single supported record layout version.
	FormatVersion uint16 = 1

	// DefaultChunkSize is the number of senders per synapse chunk file.
	DefaultChunkSize uint32 = 100

	headerSize     = 16 // magic u32 + version u16 + chunk size u32 + node count u32 + registry version u16
	indexEntrySize = 25 // node_id u64 + chunk_file_index u32 + offset u64 + out_degree u32 + kind u8
	chunkRecSize   = 16 // receiver u64 + weight f32 + tick u32

	// deltaPayloadSize covers sender u64 + receiver u64 + weight f32 + tick u32.
	deltaPayloadSize = 24
	// deltaBodySize is payload plus trailing crc32; the length prefix
	// declares this value.
	deltaBodySize = deltaPayloadSize + 4

	baseName  = "base.bin"
	deltaName = "delta.bin"
	lockName  = "LOCK"
)

// Magic is the manifest magic, the bytes "RAGP".
var Magic = [4]byte{'R', 'A', 'G', 'P'}

// noSynapses marks a node index entry with an empty outgoing list.
const noSynapses = ^uint64(0)

// chunkIndexFor returns the chunk file index owning sender.
func chunkIndexFor(sender model.NodeID, chunkSize uint32) uint32 {
	return uint32(uint64(sender) / uint64(chunkSize))
}

// chunkRange returns the inclusive sender range of a chunk index.
func chunkRange(index, chunkSize uint32) (lo, hi uint64) {
	lo = uint64(index) * uint64(chunkSize)
	hi = lo + uint64(chunkSize) - 1
	return lo, hi
}

// chunkFileName formats the chunk file name for an index,
// e.g. base_000000_000099.bin.
func chunkFileName(index, chunkSize uint32) string {
	lo, hi := chunkRange(index, chunkSize)
	return fmt.Sprintf("base_%06d_%06d.bin", lo, hi)
}

// listChunkIndexes scans dir for chunk files and returns their indexes,
// ascending. Files with unparseable names are skipped.
func listChunkIndexes(dir string, chunkSize uint32) []uint32 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []uint32
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "base_") || !strings.HasSuffix(name, ".bin") {
			continue
		}
		parts := strings.Split(strings.TrimSuffix(name, ".bin"), "_")
		if len(parts) != 3 {
			continue
		}
		lo, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, uint32(lo/uint64(chunkSize)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// removeChunkFiles deletes every chunk file in dir.
func removeChunkFiles(dir string, chunkSize uint32) {
	for _, idx := range listChunkIndexes(dir, chunkSize) {
		_ = os.Remove(filepath.Join(dir, chunkFileName(idx, chunkSize)))
	}
}
