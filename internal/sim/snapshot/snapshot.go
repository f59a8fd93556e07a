// Package snapshot implements the binary machine-state snapshot codec
// (spec §4.5, §6): magic "PVMS", schema version, tick count, per-board
// per-node class-tag-plus-opaque-state blobs, trailing CRC32. Restore is
// strict — any unknown class tag or size mismatch fails with a typed error,
// and partial restore is never attempted (spec §4.5).
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"boardsim/internal/proto"
)

// SchemaVersion is the current on-disk snapshot format version.
const SchemaVersion uint32 = 1

const magic = "PVMS"

// NodeState is one node's class tag and opaque state blob (produced by a
// node's HashState-adjacent state encoder, or any caller-supplied encoding).
type NodeState struct {
	ClassTag string
	State    []byte
}

// BoardState is the ordered node-state list for one board.
type BoardState struct {
	Nodes []NodeState
}

// Snapshot is the decoded form of a machine snapshot: tick count plus
// per-board, per-node state, matching spec §4.5's "machine tick count,
// per-board node list with class tag and opaque state blob" description.
type Snapshot struct {
	SchemaVersion uint32
	TickCount     uint64
	Boards        []BoardState
}

// Encode serializes s into the exact binary layout spec'd in §6:
//
//	magic "PVMS", u32 schema_version, u64 tick_count, u32 board_count
//	per board: u32 node_count
//	  per node: u16 class_tag_len, class_tag bytes, u32 state_len, state bytes
//	trailer: u32 crc32 over everything preceding
func Encode(s Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(magic)
	writeU32(&buf, s.SchemaVersion)
	writeU64(&buf, s.TickCount)
	writeU32(&buf, uint32(len(s.Boards)))
	for _, b := range s.Boards {
		writeU32(&buf, uint32(len(b.Nodes)))
		for _, n := range b.Nodes {
			if len(n.ClassTag) > 0xFFFF {
				return nil, proto.NewError(proto.ErrCircuitStateCorrupt, "class tag too long to encode")
			}
			writeU16(&buf, uint16(len(n.ClassTag)))
			buf.WriteString(n.ClassTag)
			writeU32(&buf, uint32(len(n.State)))
			buf.Write(n.State)
		}
	}
	sum := crc32.ChecksumIEEE(buf.Bytes())
	writeU32(&buf, sum)
	return buf.Bytes(), nil
}

// Decode parses a snapshot blob produced by Encode. Restore is strict: any
// truncation, unreadable length-prefix, or CRC mismatch returns a typed
// CircuitStateCorrupt error and no partial Snapshot is returned. A
// schema_version other than SchemaVersion returns StorageSchemaMismatch
// rather than attempting a silent migration (spec §4.5).
func Decode(data []byte) (Snapshot, error) {
	if len(data) < len(magic)+4+8+4+4 {
		return Snapshot{}, proto.NewError(proto.ErrCircuitStateCorrupt, "snapshot too short")
	}
	if string(data[:len(magic)]) != magic {
		return Snapshot{}, proto.NewError(proto.ErrCircuitStateCorrupt, "bad snapshot magic")
	}
	body := data[:len(data)-4]
	wantCRC := binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != wantCRC {
		return Snapshot{}, proto.NewError(proto.ErrCircuitStateCorrupt, "snapshot CRC mismatch")
	}

	r := bytes.NewReader(data[len(magic) : len(data)-4])
	schemaVersion, err := readU32(r)
	if err != nil {
		return Snapshot{}, proto.NewError(proto.ErrCircuitStateCorrupt, "truncated schema_version")
	}
	if schemaVersion != SchemaVersion {
		return Snapshot{}, proto.NewError(proto.ErrStorageSchemaMismatch, "unsupported snapshot schema_version").
			WithDetail(fmt.Sprintf("have %d, want %d", schemaVersion, SchemaVersion))
	}
	tickCount, err := readU64(r)
	if err != nil {
		return Snapshot{}, proto.NewError(proto.ErrCircuitStateCorrupt, "truncated tick_count")
	}
	boardCount, err := readU32(r)
	if err != nil {
		return Snapshot{}, proto.NewError(proto.ErrCircuitStateCorrupt, "truncated board_count")
	}

	out := Snapshot{SchemaVersion: schemaVersion, TickCount: tickCount, Boards: make([]BoardState, 0, boardCount)}
	for bi := uint32(0); bi < boardCount; bi++ {
		nodeCount, err := readU32(r)
		if err != nil {
			return Snapshot{}, proto.NewError(proto.ErrCircuitStateCorrupt, "truncated node_count")
		}
		board := BoardState{Nodes: make([]NodeState, 0, nodeCount)}
		for ni := uint32(0); ni < nodeCount; ni++ {
			tagLen, err := readU16(r)
			if err != nil {
				return Snapshot{}, proto.NewError(proto.ErrCircuitStateCorrupt, "truncated class_tag_len")
			}
			tagBytes := make([]byte, tagLen)
			if _, err := io.ReadFull(r, tagBytes); err != nil {
				return Snapshot{}, proto.NewError(proto.ErrCircuitStateCorrupt, "truncated class_tag bytes")
			}
			stateLen, err := readU32(r)
			if err != nil {
				return Snapshot{}, proto.NewError(proto.ErrCircuitStateCorrupt, "truncated state_len")
			}
			stateBytes := make([]byte, stateLen)
			if _, err := io.ReadFull(r, stateBytes); err != nil {
				return Snapshot{}, proto.NewError(proto.ErrCircuitStateCorrupt, "truncated state bytes")
			}
			board.Nodes = append(board.Nodes, NodeState{ClassTag: string(tagBytes), State: stateBytes})
		}
		out.Boards = append(out.Boards, board)
	}
	if r.Len() != 0 {
		return Snapshot{}, proto.NewError(proto.ErrCircuitStateCorrupt, "trailing bytes before CRC")
	}
	return out, nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
