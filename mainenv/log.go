package mainenv

import (
	"encoding/binary"
	"fmt"

	"github.com/ridgecache/ridge/ridgetype"
)

const (
	logKindInsert byte = 0x01
	logKindDelete byte = 0x02
)

func opIDKey(id ridgetype.OperationID) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

func recordIDKey(id ridgetype.RecordID) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

// encodeLogOp serializes a LogOperation: a 1-byte kind discriminator
// followed by an 8-byte record/insert id and, for Delete, a 4-byte
// length-prefixed snapshot of the retracted record.
func encodeLogOp(op ridgetype.LogOperation) []byte {
	switch op.Kind {
	case ridgetype.LogInsert:
		b := make([]byte, 9)
		b[0] = logKindInsert
		binary.BigEndian.PutUint64(b[1:], uint64(op.RecordID))
		return b
	case ridgetype.LogDelete:
		b := make([]byte, 9+4+len(op.RecordSnapshot))
		b[0] = logKindDelete
		binary.BigEndian.PutUint64(b[1:9], uint64(op.InsertOpID))
		binary.BigEndian.PutUint32(b[9:13], uint32(len(op.RecordSnapshot)))
		copy(b[13:], op.RecordSnapshot)
		return b
	default:
		panic(fmt.Sprintf("mainenv: unknown log operation kind %v", op.Kind))
	}
}

func decodeLogOp(b []byte) (ridgetype.LogOperation, error) {
	if len(b) < 9 {
		return ridgetype.LogOperation{}, fmt.Errorf("mainenv: truncated log entry")
	}
	switch b[0] {
	case logKindInsert:
		return ridgetype.InsertLogOp(ridgetype.RecordID(binary.BigEndian.Uint64(b[1:9]))), nil
	case logKindDelete:
		if len(b) < 13 {
			return ridgetype.LogOperation{}, fmt.Errorf("mainenv: truncated delete log entry")
		}
		insertOpID := ridgetype.OperationID(binary.BigEndian.Uint64(b[1:9]))
		n := binary.BigEndian.Uint32(b[9:13])
		if uint32(len(b)-13) < n {
			return ridgetype.LogOperation{}, fmt.Errorf("mainenv: truncated delete snapshot")
		}
		snapshot := make([]byte, n)
		copy(snapshot, b[13:13+n])
		return ridgetype.DeleteLogOp(insertOpID, snapshot), nil
	default:
		return ridgetype.LogOperation{}, fmt.Errorf("mainenv: unknown log entry kind %#x", b[0])
	}
}

// encodePresentRecord prefixes a serialized record with its 8-byte
// big-endian version.
func encodePresentRecord(version uint64, recordBytes []byte) []byte {
	b := make([]byte, 8+len(recordBytes))
	binary.BigEndian.PutUint64(b[:8], version)
	copy(b[8:], recordBytes)
	return b
}

func decodePresentRecord(b []byte) (version uint64, recordBytes []byte, err error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("mainenv: truncated present record")
	}
	return binary.BigEndian.Uint64(b[:8]), b[8:], nil
}
