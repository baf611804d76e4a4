package eventstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 32
	recordChecksumSize        = 4
)

var (
	recordMagic = [4]byte{'E', 'V', 'T', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic            = errors.New("eventstore invalid magic")
	ErrUnsupportedRecordVer    = errors.New("eventstore unsupported record version")
	ErrInvalidRecordHeaderSize = errors.New("eventstore invalid header size")
	ErrPayloadTooLarge         = errors.New("eventstore payload too large")
	ErrChecksumMismatch        = errors.New("eventstore checksum mismatch")
)

const maxRecordPayload = uint64(^uint32(0))

// recordMeta is the fixed part of a log record. The payload that follows is
// the canonical JSON encoding of the full event.
type recordMeta struct {
	Seq    uint64
	TsUnix int64
}

func encodeRecordHeader(dst []byte, meta recordMeta, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[12:20], meta.Seq)
	binary.LittleEndian.PutUint64(dst[20:28], uint64(meta.TsUnix))
	binary.LittleEndian.PutUint32(dst[28:32], 0)
}

func decodeRecordHeader(src []byte) (recordMeta, uint32, error) {
	if len(src) < recordHeaderSize {
		return recordMeta{}, 0, ErrInvalidRecordHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return recordMeta{}, 0, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return recordMeta{}, 0, ErrUnsupportedRecordVer
	}
	if headerSize := binary.LittleEndian.Uint16(src[6:8]); headerSize != recordHeaderSize {
		return recordMeta{}, 0, ErrInvalidRecordHeaderSize
	}
	payloadLen := binary.LittleEndian.Uint32(src[8:12])
	meta := recordMeta{
		Seq:    binary.LittleEndian.Uint64(src[12:20]),
		TsUnix: int64(binary.LittleEndian.Uint64(src[20:28])),
	}
	return meta, payloadLen, nil
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}
