package record

import "encoding/binary"

const (
	// CommitPayloadSize is the size of a COMMIT payload: [commit_xid (4)].
	CommitPayloadSize = 4
	// RecordPayloadHeaderSize is the fixed prefix of INSERT/DELETE payloads:
	// [table_id (4)][page (4)][slot (4)][data_len (4)][data_offset (4)].
	RecordPayloadHeaderSize = 20
)

// EncodeEntry encodes e into a complete frame.
func EncodeEntry(e Entry) ([]byte, error) {
	payload, err := EncodePayload(e)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(e.Kind, e.TrxID, payload)
}

// DecodeEntry decodes the payload of a framed entry according to its kind.
func DecodeEntry(fe FramedEntry) (Entry, error) {
	e := Entry{Kind: fe.Header.Kind, TrxID: fe.Header.TrxID}
	switch fe.Header.Kind {
	case KindBegin, KindRollback:
		if err := rejectTrailing(fe.Payload, 0); err != nil {
			return Entry{}, err
		}
	case KindCommit:
		xid, err := DecodeCommitPayload(fe.Payload)
		if err != nil {
			return Entry{}, err
		}
		e.CommitXID = xid
	case KindInsert, KindDelete:
		rec, err := DecodeRecordPayload(fe.Payload)
		if err != nil {
			return Entry{}, err
		}
		e.Record = rec
	default:
		return Entry{}, ValidateKind(fe.Header.Kind)
	}
	return e, nil
}

// EncodePayload encodes the kind-specific payload of e.
func EncodePayload(e Entry) ([]byte, error) {
	switch e.Kind {
	case KindBegin, KindRollback:
		return nil, nil
	case KindCommit:
		return EncodeCommitPayload(e.CommitXID), nil
	case KindInsert, KindDelete:
		return EncodeRecordPayload(e.Record)
	default:
		return nil, ValidateKind(e.Kind)
	}
}

// EncodeCommitPayload encodes a COMMIT payload.
func EncodeCommitPayload(commitXID int32) []byte {
	buf := make([]byte, CommitPayloadSize)
	binary.LittleEndian.PutUint32(buf, uint32(commitXID)) //nolint:gosec
	return buf
}

// DecodeCommitPayload decodes a COMMIT payload.
func DecodeCommitPayload(payload []byte) (int32, error) {
	xid, off, err := i32le(payload, 0, "commit_xid")
	if err != nil {
		return 0, err
	}
	if err := rejectTrailing(payload, off); err != nil {
		return 0, err
	}
	return xid, nil
}

// EncodeRecordPayload encodes an INSERT/DELETE payload.
func EncodeRecordPayload(r RecordEntry) ([]byte, error) {
	if int(r.DataOffset) > len(r.Data) {
		return nil, &CodecError{
			Kind:  CodecInvalid,
			Field: "data_offset",
			Want:  len(r.Data),
			Have:  int(r.DataOffset),
			Err:   ErrCodecInvalid,
		}
	}
	size := RecordPayloadHeaderSize + len(r.Data)
	if err := ValidatePayloadLength(uint32(size)); err != nil { //nolint:gosec
		return nil, err
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.TableID))      //nolint:gosec
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.RID.PageNum))  //nolint:gosec
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.RID.SlotNum)) //nolint:gosec
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(r.Data)))  //nolint:gosec
	binary.LittleEndian.PutUint32(buf[16:20], r.DataOffset)
	copy(buf[RecordPayloadHeaderSize:], r.Data)
	return buf, nil
}

// DecodeRecordPayload decodes an INSERT/DELETE payload. The returned Data
// is a copy and does not alias payload.
func DecodeRecordPayload(payload []byte) (RecordEntry, error) {
	var (
		r   RecordEntry
		err error
		off int
	)
	if r.TableID, off, err = i32le(payload, off, "table_id"); err != nil {
		return RecordEntry{}, err
	}
	if r.RID.PageNum, off, err = i32le(payload, off, "page_num"); err != nil {
		return RecordEntry{}, err
	}
	if r.RID.SlotNum, off, err = i32le(payload, off, "slot_num"); err != nil {
		return RecordEntry{}, err
	}

	dataLen, off, err := u32le(payload, off, "data_len")
	if err != nil {
		return RecordEntry{}, err
	}
	if r.DataOffset, off, err = u32le(payload, off, "data_offset"); err != nil {
		return RecordEntry{}, err
	}
	if r.DataOffset > dataLen {
		return RecordEntry{}, &CodecError{
			Kind:  CodecCorrupt,
			Field: "data_offset",
			At:    off - 4,
			Want:  int(dataLen),
			Have:  int(r.DataOffset),
			Err:   ErrCodecCorrupt,
		}
	}

	if err := need(payload, off, int(dataLen), "data"); err != nil {
		return RecordEntry{}, err
	}
	r.Data = make([]byte, dataLen)
	copy(r.Data, payload[off:off+int(dataLen)])
	off += int(dataLen)

	if err := rejectTrailing(payload, off); err != nil {
		return RecordEntry{}, err
	}
	return r, nil
}

func need(b []byte, off int, n int, field string) error {
	if off < 0 || n < 0 || off > len(b) || len(b)-off < n {
		have := len(b) - off
		if have < 0 {
			have = 0
		}
		return &CodecError{
			Kind:  CodecTruncated,
			Field: field,
			At:    off,
			Want:  n,
			Have:  have,
			Err:   ErrCodecTruncated,
		}
	}
	return nil
}

func u32le(b []byte, off int, field string) (uint32, int, error) {
	if err := need(b, off, 4, field); err != nil {
		return 0, off, err
	}
	return binary.LittleEndian.Uint32(b[off : off+4]), off + 4, nil
}

func i32le(b []byte, off int, field string) (int32, int, error) {
	v, next, err := u32le(b, off, field)
	return int32(v), next, err //nolint:gosec
}

func rejectTrailing(b []byte, off int) error {
	if off != len(b) {
		return &CodecError{
			Kind:  CodecCorrupt,
			Field: "trailing",
			At:    off,
			Want:  0,
			Have:  len(b) - off,
			Err:   ErrCodecCorrupt,
		}
	}
	return nil
}
