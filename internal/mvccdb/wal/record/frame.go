package record

import (
	"encoding/binary"
	"io"
)

const (
	PayloadLenSize = 4
	KindSize       = 1
	// TrxIDSize is the width of the int32 transaction id in the header.
	TrxIDSize      = 4
	HeaderSize     = PayloadLenSize + KindSize + TrxIDSize
	CRCSize        = 4
	// MaxPayloadSize caps a single entry at 16 MB.
	MaxPayloadSize = 16 * 1024 * 1024
)

// EncodedSize returns the full frame size for a payload of payloadLen bytes.
func EncodedSize(payloadLen int) int64 {
	return int64(HeaderSize + payloadLen + CRCSize)
}

// EncodeFrame encodes a frame with the given header fields and payload.
// Format: [payload_len (4)][kind (1)][trx_id (4)][payload][crc (4)]
func EncodeFrame(kind EntryKind, trxID int32, payload []byte) ([]byte, error) {
	if err := ValidateKind(kind); err != nil {
		return nil, err
	}
	payloadLen := uint32(len(payload)) //nolint:gosec
	if err := ValidatePayloadLength(payloadLen); err != nil {
		return nil, err
	}

	data := make([]byte, EncodedSize(len(payload)))
	binary.LittleEndian.PutUint32(data[:PayloadLenSize], payloadLen)
	data[PayloadLenSize] = byte(kind)
	binary.LittleEndian.PutUint32(data[PayloadLenSize+KindSize:HeaderSize], uint32(trxID)) //nolint:gosec
	copy(data[HeaderSize:], payload)

	crcIndex := HeaderSize + len(payload)
	binary.LittleEndian.PutUint32(data[crcIndex:], ComputeChecksum(data[PayloadLenSize:crcIndex]))

	return data, nil
}

// DecodeFrame decodes exactly one frame from data.
func DecodeFrame(data []byte) (FramedEntry, error) {
	if len(data) < HeaderSize+CRCSize {
		return FramedEntry{}, &ParseError{
			Kind: KindTruncated,
			Want: HeaderSize + CRCSize,
			Have: len(data),
			Err:  io.ErrUnexpectedEOF,
		}
	}

	hdr, err := decodeHeader(data[:HeaderSize], 0)
	if err != nil {
		return FramedEntry{}, err
	}

	wantTotal := int(EncodedSize(int(hdr.PayloadLen)))
	if len(data) < wantTotal {
		return FramedEntry{}, &ParseError{
			Kind:        KindTruncated,
			DeclaredLen: hdr.PayloadLen,
			EntryKind:   hdr.Kind,
			Want:        wantTotal,
			Have:        len(data),
			Err:         io.ErrUnexpectedEOF,
		}
	}
	if len(data) != wantTotal {
		return FramedEntry{}, &ParseError{
			Kind:        KindCorrupt,
			DeclaredLen: hdr.PayloadLen,
			EntryKind:   hdr.Kind,
			Want:        wantTotal,
			Have:        len(data),
			Err:         ErrInvalidLength,
		}
	}

	crcIndex := HeaderSize + int(hdr.PayloadLen)
	fe := FramedEntry{
		Header:  hdr,
		Payload: data[HeaderSize:crcIndex],
		CRC:     binary.LittleEndian.Uint32(data[crcIndex:wantTotal]),
		Offset:  0,
		Size:    int64(wantTotal),
	}
	if !VerifyChecksum(&fe) {
		return FramedEntry{}, &ParseError{
			Kind:        KindChecksumMismatch,
			DeclaredLen: hdr.PayloadLen,
			EntryKind:   hdr.Kind,
			Err:         ErrChecksumMismatch,
		}
	}
	return fe, nil
}

// decodeHeader parses and validates a header read at offset.
func decodeHeader(buf []byte, offset int64) (Header, error) {
	hdr := Header{
		PayloadLen: binary.LittleEndian.Uint32(buf[:PayloadLenSize]),
		Kind:       EntryKind(buf[PayloadLenSize]),
		TrxID:      int32(binary.LittleEndian.Uint32(buf[PayloadLenSize+KindSize : HeaderSize])), //nolint:gosec
	}
	if err := ValidatePayloadLength(hdr.PayloadLen); err != nil {
		if pe, ok := AsParseError(err); ok {
			pe.Offset = offset
			pe.SafeTruncateOffset = offset
			pe.EntryKind = hdr.Kind
		}
		return Header{}, err
	}
	if err := ValidateKind(hdr.Kind); err != nil {
		if pe, ok := AsParseError(err); ok {
			pe.Offset = offset
			pe.SafeTruncateOffset = offset
			pe.DeclaredLen = hdr.PayloadLen
		}
		return Header{}, err
	}
	return hdr, nil
}
