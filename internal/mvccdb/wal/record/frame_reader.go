package record

import (
	"encoding/binary"
	"io"
)

type FrameReader struct {
	r      io.Reader
	offset int64
}

// NewFrameReader creates a new FrameReader that reads frames from the given io.Reader.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:      r,
		offset: 0,
	}
}

// Next reads the next frame from the underlying reader.
// A clean end of stream returns io.EOF; a partial frame returns a
// ParseError of kind KindTruncated.
func (fr *FrameReader) Next() (FramedEntry, error) {
	frameStart := fr.offset

	hdrBuf := make([]byte, HeaderSize)
	n, err := io.ReadFull(fr.r, hdrBuf)
	if err != nil {
		fr.offset += int64(n)
		if err == io.EOF && n == 0 {
			return FramedEntry{}, io.EOF
		}
		if err != io.ErrUnexpectedEOF {
			return FramedEntry{}, &ParseError{
				Kind:               KindIO,
				Offset:             frameStart,
				SafeTruncateOffset: frameStart,
				Want:               HeaderSize,
				Have:               n,
				Err:                err,
			}
		}
		return FramedEntry{}, &ParseError{
			Kind:               KindTruncated,
			Offset:             frameStart,
			SafeTruncateOffset: frameStart,
			Want:               HeaderSize,
			Have:               n,
			Err:                io.ErrUnexpectedEOF,
		}
	}

	hdr, err := decodeHeader(hdrBuf, frameStart)
	if err != nil {
		fr.offset += HeaderSize
		if pe, ok := AsParseError(err); ok {
			pe.RawKind = hdrBuf[PayloadLenSize]
		}
		return FramedEntry{}, err
	}

	body := make([]byte, int(hdr.PayloadLen)+CRCSize)
	n, err = io.ReadFull(fr.r, body)
	if err != nil {
		fr.offset += int64(HeaderSize + n)
		kind := KindTruncated
		cause := io.ErrUnexpectedEOF
		if err != io.EOF && err != io.ErrUnexpectedEOF {
			kind = KindIO
			cause = err
		}
		return FramedEntry{}, &ParseError{
			Kind:               kind,
			Offset:             frameStart,
			SafeTruncateOffset: frameStart,
			DeclaredLen:        hdr.PayloadLen,
			RawKind:            byte(hdr.Kind),
			EntryKind:          hdr.Kind,
			Want:               len(body),
			Have:               n,
			Err:                cause,
		}
	}
	fr.offset += int64(HeaderSize + len(body))

	fe := FramedEntry{
		Header:  hdr,
		Payload: body[:hdr.PayloadLen],
		CRC:     binary.LittleEndian.Uint32(body[hdr.PayloadLen:]),
		Offset:  frameStart,
		Size:    EncodedSize(int(hdr.PayloadLen)),
	}

	if !VerifyChecksum(&fe) {
		return FramedEntry{}, &ParseError{
			Kind:               KindChecksumMismatch,
			Offset:             frameStart,
			SafeTruncateOffset: frameStart,
			DeclaredLen:        hdr.PayloadLen,
			RawKind:            byte(hdr.Kind),
			EntryKind:          hdr.Kind,
			Err:                ErrChecksumMismatch,
		}
	}

	return fe, nil
}

// NextEntry reads and decodes the next entry.
func (fr *FrameReader) NextEntry() (Entry, error) {
	fe, err := fr.Next()
	if err != nil {
		return Entry{}, err
	}
	return DecodeEntry(fe)
}

// Offset returns the current offset in the underlying reader.
func (fr *FrameReader) Offset() int64 {
	return fr.offset
}
