package record

// ValidatePayloadLength checks the declared payload length against MaxPayloadSize.
func ValidatePayloadLength(length uint32) error {
	if length > MaxPayloadSize {
		return &ParseError{
			Kind:        KindTooLarge,
			DeclaredLen: length,
			Want:        MaxPayloadSize,
			Have:        int(length),
			Err:         ErrTooLarge,
		}
	}
	return nil
}

// ValidateKind rejects kinds outside the five known entry kinds.
func ValidateKind(kind EntryKind) error {
	if !kind.Valid() {
		return &ParseError{
			Kind:      KindInvalidType,
			RawKind:   byte(kind),
			EntryKind: kind,
			Err:       ErrInvalidType,
		}
	}
	return nil
}

// ValidatePayload checks that a payload has the shape its kind requires.
func ValidatePayload(kind EntryKind, payload []byte) error {
	if err := ValidateKind(kind); err != nil {
		return err
	}
	if err := ValidatePayloadLength(uint32(len(payload))); err != nil { //nolint:gosec
		return err
	}

	var ok bool
	switch kind {
	case KindBegin, KindRollback:
		ok = len(payload) == 0
	case KindCommit:
		ok = len(payload) == CommitPayloadSize
	case KindInsert, KindDelete:
		ok = len(payload) >= RecordPayloadHeaderSize
	}
	if !ok {
		return &ParseError{
			Kind:        KindInvalidLength,
			DeclaredLen: uint32(len(payload)), //nolint:gosec
			EntryKind:   kind,
			Err:         ErrInvalidLength,
		}
	}
	return nil
}
