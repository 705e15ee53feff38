package record

import (
	"encoding/binary"

	"github.com/julianstephens/go-utils/checksum"
)

// ComputeChecksum computes the CRC32-C checksum with the Castagnoli polynomial for the given data.
func ComputeChecksum(data []byte) uint32 {
	return checksum.CRC32C(data)
}

// VerifyChecksum verifies the checksum of the given frame.
// The checksum covers the kind, the transaction id and the payload.
func VerifyChecksum(fe *FramedEntry) bool {
	if fe == nil {
		return false
	}
	return checksum.VerifyCRC32C(checksumInput(fe), fe.CRC)
}

// UpdateChecksum recalculates the checksum from the frame's current fields.
func UpdateChecksum(fe *FramedEntry) {
	if fe == nil {
		return
	}
	fe.CRC = ComputeChecksum(checksumInput(fe))
}

func checksumInput(fe *FramedEntry) []byte {
	data := make([]byte, KindSize+TrxIDSize+len(fe.Payload))
	data[0] = byte(fe.Header.Kind)
	binary.LittleEndian.PutUint32(data[KindSize:KindSize+TrxIDSize], uint32(fe.Header.TrxID)) //nolint:gosec
	copy(data[KindSize+TrxIDSize:], fe.Payload)
	return data
}
