package s7

import "testing"

// TestReadSZLTwoSlicePaging reproduces the documented two-slice SZL fetch:
// the first reply carries a data-size word of 20 (12 actual data bytes,
// size-8), a record length of 4, and a non-zero "more data" byte; the
// second reply carries a data-size word of 8 (8 actual bytes, no -8
// adjustment) and a zero "more data" byte. The continuation request must
// echo the sequence number the first reply returned.
func TestReadSZLTwoSlicePaging(t *testing.T) {
	first := buildCannedSZLFirstResponse(0x02, 0x01, 20, 4, 3, []byte{
		0x00, 0x01, 0xAA, 0xBB,
		0x00, 0x02, 0xCC, 0xDD,
		0x00, 0x03, 0xEE, 0xFF,
	})
	second := buildCannedSZLNextResponse(0x00, 8, []byte{
		0x00, 0x04, 0x11, 0x22,
		0x00, 0x05, 0x33, 0x44,
	})

	c, peer := newTestClient(t, [][]byte{first, second})

	records, err := c.ReadSZL(0x0011, 0x0000)
	if err != nil {
		t.Fatalf("ReadSZL: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("ReadSZL returned %d records, want 5", len(records))
	}
	totalBytes := 0
	for _, r := range records {
		totalBytes += len(r.Data)
	}
	if totalBytes != 20 {
		t.Errorf("total SZL data bytes = %d, want 20", totalBytes)
	}
	if records[0].Index != 1 || records[4].Index != 5 {
		t.Errorf("record indices = %d..%d, want 1..5", records[0].Index, records[4].Index)
	}

	if len(peer.requests) != 2 {
		t.Fatalf("sent %d requests, want 2", len(peer.requests))
	}
	if peer.requests[1][udataSeqOffset] != 0x02 {
		t.Errorf("continuation request seq byte = 0x%02X, want 0x02 (echo of first reply's sequence)",
			peer.requests[1][udataSeqOffset])
	}
}

// buildCannedSZLFirstResponse builds a first-slice SZL response. size is the
// raw data-size word on the wire (actual data bytes = size-8); recLen and
// recCount are the header length / record count words; data is the raw
// record bytes appended starting at szlFirstDataOffset.
func buildCannedSZLFirstResponse(seq, more byte, size, recLen, recCount int, data []byte) []byte {
	dataSection := []byte{
		0x00,       // retcode placeholder
		more,       // "more data" flag (non-zero => not done)
		0x00, 0x00, // status word
		0xFF, // marker
		0x00, // reserved
		byte(size >> 8), byte(size),
		0x00, 0x11, // SZL ID echo
		0x00, 0x00, // SZL index echo
		byte(recLen >> 8), byte(recLen),
		byte(recCount >> 8), byte(recCount),
	}
	dataSection = append(dataSection, data...)
	return buildCannedUserDataResponse(seq, dataSection)
}

// buildCannedSZLNextResponse builds a continuation-slice SZL response. size
// is the raw data-size word (actual data bytes, no adjustment); data is the
// raw record bytes appended starting at szlNextDataOffset.
func buildCannedSZLNextResponse(more byte, size int, data []byte) []byte {
	dataSection := []byte{
		0x00,
		more,
		0x00, 0x00,
		0xFF,
		0x00,
		byte(size >> 8), byte(size),
		0x00, 0x00, 0x00, 0x00, // unused in continuation slices
	}
	dataSection = append(dataSection, data...)
	return buildCannedUserDataResponse(0x00, dataSection)
}

// buildCannedUserDataResponse assembles a full user-data response telegram
// (10-byte header + 8-byte parameter block + caller-built data section)
// around a CPU-functions/SZL parameter block carrying the given sequence
// number.
func buildCannedUserDataResponse(seq byte, dataSection []byte) []byte {
	dataLen := len(dataSection)
	header := []byte{
		s7ProtocolID, s7MsgUserData,
		0x00, 0x00,
		0x00, 0x00,
		0x00, udataParamLen,
		byte(dataLen >> 8), byte(dataLen),
	}
	params := []byte{
		udataHead0, udataHead1, udataHead2,
		udataParamLen,
		udataMethodRes,
		udataGroupCPU,
		udataSubSZL,
		seq,
	}
	resp := append(header, params...)
	resp = append(resp, dataSection...)
	return resp
}
