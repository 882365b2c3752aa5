package s7

import (
	"testing"
)

// TestWriteBitScenario reproduces scenario: writing DB2.DBX0.3 = true
// encodes a single-bit S7ANY item and accepts a minimal 22-byte reply.
func TestWriteBitScenario(t *testing.T) {
	resp := buildCannedWriteResponse()
	c, peer := newTestClient(t, [][]byte{resp})

	if err := c.WriteBit(AreaDB, 2, 0, 3, true); err != nil {
		t.Fatalf("WriteBit: %v", err)
	}
	if len(peer.requests) != 1 {
		t.Fatalf("sent %d requests, want 1", len(peer.requests))
	}

	req := peer.requests[0]
	item := req[12:24] // header(10) + params(function, count) precede the 12-byte S7ANY item
	if item[3] != tsBIT {
		t.Errorf("transport size = 0x%02X, want tsBIT (0x%02X)", item[3], tsBIT)
	}
	bitAddr := int(item[9])<<16 | int(item[10])<<8 | int(item[11])
	if bitAddr != 0*8+3 {
		t.Errorf("bit address = %d, want %d (offset 0, bit 3)", bitAddr, 3)
	}
}

// TestReadAreaFragmentation reproduces scenario: reading 1000 bytes with a
// negotiated PDU of 240 must split into fragments of 222, 222, 222, 222, 112
// bytes ((240-18)/1 = 222 max elements per read chunk).
func TestReadAreaFragmentation(t *testing.T) {
	const total = 1000
	const pdu = 240

	wantChunks := []int{222, 222, 222, 222, 112}
	sum := 0
	for _, c := range wantChunks {
		sum += c
	}
	if sum != total {
		t.Fatalf("test setup: chunk sizes sum to %d, want %d", sum, total)
	}

	var script [][]byte
	for _, n := range wantChunks {
		script = append(script, buildCannedReadResponse(n))
	}

	c, peer := newTestClient(t, script)
	c.transport.pduSize = pdu

	data, err := c.ReadArea(AreaDB, 1, 0, TypeByte, total)
	if err != nil {
		t.Fatalf("ReadArea: %v", err)
	}
	if len(data) != total {
		t.Fatalf("ReadArea returned %d bytes, want %d", len(data), total)
	}
	if len(peer.requests) != len(wantChunks) {
		t.Fatalf("sent %d requests, want %d", len(peer.requests), len(wantChunks))
	}
}

// TestWriteAreaOverhead checks that writeArea uses the 35-byte write-reply
// overhead (distinct from the 18-byte read overhead) when computing the
// per-chunk element cap.
func TestWriteAreaOverhead(t *testing.T) {
	const pdu = 240
	maxBytes := (pdu - writeOverhead) / 1
	if maxBytes != 205 {
		t.Fatalf("write overhead math: (240-35)/1 = %d, want 205", maxBytes)
	}
	maxReadBytes := (pdu - readOverhead) / 1
	if maxReadBytes != 222 {
		t.Fatalf("read overhead math: (240-18)/1 = %d, want 222", maxReadBytes)
	}

	data := make([]byte, 1000)
	var script [][]byte
	remaining := len(data)
	var chunkSizes []int
	for remaining > 0 {
		n := remaining
		if n > maxBytes {
			n = maxBytes
		}
		chunkSizes = append(chunkSizes, n)
		remaining -= n
		script = append(script, buildCannedWriteResponse())
	}

	c, peer := newTestClient(t, script)
	c.transport.pduSize = pdu

	if err := c.WriteArea(AreaDB, 1, 0, TypeByte, data); err != nil {
		t.Fatalf("WriteArea: %v", err)
	}
	if len(peer.requests) != len(chunkSizes) {
		t.Fatalf("sent %d write requests, want %d", len(peer.requests), len(chunkSizes))
	}
}

// TestCounterTimerAddressing verifies that Counter/Timer addresses encode
// their offset in native units (no <<3 bit shift) and carry their own
// transport size, the same treatment as Bit addressing.
func TestCounterTimerAddressing(t *testing.T) {
	tests := []struct {
		area     Area
		wantTS   byte
	}{
		{AreaC, tsCOUNTER},
		{AreaT, tsTIMER},
	}
	for _, tt := range tests {
		addr := &Address{
			Area:     tt.area,
			Offset:   5,
			BitNum:   -1,
			DataType: TypeWord,
			Size:     2,
			Count:    1,
		}
		item := addressToS7Any(addr)
		gotTS := item[3]
		if gotTS != tt.wantTS {
			t.Errorf("%s transport size = 0x%02X, want 0x%02X", tt.area, gotTS, tt.wantTS)
		}
		bitAddr := int(item[9])<<16 | int(item[10])<<8 | int(item[11])
		if bitAddr != addr.Offset {
			t.Errorf("%s address = %d, want native offset %d (no <<3 shift)", tt.area, bitAddr, addr.Offset)
		}
	}
}

// TestByteAddressingStillShifted confirms ordinary byte/word areas still
// encode the bit address as offset<<3, unlike Counter/Timer.
func TestByteAddressingStillShifted(t *testing.T) {
	addr := &Address{
		Area:     AreaDB,
		DBNumber: 1,
		Offset:   5,
		BitNum:   -1,
		DataType: TypeWord,
		Size:     2,
		Count:    1,
	}
	item := addressToS7Any(addr)
	bitAddr := int(item[9])<<16 | int(item[10])<<8 | int(item[11])
	if bitAddr != addr.Offset*8 {
		t.Errorf("DB word address = %d, want %d (offset<<3)", bitAddr, addr.Offset*8)
	}
}

// buildCannedReadResponse builds a minimal, valid read-variable response
// payload carrying n bytes of zeroed data for a single item.
func buildCannedReadResponse(n int) []byte {
	paramLen := 2
	dataLen := 4 + n
	if n%2 == 1 {
		dataLen++
	}
	resp := []byte{
		s7ProtocolID, s7MsgAckData,
		0x00, 0x00,
		0x00, 0x00,
		byte(paramLen >> 8), byte(paramLen),
		byte(dataLen >> 8), byte(dataLen),
		0x00, 0x00, // error class/code
	}
	resp = append(resp, s7FuncRead, 0x01) // params: function, item count
	item := []byte{
		dataItemSuccess,
		0x09, // octet string: length in bytes
		byte(n >> 8), byte(n),
	}
	item = append(item, make([]byte, n)...)
	if n%2 == 1 {
		item = append(item, 0x00)
	}
	resp = append(resp, item...)
	return resp
}

// buildCannedWriteResponse builds a minimal, valid write-variable response
// payload for a single successfully-written item.
func buildCannedWriteResponse() []byte {
	paramLen := 2
	dataLen := 1
	resp := []byte{
		s7ProtocolID, s7MsgAckData,
		0x00, 0x00,
		0x00, 0x00,
		byte(paramLen >> 8), byte(paramLen),
		byte(dataLen >> 8), byte(dataLen),
		0x00, 0x00,
	}
	resp = append(resp, s7FuncWrite, 0x01, dataItemSuccess)
	return resp
}
