package s7

import (
	"testing"
	"time"
)

// TestPLCColdStartHotStartStop exercises the plain job/ack-data control
// path: a reply longer than 18 bytes with a zero status word at offset 10
// (bare S7 payload) must be accepted.
func TestPLCColdStartHotStartStop(t *testing.T) {
	resp := []byte{
		s7ProtocolID, s7MsgAckData,
		0x00, 0x00,
		0x00, 0x00,
		0x00, 0x00,
		0x00, 0x00,
		0x00, 0x00, // error class/code
	}
	for _, op := range []struct {
		name string
		call func(*Client) error
	}{
		{"ColdStart", (*Client).PLCColdStart},
		{"HotStart", (*Client).PLCHotStart},
		{"Stop", (*Client).PLCStop},
	} {
		t.Run(op.name, func(t *testing.T) {
			c, _ := newTestClient(t, [][]byte{append([]byte(nil), resp...)})
			if err := op.call(c); err != nil {
				t.Fatalf("%s: %v", op.name, err)
			}
		})
	}
}

// TestGetPlcStatus decodes the CPU status byte at its documented offset and
// maps the three known wire values.
func TestGetPlcStatus(t *testing.T) {
	tests := []struct {
		wire byte
		want CPUStatus
	}{
		{0x08, CPUStatusRun},
		{0x04, CPUStatusStop},
		{0x00, CPUStatusUnknown},
		{0xAA, CPUStatusUnknown},
	}
	for _, tt := range tests {
		dataSection := make([]byte, 20)
		dataSection[4] = 0xFF // marker
		dataSection[19] = tt.wire
		resp := buildCannedUserDataResponse(0x00, dataSection)

		c, _ := newTestClient(t, [][]byte{resp})
		got, err := c.GetPlcStatus()
		if err != nil {
			t.Fatalf("GetPlcStatus(wire=0x%02X): %v", tt.wire, err)
		}
		if got != tt.want {
			t.Errorf("GetPlcStatus(wire=0x%02X) = %v, want %v", tt.wire, got, tt.want)
		}
	}
}

// TestGetPlcDateTime decodes the 9-byte BCD clock payload at its documented
// offset.
func TestGetPlcDateTime(t *testing.T) {
	want := time.Date(2024, time.June, 15, 13, 45, 30, 0, time.Local)
	bcd := encodeDateTime(want)

	dataSection := make([]byte, 9+9)
	dataSection[4] = 0xFF // marker
	copy(dataSection[9:], bcd)
	resp := buildCannedUserDataResponse(0x00, dataSection)

	c, _ := newTestClient(t, [][]byte{resp})
	got, err := c.GetPlcDateTime()
	if err != nil {
		t.Fatalf("GetPlcDateTime: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("GetPlcDateTime = %v, want %v", got, want)
	}
}

// TestSetSessionPasswordAndClear exercises the "set"-style acks, which carry
// no payload beyond the shared status word and skip the marker check.
func TestSetSessionPasswordAndClear(t *testing.T) {
	dataSection := []byte{0x00, 0x00, 0x00, 0x00}
	resp1 := buildCannedUserDataResponse(0x00, dataSection)
	resp2 := buildCannedUserDataResponse(0x00, dataSection)

	c, _ := newTestClient(t, [][]byte{resp1, resp2})
	if err := c.SetSessionPassword("secret"); err != nil {
		t.Fatalf("SetSessionPassword: %v", err)
	}
	if err := c.ClearSessionPassword(); err != nil {
		t.Fatalf("ClearSessionPassword: %v", err)
	}
}

// TestGetAGBlockInfo decodes the block-info structure at its documented
// offset, including the 5-digit ASCII block number spliced into the
// request.
func TestGetAGBlockInfo(t *testing.T) {
	dataSection := make([]byte, 17+8)
	dataSection[4] = 0xFF // marker
	dataSection[17] = 0x00
	dataSection[18] = 0x64 // Length = 100
	dataSection[19] = 0x00
	dataSection[20] = 0x32 // LoadSize = 50
	copy(dataSection[21:], []byte("ACME"))
	resp := buildCannedUserDataResponse(0x00, dataSection)

	c, peer := newTestClient(t, [][]byte{resp})
	info, err := c.GetAGBlockInfo(0x08, 1)
	if err != nil {
		t.Fatalf("GetAGBlockInfo: %v", err)
	}
	if info.Length != 100 || info.LoadSize != 50 || info.Author != "ACME" {
		t.Errorf("GetAGBlockInfo = %+v, want Length=100 LoadSize=50 Author=ACME", info)
	}

	req := peer.requests[0]
	wantDigits := "00001"
	gotDigits := string(req[len(req)-5:])
	if gotDigits != wantDigits {
		t.Errorf("block number ASCII digits = %q, want %q", gotDigits, wantDigits)
	}
}

// TestGetPlcStatusMarkerError surfaces a CPU error when the marker byte
// isn't 0xFF.
func TestGetPlcStatusMarkerError(t *testing.T) {
	dataSection := make([]byte, 20)
	dataSection[4] = dataItemAddressError // marker != 0xFF
	resp := buildCannedUserDataResponse(0x00, dataSection)

	c, _ := newTestClient(t, [][]byte{resp})
	if _, err := c.GetPlcStatus(); err == nil {
		t.Fatal("GetPlcStatus: expected error for non-0xFF marker, got nil")
	}
}
