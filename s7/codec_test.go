package s7

import (
	"testing"
	"time"
)

func TestBCDDateTimeCentury(t *testing.T) {
	tests := []struct {
		year     int
		wantHi   byte
		wantLo   byte
	}{
		{2017, 0x20, 0x17},
		{1989, 0x19, 0x89},
	}
	for _, tt := range tests {
		tm := time.Date(tt.year, time.March, 4, 5, 6, 7, 0, time.Local)
		buf := encodeDateTime(tm)
		if buf[0] != tt.wantHi || buf[1] != tt.wantLo {
			t.Errorf("encodeDateTime(%d) year bytes = 0x%02X 0x%02X, want 0x%02X 0x%02X",
				tt.year, buf[0], buf[1], tt.wantHi, tt.wantLo)
		}
		decoded := decodeDateTime(buf)
		if decoded.Year() != tt.year {
			t.Errorf("decodeDateTime round-trip year = %d, want %d", decoded.Year(), tt.year)
		}
		if decoded.Month() != time.March || decoded.Day() != 4 {
			t.Errorf("decodeDateTime round-trip month/day = %v/%d, want March/4", decoded.Month(), decoded.Day())
		}
	}
}

func TestThreeByteAddress(t *testing.T) {
	buf := make([]byte, 3)
	put3ByteAddr(buf, 0, 0x123456)
	want := []byte{0x12, 0x34, 0x56}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("put3ByteAddr(0x123456) = % X, want % X", buf, want)
		}
	}
	if got := get3ByteAddr(buf, 0); got != 0x123456 {
		t.Errorf("get3ByteAddr round-trip = 0x%06X, want 0x123456", got)
	}
}

func TestBCDConversion(t *testing.T) {
	for v := 0; v <= 99; v++ {
		b := decimalToBCD(v)
		if got := bcdToDecimal(b); got != v {
			t.Errorf("bcdToDecimal(decimalToBCD(%d)) = %d", v, got)
		}
	}
}

// TestSessionPasswordChain pins down the chained-XOR obfuscation S7 uses for
// session passwords. For an empty password (padded to eight spaces) the
// first two bytes XOR the fixed key 0x55; every later byte additionally
// folds in the already-encoded byte two positions back.
func TestSessionPasswordChain(t *testing.T) {
	got := encodeSessionPassword("")
	want := []byte{0x75, 0x75, 0x00, 0x00, 0x75, 0x75, 0x00, 0x00}
	if len(got) != len(want) {
		t.Fatalf("encodeSessionPassword(\"\") length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("encodeSessionPassword(\"\")[%d] = 0x%02X, want 0x%02X", i, got[i], want[i])
		}
	}
}

func TestSessionPasswordPadsAndTruncates(t *testing.T) {
	short := encodeSessionPassword("ab")
	if len(short) != sessionPasswordLen {
		t.Fatalf("short password encoded length = %d, want %d", len(short), sessionPasswordLen)
	}
	long := encodeSessionPassword("123456789012")
	if len(long) != sessionPasswordLen {
		t.Fatalf("long password encoded length = %d, want %d", len(long), sessionPasswordLen)
	}
}
