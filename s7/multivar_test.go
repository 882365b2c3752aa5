package s7

import "testing"

// TestReadMultiVarsTooManyItems reproduces scenario: a multi-read of 21
// items (one over the protocol's 20-item cap) is rejected locally without
// any telegram being sent.
func TestReadMultiVarsTooManyItems(t *testing.T) {
	addrs := make([]*Address, 21)
	for i := range addrs {
		addrs[i] = &Address{Area: AreaM, Offset: i, BitNum: -1, DataType: TypeByte, Size: 1, Count: 1}
	}

	c, peer := newTestClient(t, nil)
	_, errs := c.ReadMultiVars(addrs)
	if len(errs) != 21 {
		t.Fatalf("got %d error slots, want 21", len(errs))
	}
	for i, err := range errs {
		if err == nil {
			t.Errorf("item %d: expected TOO_MANY_ITEMS error, got nil", i)
		}
	}
	if len(peer.requests) != 0 {
		t.Errorf("expected no telegram sent for an oversized batch, got %d", len(peer.requests))
	}
}

// TestWriteMultiVarsTooManyItems mirrors the read-side cap for writes.
func TestWriteMultiVarsTooManyItems(t *testing.T) {
	addrs := make([]*Address, 21)
	datas := make([][]byte, 21)
	for i := range addrs {
		addrs[i] = &Address{Area: AreaM, Offset: i, BitNum: -1, DataType: TypeByte, Size: 1, Count: 1}
		datas[i] = []byte{0x01}
	}

	c, peer := newTestClient(t, nil)
	errs := c.WriteMultiVars(addrs, datas)
	if len(errs) != 21 {
		t.Fatalf("got %d error slots, want 21", len(errs))
	}
	for i, err := range errs {
		if err == nil {
			t.Errorf("item %d: expected TOO_MANY_ITEMS error, got nil", i)
		}
	}
	if len(peer.requests) != 0 {
		t.Errorf("expected no telegram sent for an oversized batch, got %d", len(peer.requests))
	}
}

// TestReadMultiVarsAtLimit confirms exactly 20 items is still accepted and
// round-trips through a single telegram.
func TestReadMultiVarsAtLimit(t *testing.T) {
	addrs := make([]*Address, maxMultiVarItems)
	for i := range addrs {
		addrs[i] = &Address{Area: AreaM, Offset: i, BitNum: -1, DataType: TypeByte, Size: 1, Count: 1}
	}

	resp := buildCannedMultiReadResponse(maxMultiVarItems)
	c, peer := newTestClient(t, [][]byte{resp})

	results, errs := c.ReadMultiVars(addrs)
	if len(peer.requests) != 1 {
		t.Fatalf("sent %d telegrams, want 1", len(peer.requests))
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("item %d: unexpected error %v", i, err)
		}
	}
	if len(results) != maxMultiVarItems {
		t.Fatalf("got %d results, want %d", len(results), maxMultiVarItems)
	}
}

// buildCannedMultiReadResponse builds a read-variable response carrying n
// single-byte items, all successful.
func buildCannedMultiReadResponse(n int) []byte {
	paramLen := 2
	var dataSection []byte
	for i := 0; i < n; i++ {
		dataSection = append(dataSection, dataItemSuccess, 0x09, 0x00, 0x01, 0xAB)
		if i < n-1 {
			dataSection = append(dataSection, 0x00) // pad odd-length item to even, except last
		}
	}
	dataLen := len(dataSection)
	resp := []byte{
		s7ProtocolID, s7MsgAckData,
		0x00, 0x00,
		0x00, 0x00,
		byte(paramLen >> 8), byte(paramLen),
		byte(dataLen >> 8), byte(dataLen),
		0x00, 0x00,
	}
	resp = append(resp, s7FuncRead, byte(n))
	resp = append(resp, dataSection...)
	return resp
}
