package s7

import (
	"fmt"
	"sync/atomic"
)

// requestEngine sequences PDU references and enforces the single-in-flight
// contract on top of a transport. An S7 connection services one request at
// a time; callers issuing concurrent requests on the same Client receive an
// immediate error rather than silently queuing, matching the PLC's own
// single-threaded session semantics.
type requestEngine struct {
	t       *transport
	pduRef  uint32
	inFlight int32
}

func newRequestEngine(t *transport) *requestEngine {
	return &requestEngine{t: t}
}

// nextPDURef returns the next PDU reference, wrapping at 16 bits.
func (r *requestEngine) nextPDURef() uint16 {
	return uint16(atomic.AddUint32(&r.pduRef, 1))
}

// do runs fn while holding the single-in-flight slot, returning an error
// immediately if another request is already outstanding on this client.
func (r *requestEngine) do(fn func() error) error {
	if !atomic.CompareAndSwapInt32(&r.inFlight, 0, 1) {
		return fmt.Errorf("s7: request already in progress on this connection")
	}
	defer atomic.StoreInt32(&r.inFlight, 0)
	return fn()
}

// sendReceive patches the PDU reference into req at the S7-header offset
// (bytes 4-5 of the bare S7 payload: protocol id, message type, reserved,
// then the 2-byte PDU reference) and round-trips it through the transport.
func (r *requestEngine) sendReceive(req []byte) ([]byte, error) {
	if len(req) < 6 {
		return nil, fmt.Errorf("s7: request too short")
	}
	ref := r.nextPDURef()
	req[4] = byte(ref >> 8)
	req[5] = byte(ref)
	return r.t.sendReceive(req)
}
