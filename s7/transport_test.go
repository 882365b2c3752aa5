package s7

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

// fakePLC is a scripted ISO-on-TCP peer used to exercise sendReceive without
// a real PLC on the other end. For each entry in script it reads one
// TPKT+COTP-framed request, records the bare S7 payload, and replies with
// the entry wrapped in a COTP DT header and TPKT framing.
type fakePLC struct {
	requests [][]byte
}

func newTestTransport(t *testing.T, script [][]byte) (*transport, *fakePLC) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	peer := &fakePLC{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer serverConn.Close()
		for _, reply := range script {
			req, err := readFakeTPKT(serverConn)
			if err != nil {
				return
			}
			if len(req) < 3 {
				return
			}
			peer.requests = append(peer.requests, append([]byte(nil), req[3:]...))
			cotp := []byte{0x02, cotpDT, 0x80}
			if err := writeFakeTPKT(serverConn, append(cotp, reply...)); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
		<-done
	})

	tr := newTransport()
	tr.conn = clientConn
	tr.connected = true
	tr.pduSize = defaultPDUSize
	tr.timeout = 5 * time.Second
	return tr, peer
}

func newTestClient(t *testing.T, script [][]byte) (*Client, *fakePLC) {
	t.Helper()
	tr, peer := newTestTransport(t, script)
	c := &Client{
		transport: tr,
		requests:  newRequestEngine(tr),
		connected: true,
	}
	return c, peer
}

func writeFakeTPKT(conn net.Conn, data []byte) error {
	length := len(data) + tpktHeaderSize
	header := []byte{tpktVersion, 0x00, byte(length >> 8), byte(length)}
	_, err := conn.Write(append(header, data...))
	return err
}

func readFakeTPKT(conn net.Conn) ([]byte, error) {
	header := make([]byte, tpktHeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(header[2:4]))
	payload := make([]byte, length-tpktHeaderSize)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// TestTSAPDerivation pins the remote TSAP encoding: (connType<<8) |
// (rack*0x20 + slot), as two big-endian bytes.
func TestTSAPDerivation(t *testing.T) {
	tests := []struct {
		connType ConnectionType
		rack     int
		slot     int
	}{
		{ConnTypePG, 0, 0},
		{ConnTypePG, 0, 2},
		{ConnTypeOP, 1, 3},
		{ConnTypeS7Basic, 15, 31},
	}
	for _, tt := range tests {
		tr := newTransport()
		tr.rack = tt.rack
		tr.slot = tt.slot
		tr.connType = tt.connType

		dstTSAP := []byte{byte(tr.connType), byte(tr.rack<<5 | tr.slot)}
		want := uint16(tt.connType)<<8 | uint16(tt.rack*0x20+tt.slot)
		got := binary.BigEndian.Uint16(dstTSAP)
		if got != want {
			t.Errorf("connType=%d rack=%d slot=%d: TSAP = 0x%04X, want 0x%04X",
				tt.connType, tt.rack, tt.slot, got, want)
		}
	}
}

// TestConnectionTypeDefaultsToPG checks that a freshly constructed transport
// presents PG in the COTP handshake unless overridden.
func TestConnectionTypeDefaultsToPG(t *testing.T) {
	tr := newTransport()
	if tr.connType != ConnTypePG {
		t.Errorf("default connType = %v, want ConnTypePG", tr.connType)
	}
}

// TestSetupCommNegotiatesPDUSize exercises the connect/negotiate path:
// sendReceive round-trips the Setup Communication request and the returned
// PDU size is parsed out of the canned response.
func TestSetupCommNegotiatesPDUSize(t *testing.T) {
	const negotiatedPDU = 240
	resp := buildCannedSetupCommResponse(negotiatedPDU)

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer serverConn.Close()
		if _, err := readFakeTPKT(serverConn); err != nil {
			return
		}
		cotp := []byte{0x02, cotpDT, 0x80}
		writeFakeTPKT(serverConn, append(cotp, resp...))
	}()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
		<-done
	})

	tr := newTransport()
	tr.conn = clientConn
	tr.timeout = 5 * time.Second

	pduSize, err := tr.s7SetupComm()
	if err != nil {
		t.Fatalf("s7SetupComm: %v", err)
	}
	if pduSize != negotiatedPDU {
		t.Errorf("negotiated PDU size = %d, want %d", pduSize, negotiatedPDU)
	}
}

func buildCannedSetupCommResponse(pduSize uint16) []byte {
	paramLen := 8
	resp := []byte{
		s7ProtocolID, s7MsgAckData,
		0x00, 0x00,
		0x00, 0x00,
		byte(paramLen >> 8), byte(paramLen),
		0x00, 0x00,
		0x00, 0x00, // error class/code
	}
	resp = append(resp,
		s7FuncSetupComm,
		0x00,
		0x00, 0x01,
		0x00, 0x01,
		byte(pduSize>>8), byte(pduSize),
	)
	return resp
}
