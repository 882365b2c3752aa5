package s7

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Function group bytes for the user-data sub-protocol (SZL lives in
// udataGroupCPU already; these cover the remaining control operations).
const (
	udataGroupTime   = 0x07 // clock get/set
	udataGroupBlock  = 0x04 // block info (shares the CPU-functions group with SZL)
	udataGroupSec    = 0x02 // password set/clear
	udataGroupStatus = 0x04 // CPU status (shares the CPU-functions group with SZL/block info)

	udataSubClockRead     = 0x01
	udataSubClockSet      = 0x02
	udataSubBlockInfo     = 0x03
	udataSubPasswordSet   = 0x01
	udataSubPasswordClear = 0x02
	udataSubStatus        = 0x00

	// Data-section offsets (relative to the bare S7 payload) where each
	// "get"-style control response carries its decoded payload, past the
	// shared status word/marker checked by validateUserDataResponse.
	udataDateTimeOffset  = 27
	udataCPUStatusOffset = 37
	udataBlockInfoOffset = 35
)

// Plain job/ack-data control functions (run/stop), distinct from the
// user-data sub-protocol above.
const (
	s7FuncPLCControl = 0x28 // cold/hot start, mode carried in the parameter byte
	s7FuncPLCStop    = 0x29
)

const (
	plcControlModeHot  = 0x00
	plcControlModeCold = 0x01
)

// PLCColdStart requests a cold restart: the CPU clears retentive memory
// and non-retentive data before entering RUN.
func (c *Client) PLCColdStart() error {
	return c.plcControl(plcControlModeCold)
}

// PLCHotStart requests a hot restart: RUN resumes from the current process
// image without clearing memory.
func (c *Client) PLCHotStart() error {
	return c.plcControl(plcControlModeHot)
}

func (c *Client) plcControl(mode byte) error {
	return c.requests.do(func() error {
		req := buildPlainControlRequest(s7FuncPLCControl, []byte{mode})
		resp, err := c.requests.sendReceive(req)
		if err != nil {
			return err
		}
		return parsePlainControlResponse(resp)
	})
}

// PLCStop halts the CPU, leaving it in STOP.
func (c *Client) PLCStop() error {
	return c.requests.do(func() error {
		req := buildPlainControlRequest(s7FuncPLCStop, nil)
		resp, err := c.requests.sendReceive(req)
		if err != nil {
			return err
		}
		return parsePlainControlResponse(resp)
	})
}

// GetPlcStatus reports whether the CPU is in RUN, STOP, or an unknown
// state.
func (c *Client) GetPlcStatus() (CPUStatus, error) {
	var status CPUStatus
	err := c.requests.do(func() error {
		req := buildUserDataRequest(udataGroupStatus, udataSubStatus, 0, nil)
		resp, err := c.requests.sendReceive(req)
		if err != nil {
			return err
		}
		if _, err := validateUserDataResponse(resp, true); err != nil {
			return err
		}
		if len(resp) <= udataCPUStatusOffset {
			return fmt.Errorf("s7: status response too short")
		}
		switch CPUStatus(resp[udataCPUStatusOffset]) {
		case CPUStatusStop:
			status = CPUStatusStop
		case CPUStatusRun:
			status = CPUStatusRun
		default:
			status = CPUStatusUnknown
		}
		return nil
	})
	return status, err
}

// CPUStatus is the run/stop/unknown status reported by GetPlcStatus.
type CPUStatus byte

const (
	CPUStatusUnknown CPUStatus = 0x00
	CPUStatusRun     CPUStatus = 0x08
	CPUStatusStop    CPUStatus = 0x04
)

func (s CPUStatus) String() string {
	switch s {
	case CPUStatusRun:
		return "Run"
	case CPUStatusStop:
		return "Stop"
	default:
		return "Unknown"
	}
}

// buildPlainControlRequest builds a job-type request carrying a single
// opaque parameter blob, reusing the same 10-byte header as read/write.
func buildPlainControlRequest(function byte, param []byte) []byte {
	paramLen := 1 + len(param)
	header := []byte{
		s7ProtocolID,
		s7MsgJob,
		0x00, 0x00,
		0x00, 0x00,
		byte(paramLen >> 8), byte(paramLen),
		0x00, 0x00,
	}
	params := append([]byte{function}, param...)
	return append(header, params...)
}

// parsePlainControlResponse validates a job/ack-data control response
// carrying no payload beyond the shared 12-byte header.
func parsePlainControlResponse(resp []byte) error {
	if len(resp) < 12 {
		return fmt.Errorf("s7: control response too short")
	}
	if resp[0] != s7ProtocolID || resp[1] != s7MsgAckData {
		return fmt.Errorf("s7: unexpected control response header")
	}
	if resp[10] != 0 || resp[11] != 0 {
		return S7Error{Class: resp[10], Code: resp[11]}
	}
	return nil
}

// GetPlcDateTime reads the CPU's real-time clock.
func (c *Client) GetPlcDateTime() (time.Time, error) {
	var t time.Time
	err := c.requests.do(func() error {
		req := buildUserDataRequest(udataGroupTime, udataSubClockRead, 0, nil)
		resp, err := c.requests.sendReceive(req)
		if err != nil {
			return err
		}
		if _, err := validateUserDataResponse(resp, true); err != nil {
			return err
		}
		if len(resp) < udataDateTimeOffset+9 {
			return fmt.Errorf("s7: clock response too short")
		}
		t = decodeDateTime(resp[udataDateTimeOffset:])
		return nil
	})
	return t, err
}

// SetPlcDateTime sets the CPU's real-time clock.
func (c *Client) SetPlcDateTime(t time.Time) error {
	return c.requests.do(func() error {
		req := buildUserDataRequest(udataGroupTime, udataSubClockSet, 0, encodeDateTime(t))
		resp, err := c.requests.sendReceive(req)
		if err != nil {
			return err
		}
		_, err = validateUserDataResponse(resp, false)
		return err
	})
}

// sessionPasswordLen is the fixed width of an S7 session password; shorter
// values are space-padded, longer ones truncated.
const sessionPasswordLen = 8

// encodeSessionPassword pads/truncates pw to 8 bytes and obscures it with
// the chained XOR S7 uses on the wire: the first two bytes XOR a fixed key,
// each later byte additionally XORs the already-encoded byte two positions
// back.
func encodeSessionPassword(pw string) []byte {
	buf := [sessionPasswordLen]byte{' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	copy(buf[:], pw)
	out := make([]byte, sessionPasswordLen)
	out[0] = buf[0] ^ 0x55
	out[1] = buf[1] ^ 0x55
	for c := 2; c < sessionPasswordLen; c++ {
		out[c] = buf[c] ^ 0x55 ^ out[c-2]
	}
	return out
}

// SetSessionPassword authenticates the session against the CPU's
// protection level using the given password.
func (c *Client) SetSessionPassword(password string) error {
	return c.requests.do(func() error {
		req := buildUserDataRequest(udataGroupSec, udataSubPasswordSet, 0, encodeSessionPassword(password))
		resp, err := c.requests.sendReceive(req)
		if err != nil {
			return err
		}
		_, err = validateUserDataResponse(resp, false)
		return err
	})
}

// ClearSessionPassword drops the session's elevated access level.
func (c *Client) ClearSessionPassword() error {
	return c.requests.do(func() error {
		req := buildUserDataRequest(udataGroupSec, udataSubPasswordClear, 0, nil)
		resp, err := c.requests.sendReceive(req)
		if err != nil {
			return err
		}
		_, err = validateUserDataResponse(resp, false)
		return err
	})
}

// BlockInfo describes a program block's metadata as reported by
// GetAGBlockInfo.
type BlockInfo struct {
	BlockType   byte
	BlockNumber int
	Length      int
	LoadSize    int
	Author      string
}

// GetAGBlockInfo fetches metadata for a single block (OB/DB/FC/FB/SFC/SFB)
// identified by blockType and blockNumber.
func (c *Client) GetAGBlockInfo(blockType byte, blockNumber int) (*BlockInfo, error) {
	var info *BlockInfo
	err := c.requests.do(func() error {
		// payload[0] is a reserved byte so the block type lands at its
		// documented wire position, one past the data-section header.
		payload := append([]byte{0x00, blockType}, []byte(fmt.Sprintf("%05d", blockNumber))...)
		req := buildUserDataRequest(udataGroupBlock, udataSubBlockInfo, 0, payload)
		resp, err := c.requests.sendReceive(req)
		if err != nil {
			return err
		}
		if _, err := validateUserDataResponse(resp, true); err != nil {
			return err
		}
		if len(resp) < udataBlockInfoOffset+4 {
			return fmt.Errorf("s7: block info response too short")
		}
		data := resp[udataBlockInfoOffset:]
		info = &BlockInfo{
			BlockType:   blockType,
			BlockNumber: blockNumber,
			Length:      int(binary.BigEndian.Uint16(data[0:2])),
			LoadSize:    int(binary.BigEndian.Uint16(data[2:4])),
			Author:      string(data[4:]),
		}
		return nil
	})
	return info, err
}

// IsoExchange sends a raw, caller-supplied ISO-on-TCP payload and returns
// the PLC's raw reply, bypassing S7 PDU interpretation entirely. It exists
// for passthrough use cases (vendor-specific function codes this client
// doesn't model) and must not be called concurrently with any other
// operation on the same Client.
func (c *Client) IsoExchange(payload []byte) ([]byte, error) {
	var resp []byte
	err := c.requests.do(func() error {
		r, err := c.requests.t.sendReceive(payload)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}
