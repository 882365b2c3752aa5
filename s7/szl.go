package s7

import (
	"encoding/binary"
	"fmt"
)

// SZL (System Status List) records are fetched as one or more pages; large
// lists span multiple telegrams chained by a continuation sequence number
// carried in the user-data parameter block. Paging state lives entirely in
// the wire fields below -- the client only remembers the sequence number
// the PLC handed back on the previous slice.

const (
	udataParamLen  = 0x04
	udataHead0     = 0x00
	udataHead1     = 0x01
	udataHead2     = 0x12
	udataMethodReq = 0x11
	udataMethodRes = 0x12
	udataGroupCPU  = 0x44
	udataSubSZL    = 0x01

	udataTransportOctet = 0x09 // length that follows is in bytes, not bits

	// Offsets below are relative to the bare S7 payload (protocol ID at 0),
	// inside the fixed 8-byte user-data parameter block (10-17) and the
	// 4-byte data-section header that follows it (18-21).
	udataSeqOffset    = 17 // continuation sequence number, out on requests / in on responses
	udataDoneOffset   = 19 // zero means the PLC has no more slices to send
	udataStatusOffset = 20 // 2-byte status word, must be zero for success
	udataMarkerOffset = 22 // 0xFF marks a successful read-type response

	szlDataSizeOffset  = 24 // 2-byte word: first slice carries size+8, later slices the raw size
	szlHeaderLenOffset = 30 // 2-byte word, record length, first slice only
	szlRecordCntOffset = 32 // 2-byte word, record count, first slice only
	szlFirstDataOffset = 34
	szlNextDataOffset  = 30
	szlFirstSizeAdjust = 8
)

// SZLRecord is one fixed-width record returned by a SZL fetch.
type SZLRecord struct {
	Index uint16
	Data  []byte
}

// ReadSZL fetches every record of the system status list identified by id
// (and sub-index, 0 for "all"), transparently paging through continuation
// telegrams until the PLC reports no more data.
func (c *Client) ReadSZL(id, index uint16) ([]SZLRecord, error) {
	var records []SZLRecord
	var recLen int
	seq := byte(0)
	first := true

	err := c.requests.do(func() error {
		for {
			var req []byte
			if first {
				req = buildSZLRequest(id, index, seq)
			} else {
				req = buildSZLNextRequest(seq)
			}
			resp, err := c.requests.sendReceive(req)
			if err != nil {
				return err
			}
			payload, recordLen, nextSeq, done, err := parseSZLResponse(resp, first)
			if err != nil {
				return err
			}
			if first {
				recLen = recordLen
				first = false
			}
			if recLen > 0 {
				for off := 0; off+recLen <= len(payload); off += recLen {
					rec := payload[off : off+recLen]
					records = append(records, SZLRecord{
						Index: binary.BigEndian.Uint16(rec[0:2]),
						Data:  append([]byte(nil), rec...),
					})
				}
			}
			if done {
				return nil
			}
			seq = nextSeq
		}
	})
	return records, err
}

// buildSZLRequest builds the first telegram of a SZL fetch, carrying the
// requested SZL-ID and sub-index as the user-data payload.
func buildSZLRequest(id, index uint16, seq byte) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], id)
	binary.BigEndian.PutUint16(payload[2:4], index)
	return buildUserDataRequest(udataGroupCPU, udataSubSZL, seq, payload)
}

// buildSZLNextRequest builds a continuation telegram for a paged SZL
// fetch, echoing the sequence number taken from the previous response.
func buildSZLNextRequest(seq byte) []byte {
	return buildUserDataRequest(udataGroupCPU, udataSubSZL, seq, nil)
}

// buildUserDataRequest assembles a user-data (function group 0x04, "CPU
// functions") request telegram: a 10-byte S7 header shared with job
// requests, an 8-byte parameter block identifying the sub-function and
// carrying the continuation sequence, and a data section holding payload
// (return-code placeholder, octet-string transport tag, byte length, then
// the payload itself).
func buildUserDataRequest(group, subFunc, seq byte, payload []byte) []byte {
	dataLen := 4 + len(payload)
	header := []byte{
		s7ProtocolID,
		s7MsgUserData,
		0x00, 0x00,
		0x00, 0x00, // PDU reference patched by requestEngine.sendReceive
		0x00, udataParamLen,
		byte(dataLen >> 8), byte(dataLen),
	}
	params := []byte{
		udataHead0, udataHead1, udataHead2,
		udataParamLen,
		udataMethodReq,
		group,
		subFunc,
		seq,
	}
	data := []byte{
		0x00, // return code placeholder
		udataTransportOctet,
		byte(len(payload) >> 8), byte(len(payload)),
	}
	data = append(data, payload...)

	result := append(header, params...)
	result = append(result, data...)
	return result
}

// validateUserDataResponse checks the shared header, parameter block, and
// status word of a user-data response, returning the continuation sequence
// number the PLC reported. When needMarker is true (every "get"-style
// operation) it additionally requires the data-section marker byte to read
// 0xFF; "set"-style acks carry no further payload and skip that check.
func validateUserDataResponse(resp []byte, needMarker bool) (seq byte, err error) {
	if len(resp) <= udataStatusOffset+1 {
		return 0, fmt.Errorf("s7: user-data response too short")
	}
	if resp[0] != s7ProtocolID || resp[1] != s7MsgUserData {
		return 0, fmt.Errorf("s7: unexpected user-data response header")
	}
	if resp[14] != udataMethodRes {
		return 0, fmt.Errorf("s7: unexpected user-data method 0x%02X", resp[14])
	}
	if resp[udataStatusOffset] != 0 || resp[udataStatusOffset+1] != 0 {
		return 0, S7Error{Class: resp[udataStatusOffset], Code: resp[udataStatusOffset+1]}
	}
	seq = resp[udataSeqOffset]
	if needMarker {
		if len(resp) <= udataMarkerOffset {
			return seq, fmt.Errorf("s7: user-data response too short")
		}
		if resp[udataMarkerOffset] != 0xFF {
			return seq, fmt.Errorf("%s", dataItemError(resp[udataMarkerOffset]))
		}
	}
	return seq, nil
}

// parseSZLResponse validates a SZL response and returns its data slice, the
// fixed record length (first slice's declared width), the sequence number
// to echo on the next request, and whether this was the final slice.
func parseSZLResponse(resp []byte, first bool) (payload []byte, recLen int, nextSeq byte, done bool, err error) {
	if len(resp) <= szlDataSizeOffset+1 {
		return nil, 0, 0, false, fmt.Errorf("s7: SZL response too short")
	}
	seq, err := validateUserDataResponse(resp, true)
	if err != nil {
		return nil, 0, seq, false, err
	}
	done = resp[udataDoneOffset] == 0
	size := int(binary.BigEndian.Uint16(resp[szlDataSizeOffset : szlDataSizeOffset+2]))

	if first {
		if len(resp) <= szlRecordCntOffset+1 {
			return nil, 0, seq, done, fmt.Errorf("s7: SZL response header truncated")
		}
		dataSZL := size - szlFirstSizeAdjust
		if dataSZL < 0 || len(resp) < szlFirstDataOffset+dataSZL {
			return nil, 0, seq, done, fmt.Errorf("s7: SZL response payload truncated")
		}
		recLen = int(binary.BigEndian.Uint16(resp[szlHeaderLenOffset : szlHeaderLenOffset+2]))
		return resp[szlFirstDataOffset : szlFirstDataOffset+dataSZL], recLen, seq, done, nil
	}

	if len(resp) < szlNextDataOffset+size {
		return nil, 0, seq, done, fmt.Errorf("s7: SZL response payload truncated")
	}
	return resp[szlNextDataOffset : szlNextDataOffset+size], 0, seq, done, nil
}
