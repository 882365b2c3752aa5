package s7

import (
	"encoding/binary"
	"fmt"
)

// maxMultiVarItems is the protocol-imposed cap on items per multi-variable
// read or write telegram.
const maxMultiVarItems = 20

// ReadMultiVars reads up to maxMultiVarItems addresses in a single
// telegram, returning one byte slice and one error per address in request
// order. A per-item error (e.g. address does not exist) does not fail the
// other items in the batch.
func (c *Client) ReadMultiVars(addrs []*Address) ([][]byte, []error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	if len(addrs) > maxMultiVarItems {
		err := fmt.Errorf("s7: too many items in one request: %d (max %d)", len(addrs), maxMultiVarItems)
		errs := make([]error, len(addrs))
		for i := range errs {
			errs[i] = err
		}
		return make([][]byte, len(addrs)), errs
	}

	var results [][]byte
	var errs []error
	err := c.requests.do(func() error {
		req := buildReadRequest(addrs, 0)
		resp, sendErr := c.requests.sendReceive(req)
		if sendErr != nil {
			return sendErr
		}
		results, errs = parseReadResponse(resp, len(addrs))
		return nil
	})
	if err != nil {
		errs = make([]error, len(addrs))
		for i := range errs {
			errs[i] = err
		}
		return make([][]byte, len(addrs)), errs
	}
	return results, errs
}

// WriteMultiVars writes up to maxMultiVarItems (address, data) pairs in a
// single telegram, returning one error per item in request order (nil on
// success).
func (c *Client) WriteMultiVars(addrs []*Address, datas [][]byte) []error {
	if len(addrs) != len(datas) {
		return []error{fmt.Errorf("s7: address/data count mismatch: %d vs %d", len(addrs), len(datas))}
	}
	if len(addrs) == 0 {
		return nil
	}
	if len(addrs) > maxMultiVarItems {
		err := fmt.Errorf("s7: too many items in one request: %d (max %d)", len(addrs), maxMultiVarItems)
		errs := make([]error, len(addrs))
		for i := range errs {
			errs[i] = err
		}
		return errs
	}

	var errs []error
	err := c.requests.do(func() error {
		req := buildMultiWriteRequest(addrs, datas, 0)
		resp, sendErr := c.requests.sendReceive(req)
		if sendErr != nil {
			return sendErr
		}
		errs = parseMultiWriteResponse(resp, len(addrs))
		return nil
	})
	if err != nil {
		errs = make([]error, len(addrs))
		for i := range errs {
			errs[i] = err
		}
	}
	return errs
}

// buildMultiWriteRequest builds a write-variable request carrying multiple
// items: a 10-byte S7 header, the function and item count, one 12-byte item spec
// per address, then one data block per address (return-code placeholder,
// transport size, bit/byte length, payload, padded to an even length).
func buildMultiWriteRequest(addrs []*Address, datas [][]byte, pduRef uint16) []byte {
	itemCount := len(addrs)
	paramLen := 2 + itemCount*12

	var dataSection []byte
	for i, addr := range addrs {
		writeData := datas[i]
		transportTag := getTransportSize(addr.DataType, addr.BitNum >= 0)
		bitLen := len(writeData) * 8
		if addr.BitNum >= 0 {
			bitLen = 1
		}
		dataSection = append(dataSection,
			0x00,                              // return code placeholder
			transportTag,                      // transport size
			byte(bitLen>>8), byte(bitLen),     // length
		)
		dataSection = append(dataSection, writeData...)
		if i < itemCount-1 && len(writeData)%2 == 1 {
			dataSection = append(dataSection, 0x00) // pad to even, except last item
		}
	}
	dataLen := len(dataSection)

	header := []byte{
		s7ProtocolID,
		s7MsgJob,
		0x00, 0x00,
		byte(pduRef >> 8), byte(pduRef),
		byte(paramLen >> 8), byte(paramLen),
		byte(dataLen >> 8), byte(dataLen),
	}

	params := []byte{s7FuncWrite, byte(itemCount)}
	for _, addr := range addrs {
		params = append(params, addressToS7Any(addr)...)
	}

	result := append(header, params...)
	result = append(result, dataSection...)
	return result
}

// parseMultiWriteResponse parses a multi-item write-variable response:
// a 12-byte ACK header, function + item count, then one result byte per
// item (0xFF on success).
func parseMultiWriteResponse(data []byte, count int) []error {
	errs := make([]error, count)

	if len(data) < 12 {
		err := fmt.Errorf("s7: write response too short")
		for i := range errs {
			errs[i] = err
		}
		return errs
	}
	if data[0] != s7ProtocolID || data[1] != s7MsgAckData {
		err := fmt.Errorf("s7: unexpected write response header")
		for i := range errs {
			errs[i] = err
		}
		return errs
	}
	if data[10] != 0 || data[11] != 0 {
		err := S7Error{Class: data[10], Code: data[11]}
		for i := range errs {
			errs[i] = err
		}
		return errs
	}

	paramLen := int(binary.BigEndian.Uint16(data[6:8]))
	_ = paramLen
	itemsAt := 12
	if itemsAt+2 > len(data) {
		err := fmt.Errorf("s7: write response missing item count")
		for i := range errs {
			errs[i] = err
		}
		return errs
	}
	itemStart := itemsAt + 2 // skip function code + item count byte
	for i := 0; i < count; i++ {
		pos := itemStart + i
		if pos >= len(data) {
			errs[i] = fmt.Errorf("s7: write response truncated (item %d of %d)", i+1, count)
			continue
		}
		rc := data[pos]
		if rc != dataItemSuccess {
			errs[i] = fmt.Errorf("%s", dataItemError(rc))
		}
	}
	return errs
}
