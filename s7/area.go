package s7

import "fmt"

// readOverhead and writeOverhead are the fixed byte costs of the S7
// read/write telegrams surrounding the raw data payload (TPKT+COTP+S7
// header+item spec+data header), reserved out of the negotiated PDU size
// so a single chunk's payload never causes the PLC to reject the telegram
// as oversized. The write telegram carries a larger item spec and data
// header than the read reply, hence the different overhead.
const (
	readOverhead  = 18
	writeOverhead = 35
)

// ReadArea reads count elements of dataType starting at the given byte
// offset within area (and dbNumber, for AreaDB), fragmenting the request
// into multiple PDU-sized round trips when the negotiated PDU size can't
// carry the whole request in one telegram. It returns the raw, concatenated
// element bytes in PLC (big-endian) order.
func (c *Client) ReadArea(area Area, dbNumber, offset int, dataType uint16, count int) ([]byte, error) {
	if count < 1 {
		count = 1
	}
	elemSize := dataTypeByteLen(dataType)
	total := elemSize * count

	pduSize := int(c.transport.getPDUSize())
	maxPayload := pduSize - readOverhead
	if maxPayload < elemSize {
		maxPayload = elemSize
	}
	maxElemsPerChunk := maxPayload / elemSize
	if maxElemsPerChunk < 1 {
		maxElemsPerChunk = 1
	}

	result := make([]byte, 0, total)
	remaining := count
	curOffset := offset
	for remaining > 0 {
		chunk := remaining
		if chunk > maxElemsPerChunk {
			chunk = maxElemsPerChunk
		}
		addr := &Address{
			Area:     area,
			DBNumber: dbNumber,
			Offset:   curOffset,
			BitNum:   -1,
			DataType: dataType,
			Size:     elemSize * chunk,
			Count:    chunk,
		}
		data, err := c.readOneItem(addr)
		if err != nil {
			return nil, fmt.Errorf("s7: read area %s offset %d: %w", area, curOffset, err)
		}
		result = append(result, data...)
		curOffset += elemSize * chunk
		remaining -= chunk
	}
	return result, nil
}

// WriteArea writes data (already encoded in PLC byte order) to count
// elements of dataType starting at offset within area, fragmenting across
// PDU-sized chunks exactly as ReadArea does.
func (c *Client) WriteArea(area Area, dbNumber, offset int, dataType uint16, data []byte) error {
	elemSize := dataTypeByteLen(dataType)
	if elemSize < 1 {
		elemSize = 1
	}
	if len(data)%elemSize != 0 {
		return fmt.Errorf("s7: write area: data length %d not a multiple of element size %d", len(data), elemSize)
	}
	count := len(data) / elemSize

	pduSize := int(c.transport.getPDUSize())
	maxPayload := pduSize - writeOverhead
	if maxPayload < elemSize {
		maxPayload = elemSize
	}
	maxElemsPerChunk := maxPayload / elemSize
	if maxElemsPerChunk < 1 {
		maxElemsPerChunk = 1
	}

	curOffset := offset
	pos := 0
	remaining := count
	for remaining > 0 {
		chunk := remaining
		if chunk > maxElemsPerChunk {
			chunk = maxElemsPerChunk
		}
		chunkBytes := chunk * elemSize
		addr := &Address{
			Area:     area,
			DBNumber: dbNumber,
			Offset:   curOffset,
			BitNum:   -1,
			DataType: dataType,
			Size:     chunkBytes,
			Count:    chunk,
		}
		if err := c.writeOneItem(addr, data[pos:pos+chunkBytes]); err != nil {
			return fmt.Errorf("s7: write area %s offset %d: %w", area, curOffset, err)
		}
		curOffset += chunkBytes
		pos += chunkBytes
		remaining -= chunk
	}
	return nil
}

// ReadBit reads a single bit at byte offset/bitNum within area.
func (c *Client) ReadBit(area Area, dbNumber, offset, bitNum int) (bool, error) {
	addr := &Address{
		Area:     area,
		DBNumber: dbNumber,
		Offset:   offset,
		BitNum:   bitNum,
		DataType: TypeBool,
		Size:     1,
		Count:    1,
	}
	data, err := c.readOneItem(addr)
	if err != nil {
		return false, err
	}
	return len(data) >= 1 && data[0] != 0, nil
}

// WriteBit writes a single bit at byte offset/bitNum within area.
func (c *Client) WriteBit(area Area, dbNumber, offset, bitNum int, value bool) error {
	addr := &Address{
		Area:     area,
		DBNumber: dbNumber,
		Offset:   offset,
		BitNum:   bitNum,
		DataType: TypeBool,
		Size:     1,
		Count:    1,
	}
	var b byte
	if value {
		b = 1
	}
	return c.writeOneItem(addr, []byte{b})
}

// readOneItem issues a single read-variable telegram for addr, which must
// already fit within one PDU.
func (c *Client) readOneItem(addr *Address) ([]byte, error) {
	var result []byte
	err := c.requests.do(func() error {
		req := buildReadRequest([]*Address{addr}, 0)
		resp, err := c.requests.sendReceive(req)
		if err != nil {
			return err
		}
		results, errs := parseReadResponse(resp, 1)
		if errs[0] != nil {
			return errs[0]
		}
		result = results[0]
		return nil
	})
	return result, err
}

// writeOneItem issues a single write-variable telegram for addr, which
// must already fit within one PDU.
func (c *Client) writeOneItem(addr *Address, data []byte) error {
	return c.requests.do(func() error {
		req := buildWriteRequest(addr, data, 0)
		resp, err := c.requests.sendReceive(req)
		if err != nil {
			return err
		}
		return parseWriteResponse(resp)
	})
}

// dataTypeByteLen returns the wire byte length of one scalar element of t,
// defaulting to 1 for variable-length string types (callers size those
// explicitly via Address.Size).
func dataTypeByteLen(t uint16) int {
	n := TypeSize(BaseType(t))
	if n == 0 {
		return 1
	}
	return n
}
