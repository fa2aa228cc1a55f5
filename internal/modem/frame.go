// Package modem implements the inbound side of the bridge: a bank of TCP
// listeners that accept dial-in "modem" devices and answer their Modbus/TCP
// queries from the tag store.
package modem

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nexus-edge/fieldbridge/internal/domain"
)

// Modbus function codes handled on the inbound path.
const fcReadHoldingRegisters = 0x03

// maxPDULength bounds the MBAP length field; anything larger is not a Modbus
// frame and the stream cannot be re-synchronized.
const maxPDULength = 260

// request is one parsed Modbus/TCP ADU from a modem session.
type request struct {
	TransactionID uint16
	UnitID        uint8
	Function      uint8
	Payload       []byte
}

// readRequest reads a single MBAP-framed request from the stream. The unit
// id is a plain u8 at offset 6. Frames with a non-zero protocol id are
// rejected with ErrProtocol after their PDU is consumed, so the stream stays
// framed. A length field outside [2, maxPDULength], which includes an empty
// PDU, is also rejected with ErrProtocol, without reading any PDU bytes.
func readRequest(r io.Reader) (*request, error) {
	var header [7]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	protocolID := binary.BigEndian.Uint16(header[2:4])
	length := binary.BigEndian.Uint16(header[4:6])

	if length < 2 || length > maxPDULength {
		// Cannot trust the framing anymore.
		return nil, fmt.Errorf("%w: implausible length %d", domain.ErrProtocol, length)
	}

	// length counts the unit id byte plus the PDU.
	pdu := make([]byte, length-1)
	if _, err := io.ReadFull(r, pdu); err != nil {
		return nil, err
	}

	if protocolID != 0 {
		return nil, fmt.Errorf("%w: protocol id %d", domain.ErrProtocol, protocolID)
	}

	return &request{
		TransactionID: binary.BigEndian.Uint16(header[0:2]),
		UnitID:        header[6],
		Function:      pdu[0],
		Payload:       pdu[1:],
	}, nil
}

// respond builds a Modbus/TCP read response ADU. The MBAP length field is
// 1 (unit id) + 1 (function) + 1 (byte count) + len(data).
func respond(req *request, data []byte) []byte {
	out := make([]byte, 9+len(data))
	binary.BigEndian.PutUint16(out[0:2], req.TransactionID)
	binary.BigEndian.PutUint16(out[2:4], 0)
	binary.BigEndian.PutUint16(out[4:6], uint16(3+len(data)))
	out[6] = req.UnitID
	out[7] = req.Function
	out[8] = byte(len(data))
	copy(out[9:], data)
	return out
}
