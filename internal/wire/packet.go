// Package wire implements the framed, checksummed binary protocol spoken
// over the serial link between the hypervisor host and this agent.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	headerMagic = 0x02
	footerMagic = 0x03

	kindFieldSize  = 30
	idFieldSize    = 32
	reservedSize   = 16
	fragFieldSize  = 4
	lengthFieldSize = 4

	// HeaderSize is the sum of the individually specified header fields:
	// magic(1) + kind(30) + correlation_id(32) + fragment_index(4) +
	// fragment_count(4) + reserved(16) + body_length(4).
	HeaderSize = 1 + kindFieldSize + idFieldSize + fragFieldSize + fragFieldSize + reservedSize + lengthFieldSize
	// FooterSize is crc32(4) + magic(1).
	FooterSize = 4 + 1

	// CorrelationIDLen is the number of ASCII hex digits in a correlation id.
	CorrelationIDLen = idFieldSize
)

// Kind identifies the purpose of a Packet.
type Kind string

const (
	KindCommand      Kind = "COMMAND"
	KindAck          Kind = "ACK"
	KindReceived     Kind = "RECEIVED"
	KindAuthResponse Kind = "AUTHRESPONSE"
	KindResponse     Kind = "RESPONSE"
)

func (k Kind) valid() bool {
	switch k {
	case KindCommand, KindAck, KindReceived, KindAuthResponse, KindResponse:
		return true
	default:
		return false
	}
}

// ZeroCorrelationID is the all-zeros id used for idle keepalive ACKs.
const ZeroCorrelationID = "00000000000000000000000000000000"[:CorrelationIDLen]

// Packet is the atomic unit on the wire.
type Packet struct {
	Kind           Kind
	CorrelationID  string
	FragmentIndex  uint32
	FragmentCount  uint32
	Body           []byte
}

// Single reports whether p is a single, unfragmented packet.
func (p Packet) Single() bool {
	return p.FragmentCount == 1 && p.FragmentIndex == 1
}

func newPacket(kind Kind, correlationID string, index, count uint32, body []byte) Packet {
	return Packet{
		Kind:          kind,
		CorrelationID: correlationID,
		FragmentIndex: index,
		FragmentCount: count,
		Body:          body,
	}
}

// NewCommand builds a single-packet COMMAND.
func NewCommand(correlationID string, body []byte) Packet {
	return newPacket(KindCommand, correlationID, 1, 1, body)
}

// NewCommandFragment builds one fragment of a multi-packet COMMAND.
func NewCommandFragment(correlationID string, index, count uint32, body []byte) Packet {
	return newPacket(KindCommand, correlationID, index, count, body)
}

// NewAck builds an ACK, used both as a reply to an inbound ACK and as the
// periodic idle keepalive (with correlationID == ZeroCorrelationID).
func NewAck(correlationID string) Packet {
	return newPacket(KindAck, correlationID, 1, 1, nil)
}

// receivedSuccessBody and receivedTimeoutBody are the fixed XML bodies a
// RECEIVED carries: <responseType>Success</responseType> or ...TimeOut...,
// mirroring Packet.newWithRECEIVED's body in the original implementation.
var (
	receivedSuccessBody = []byte("<responseType>Success</responseType>")
	receivedTimeoutBody = []byte("<responseType>TimeOut</responseType>")
)

// NewReceived builds a RECEIVED fragment acknowledgement with a
// <responseType>Success</responseType> body (§4.3, §7).
func NewReceived(correlationID string, index, count uint32) Packet {
	return newPacket(KindReceived, correlationID, index, count, receivedSuccessBody)
}

// NewReceivedTimeout builds the RECEIVED emitted for a fragment stuck past
// the link's logic timeout, with a <responseType>TimeOut</responseType>
// body (§4.2 step 4, §4.3, §7).
func NewReceivedTimeout(correlationID string, index, count uint32) Packet {
	return newPacket(KindReceived, correlationID, index, count, receivedTimeoutBody)
}

// NewAuthResponse builds the handoff packet that asks the host to confirm
// delivery of a stored RESPONSE.
func NewAuthResponse(correlationID string) Packet {
	return newPacket(KindAuthResponse, correlationID, 1, 1, nil)
}

// NewResponse builds a single-packet RESPONSE.
func NewResponse(correlationID string, body []byte) Packet {
	return newPacket(KindResponse, correlationID, 1, 1, body)
}

// NewResponseFragment builds one fragment of a multi-packet RESPONSE.
func NewResponseFragment(correlationID string, index, count uint32, body []byte) Packet {
	return newPacket(KindResponse, correlationID, index, count, body)
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func validCorrelationID(s string) bool {
	if len(s) != CorrelationIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return false
		}
	}
	return true
}

// Encode serializes p into the wire's framed binary layout.
func Encode(p Packet) ([]byte, error) {
	if !p.Kind.valid() {
		return nil, fmt.Errorf("wire: encode: invalid kind %q", p.Kind)
	}
	if !validCorrelationID(p.CorrelationID) {
		return nil, fmt.Errorf("wire: encode: correlation id %q is not %d hex digits", p.CorrelationID, CorrelationIDLen)
	}
	if p.FragmentIndex > p.FragmentCount {
		return nil, fmt.Errorf("wire: encode: fragment index %d exceeds count %d", p.FragmentIndex, p.FragmentCount)
	}

	kindBuf := make([]byte, kindFieldSize)
	copy(kindBuf, p.Kind)

	buf := make([]byte, 0, HeaderSize+len(p.Body)+FooterSize)
	buf = append(buf, headerMagic)
	buf = append(buf, kindBuf...)
	buf = append(buf, []byte(p.CorrelationID)...)
	buf = binary.LittleEndian.AppendUint32(buf, p.FragmentIndex)
	buf = binary.LittleEndian.AppendUint32(buf, p.FragmentCount)
	buf = append(buf, make([]byte, reservedSize)...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.Body)))
	buf = append(buf, p.Body...)

	sum := crc32.ChecksumIEEE(buf)
	buf = binary.LittleEndian.AppendUint32(buf, sum)
	buf = append(buf, footerMagic)
	return buf, nil
}

// Decode parses a single complete frame from buf. buf must hold exactly one
// frame (header+body+footer); see the link package for extracting frames
// from a byte stream.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < HeaderSize+FooterSize {
		return Packet{}, fmt.Errorf("wire: decode: frame too short (%d bytes)", len(buf))
	}
	if buf[0] != headerMagic {
		return Packet{}, fmt.Errorf("wire: decode: invalid header: bad leading magic byte 0x%02x", buf[0])
	}

	kindEnd := bytes.IndexByte(buf[1:1+kindFieldSize], 0)
	if kindEnd < 0 {
		kindEnd = kindFieldSize
	}
	kind := Kind(buf[1 : 1+kindEnd])
	if !kind.valid() {
		return Packet{}, fmt.Errorf("wire: decode: invalid header: unknown kind %q", kind)
	}

	off := 1 + kindFieldSize
	correlationID := string(buf[off : off+idFieldSize])
	if !validCorrelationID(correlationID) {
		return Packet{}, fmt.Errorf("wire: decode: invalid header: correlation id %q is not hex", correlationID)
	}
	off += idFieldSize

	index := binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	count := binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	if index > count {
		return Packet{}, fmt.Errorf("wire: decode: invalid header: fragment index %d exceeds count %d", index, count)
	}

	off += reservedSize
	bodyLen := binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4

	if uint64(off)+uint64(bodyLen)+FooterSize != uint64(len(buf)) {
		return Packet{}, fmt.Errorf("wire: decode: frame length mismatch: header says body=%d, have %d trailing bytes", bodyLen, len(buf)-off)
	}

	body := buf[off : off+int(bodyLen)]
	off += int(bodyLen)

	gotCRC := binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	if buf[off] != footerMagic {
		return Packet{}, fmt.Errorf("wire: decode: invalid trailing magic byte 0x%02x", buf[off])
	}

	wantCRC := crc32.ChecksumIEEE(buf[:off-4])
	if gotCRC != wantCRC {
		return Packet{}, fmt.Errorf("wire: decode: crc mismatch: got 0x%08x want 0x%08x", gotCRC, wantCRC)
	}

	bodyCopy := make([]byte, len(body))
	copy(bodyCopy, body)

	return Packet{
		Kind:          kind,
		CorrelationID: correlationID,
		FragmentIndex: index,
		FragmentCount: count,
		Body:          bodyCopy,
	}, nil
}

// HeaderFields is the subset of header content the link reader needs before
// the full frame has arrived: enough to identify the stuck message if the
// body never completes (see ParseHeader).
type HeaderFields struct {
	Kind          Kind
	CorrelationID string
	FragmentIndex uint32
	FragmentCount uint32
	BodyLength    uint32
}

// ParseHeader validates and extracts the fields of a HeaderSize-byte header.
// It does not require the body or footer to be present yet.
func ParseHeader(header []byte) (HeaderFields, error) {
	if len(header) < HeaderSize {
		return HeaderFields{}, fmt.Errorf("wire: header too short (%d bytes)", len(header))
	}
	if header[0] != headerMagic {
		return HeaderFields{}, fmt.Errorf("wire: invalid header: bad leading magic byte 0x%02x", header[0])
	}
	kindEnd := bytes.IndexByte(header[1:1+kindFieldSize], 0)
	if kindEnd < 0 {
		kindEnd = kindFieldSize
	}
	kind := Kind(header[1 : 1+kindEnd])
	if !kind.valid() {
		return HeaderFields{}, fmt.Errorf("wire: invalid header: unknown kind %q", kind)
	}
	off := 1 + kindFieldSize
	correlationID := string(header[off : off+idFieldSize])
	if !validCorrelationID(correlationID) {
		return HeaderFields{}, fmt.Errorf("wire: invalid header: correlation id not hex")
	}
	off += idFieldSize
	index := binary.LittleEndian.Uint32(header[off : off+4])
	off += 4
	count := binary.LittleEndian.Uint32(header[off : off+4])
	off += 4
	if index > count {
		return HeaderFields{}, fmt.Errorf("wire: invalid header: fragment index %d exceeds count %d", index, count)
	}
	off += reservedSize
	bodyLen := binary.LittleEndian.Uint32(header[off : off+4])
	return HeaderFields{
		Kind:          kind,
		CorrelationID: correlationID,
		FragmentIndex: index,
		FragmentCount: count,
		BodyLength:    bodyLen,
	}, nil
}

// FrameLength reports the total on-wire length implied by a well-formed
// header read from buf (which must be at least HeaderSize bytes), or an
// error if the header itself is malformed. The link reader computes the
// same length from ParseHeader's BodyLength directly.
func FrameLength(header []byte) (int, error) {
	fields, err := ParseHeader(header)
	if err != nil {
		return 0, err
	}
	return HeaderSize + int(fields.BodyLength) + FooterSize, nil
}
