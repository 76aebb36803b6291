package protocols

import (
	"encoding/binary"
	"fmt"
)

// DNSType distinguishes a DNS query from a DNS response, per the QR bit.
type DNSType uint8

const (
	DNSTypeQuery DNSType = iota
	DNSTypeResponse
)

func (t DNSType) String() string {
	switch t {
	case DNSTypeQuery:
		return "query"
	case DNSTypeResponse:
		return "response"
	default:
		return fmt.Sprintf(unknownFmt, uint8(t))
	}
}

// Opcode values from the DNS header (RFC 1035 Section 4.1.1).
const (
	OpcodeQuery  = 0
	OpcodeIQuery = 1
	OpcodeStatus = 2
)

// Rcode values from the DNS header (RFC 1035 Section 4.1.1).
const (
	RcodeSuccess        = 0
	RcodeFormatError    = 1
	RcodeServerFailure  = 2
	RcodeNameError      = 3
	RcodeNotImplemented = 4
	RcodeRefused        = 5
)

// DNSInfo is the decoded fixed 12-byte DNS message header.
type DNSInfo struct {
	ID                   uint16
	QR                   DNSType
	Opcode               uint8
	AuthoritativeAnswer  bool
	Truncation           bool
	RecursionDesired     bool
	RecursionAvailable   bool
	Rcode                uint8
	QDCount              uint16
	ANCount              uint16
	NSCount              uint16
	ARCount              uint16
}

// DecodeHeader decodes the fixed DNS header from the start of udpPayload.
// It fails only when udpPayload is shorter than the 12-byte header.
func DecodeHeader(udpPayload []byte) (DNSInfo, bool) {
	if len(udpPayload) < 12 {
		return DNSInfo{}, false
	}

	packed := binary.BigEndian.Uint16(udpPayload[2:4])
	info := DNSInfo{
		ID:                  binary.BigEndian.Uint16(udpPayload[0:2]),
		Opcode:              uint8(packed>>11) & 0xf,
		AuthoritativeAnswer: packed&0x0400 != 0,
		Truncation:          packed&0x0200 != 0,
		RecursionDesired:    packed&0x0100 != 0,
		RecursionAvailable:  packed&0x0080 != 0,
		Rcode:               uint8(packed & 0xf),
		QDCount:             binary.BigEndian.Uint16(udpPayload[4:6]),
		ANCount:             binary.BigEndian.Uint16(udpPayload[6:8]),
		NSCount:             binary.BigEndian.Uint16(udpPayload[8:10]),
		ARCount:             binary.BigEndian.Uint16(udpPayload[10:12]),
	}
	if packed&0x8000 == 0 {
		info.QR = DNSTypeQuery
	} else {
		info.QR = DNSTypeResponse
	}
	return info, true
}

// DNSParseErrorKind enumerates the ways the best-effort section walker can
// fail outright, as opposed to simply running out of data on a truncated
// message.
type DNSParseErrorKind uint8

const (
	DNSParseInvalidLengthOctetInName DNSParseErrorKind = iota
	DNSParseNameTooLong
	DNSParseInvalidCompressedName
	DNSParseUnexpectedEndOfData
)

func (k DNSParseErrorKind) String() string {
	switch k {
	case DNSParseInvalidLengthOctetInName:
		return "invalid length octet in name"
	case DNSParseNameTooLong:
		return "name too long"
	case DNSParseInvalidCompressedName:
		return "invalid compressed name"
	case DNSParseUnexpectedEndOfData:
		return "unexpected end of data"
	default:
		return fmt.Sprintf(unknownFmt, uint8(k))
	}
}

// DNSParseError reports why the section walker could not find the length
// of a name or resource record.
type DNSParseError struct {
	Kind DNSParseErrorKind
}

func (e *DNSParseError) Error() string {
	return e.Kind.String()
}

func isUnexpectedEndOfData(err error) bool {
	var e *DNSParseError
	switch v := err.(type) {
	case *DNSParseError:
		e = v
	default:
		return false
	}
	return e.Kind == DNSParseUnexpectedEndOfData
}

// nameLength returns the length, in bytes, of the domain name encoded at
// the start of buf: either up to and including the terminating zero
// length octet, or the two bytes of a compression pointer. It does not
// follow compression pointers; DNS message compression always points
// backward, so a pointer's target is never walked.
func nameLength(buf []byte) (int, error) {
	pos := 0
	for pos < len(buf) {
		switch {
		case buf[pos] == 0:
			return pos + 1, nil
		case buf[pos]&0xc0 == 0xc0:
			if pos+1 >= len(buf) {
				return 0, &DNSParseError{Kind: DNSParseUnexpectedEndOfData}
			}
			newPos := (int(buf[pos]&0x3f) << 8) | int(buf[pos+1])
			if newPos >= pos {
				return 0, &DNSParseError{Kind: DNSParseInvalidCompressedName}
			}
			return pos + 2, nil
		case buf[pos] < 64:
			pos += 1 + int(buf[pos])
			if pos >= 255 {
				return 0, &DNSParseError{Kind: DNSParseNameTooLong}
			}
		default:
			return 0, &DNSParseError{Kind: DNSParseInvalidLengthOctetInName}
		}
	}
	return 0, &DNSParseError{Kind: DNSParseUnexpectedEndOfData}
}

func questionLength(buf []byte) (int, error) {
	nameLen, err := nameLength(buf)
	if err != nil {
		return 0, err
	}
	// QTYPE (u16) + QCLASS (u16)
	if len(buf) < nameLen+4 {
		return 0, &DNSParseError{Kind: DNSParseUnexpectedEndOfData}
	}
	return nameLen + 4, nil
}

func rrLength(buf []byte) (int, error) {
	nameLen, err := nameLength(buf)
	if err != nil {
		return 0, err
	}
	// TYPE (u16) + CLASS (u16) + TTL (u32) + RDLENGTH (u16)
	if len(buf) < nameLen+10 {
		return 0, &DNSParseError{Kind: DNSParseUnexpectedEndOfData}
	}
	rdlength := int(binary.BigEndian.Uint16(buf[nameLen+8 : nameLen+10]))
	if len(buf) < nameLen+10+rdlength {
		return 0, &DNSParseError{Kind: DNSParseUnexpectedEndOfData}
	}
	return nameLen + 10 + rdlength, nil
}

// Sections records the end offset (exclusive, relative to the start of the
// DNS message) of each of the four DNS message sections, as found by
// DecodeSections. A nil field means the walker stopped before reaching
// that section, which only happens for a message with the Truncation bit
// set.
type Sections struct {
	Question   *int
	Answer     *int
	Authority  *int
	Additional *int
}

// DecodeSections performs a best-effort walk of the question, answer,
// authority and additional sections of a DNS message, recording the end
// offset of each. It is not required for forwarding decisions (the policy
// engine only inspects the fixed header counts and the QR/AA bits) and
// exists to let an event sink or future consumer inspect record boundaries
// without re-parsing the message.
//
// Each section's record count is its own field from info: question count
// for the question section, answer count for the answer section, and so
// on, rather than reusing one count across all four loops.
func DecodeSections(udpPayload []byte, info DNSInfo) (Sections, error) {
	pos := 12
	var result Sections

	advance := func(count uint16, length func([]byte) (int, error)) (bool, error) {
		for i := uint16(0); i < count; i++ {
			l, err := length(udpPayload[pos:])
			if err != nil {
				if isUnexpectedEndOfData(err) && info.Truncation {
					return false, nil
				}
				return false, err
			}
			pos += l
		}
		return true, nil
	}

	if ok, err := advance(info.QDCount, questionLength); err != nil {
		return result, err
	} else if !ok {
		return result, nil
	}
	q := pos
	result.Question = &q

	if ok, err := advance(info.ANCount, rrLength); err != nil {
		return result, err
	} else if !ok {
		return result, nil
	}
	a := pos
	result.Answer = &a

	if ok, err := advance(info.NSCount, rrLength); err != nil {
		return result, err
	} else if !ok {
		return result, nil
	}
	ns := pos
	result.Authority = &ns

	if ok, err := advance(info.ARCount, rrLength); err != nil {
		return result, err
	} else if !ok {
		return result, nil
	}
	ar := pos
	result.Additional = &ar

	return result, nil
}
