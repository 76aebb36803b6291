package protocols

import (
	"encoding/binary"
	"fmt"

	"github.com/rus-cert/dnslogger-forward-go/internal/checksum"
)

// UDPInfo carries the transport-layer header fields needed by the rest of
// the pipeline.
type UDPInfo struct {
	SourcePort      uint16
	DestinationPort uint16
}

// UDPErrorKind enumerates the ways a UDP header can fail validation.
type UDPErrorKind uint8

const (
	UDPErrorHeaderTruncated UDPErrorKind = iota
	UDPErrorHeaderTooShort
	UDPErrorChecksumMismatch
	UDPErrorPayloadTruncated
)

// UDPError reports why UDP header validation failed. IndicatedLength and
// AvailableLength are only meaningful for the kinds that reference them.
type UDPError struct {
	Kind            UDPErrorKind
	IndicatedLength int
	AvailableLength int
}

func (e *UDPError) Error() string {
	switch e.Kind {
	case UDPErrorHeaderTruncated:
		return "truncated UDP header"
	case UDPErrorHeaderTooShort:
		return fmt.Sprintf("UDP total length smaller than header, indicated total length is %d, header is 8 bytes long", e.IndicatedLength)
	case UDPErrorChecksumMismatch:
		return "UDP checksum mismatch"
	case UDPErrorPayloadTruncated:
		return fmt.Sprintf("truncated UDP packet, UDP length %d, available %d", e.IndicatedLength, e.AvailableLength)
	default:
		return fmt.Sprintf(unknownFmt, uint8(e.Kind))
	}
}

// CheckUDP validates and decodes the UDP header at the start of udpPayload,
// returning the parsed UDPInfo and the DNS payload that follows it.
//
// The UDP Length field is trusted over the slice length when it is
// shorter, trimming ipInfo/udpPayload is over-captured link-layer padding.
// A zero UDP Length field is accepted only when ipInfo.Jumbo is set, in
// which case the whole remainder is the datagram. A zero UDP checksum skips
// verification on IPv4 only (RFC 768); every other case, IPv6 jumbograms
// included, must satisfy the pseudo-header checksum.
func CheckUDP(family IPFamily, ipInfo IPInfo, ipPayload []byte, udpPayload []byte) (UDPInfo, []byte, error) {
	if len(udpPayload) < 8 {
		return UDPInfo{}, nil, &UDPError{Kind: UDPErrorHeaderTruncated}
	}

	udpLength := int(binary.BigEndian.Uint16(udpPayload[4:6]))
	switch {
	case udpLength == 0:
		if !ipInfo.Jumbo {
			return UDPInfo{}, nil, &UDPError{Kind: UDPErrorHeaderTooShort, IndicatedLength: udpLength}
		}
	case udpLength < 8:
		return UDPInfo{}, nil, &UDPError{Kind: UDPErrorHeaderTooShort, IndicatedLength: udpLength}
	case udpLength > len(udpPayload):
		return UDPInfo{}, nil, &UDPError{Kind: UDPErrorPayloadTruncated, IndicatedLength: udpLength, AvailableLength: len(udpPayload)}
	default:
		udpPayload = udpPayload[0:udpLength]
	}

	wireChecksum := binary.BigEndian.Uint16(udpPayload[6:8])
	if family != IPFamilyV4 || wireChecksum != 0 {
		var c checksum.Checksum
		pseudoHeaderChecksum(family, ipPayload, len(udpPayload), &c)
		c.Add(udpPayload)
		if !c.Verify() {
			return UDPInfo{}, nil, &UDPError{Kind: UDPErrorChecksumMismatch}
		}
	}

	info := UDPInfo{
		SourcePort:      binary.BigEndian.Uint16(udpPayload[0:2]),
		DestinationPort: binary.BigEndian.Uint16(udpPayload[2:4]),
	}
	return info, udpPayload[8:], nil
}
