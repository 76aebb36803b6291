package protocols

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/rus-cert/dnslogger-forward-go/internal/checksum"
)

// IPFamily distinguishes the two network-layer protocols this package
// understands.
type IPFamily uint8

const (
	IPFamilyV4 IPFamily = iota
	IPFamilyV6
)

func (f IPFamily) String() string {
	switch f {
	case IPFamilyV4:
		return "IPv4"
	case IPFamilyV6:
		return "IPv6"
	default:
		return fmt.Sprintf(unknownFmt, uint8(f))
	}
}

// Fragment describes the IPv4/IPv6 fragmentation state of a packet, present
// only when the packet is part of a fragmented datagram.
type Fragment struct {
	// Offset is the fragment's byte offset within the reassembled datagram.
	Offset int
	// ID is the fragmentation identifier. IPv4 only populates the low
	// 16 bits.
	ID uint32
	// More reports whether additional fragments follow this one.
	More bool
}

// IPInfo carries the network-layer header fields needed by the rest of the
// pipeline. Protocol identifies the payload carried in the bytes returned
// alongside IPInfo: for IPv6 it is the first "terminal" next-header value
// encountered after walking any extension header chain.
type IPInfo struct {
	Source      netip.Addr
	Destination netip.Addr
	Fragment    *Fragment
	Protocol    uint8
	// Jumbo reports that the payload length came from an IPv6 Hop-by-Hop
	// Jumbo Payload option rather than the fixed header field.
	Jumbo bool
}

// String renders an IPInfo the way diagnostic trace messages need it:
// "source -> destination[: jumbo][: fragment offset N]: protocol XX".
func (info IPInfo) String() string {
	return fmt.Sprintf("%s -> %s%s%s: protocol %02X",
		info.Source, info.Destination, info.jumboSuffix(), info.fragmentSuffix(), info.Protocol)
}

// FormatPorts renders an IPInfo together with transport-layer ports, in
// the "[source]:port -> [destination]:port" trace format.
func (info IPInfo) FormatPorts(sourcePort, destPort uint16) string {
	return fmt.Sprintf("[%s]:%d -> [%s]:%d%s%s: protocol %02X",
		info.Source, sourcePort, info.Destination, destPort, info.jumboSuffix(), info.fragmentSuffix(), info.Protocol)
}

func (info IPInfo) jumboSuffix() string {
	if info.Jumbo {
		return ": jumbo"
	}
	return ""
}

func (info IPInfo) fragmentSuffix() string {
	if info.Fragment == nil {
		return ""
	}
	if info.Fragment.More {
		return fmt.Sprintf(": fragment offset %d", info.Fragment.Offset)
	}
	return fmt.Sprintf(": last fragment offset %d", info.Fragment.Offset)
}

// IPErrorKind enumerates the ways a network-layer header can fail to
// decode.
type IPErrorKind uint8

const (
	IPErrorHeaderTruncated IPErrorKind = iota
	IPErrorVersionMismatch
	IPErrorHeaderTooShort                 // IPv4 only
	IPErrorHeaderLongerThanPacket         // IPv4 only
	IPErrorExtensionHeaderLongerThanPacket // IPv6 only
	IPErrorHeaderChecksumMismatch
	IPErrorInvalidExtensionHeader // IPv6 only
	IPErrorFragmentOversize
	IPErrorPayloadTruncated
)

var ipErrorKindNames = [...]string{
	IPErrorHeaderTruncated:                 "header truncated",
	IPErrorVersionMismatch:                 "version mismatch",
	IPErrorHeaderTooShort:                  "header too short",
	IPErrorHeaderLongerThanPacket:          "header longer than packet",
	IPErrorExtensionHeaderLongerThanPacket: "extension header longer than packet",
	IPErrorHeaderChecksumMismatch:          "header checksum mismatch",
	IPErrorInvalidExtensionHeader:          "invalid extension header",
	IPErrorFragmentOversize:                "fragment oversize",
	IPErrorPayloadTruncated:                "payload truncated",
}

func (k IPErrorKind) String() string {
	if int(k) < len(ipErrorKindNames) {
		return ipErrorKindNames[k]
	}
	return fmt.Sprintf(unknownFmt, uint8(k))
}

// IPError reports why IPv4/IPv6 header validation failed. HeaderLength and
// TotalLength are only meaningful for IPErrorHeaderLongerThanPacket;
// ExpectedLength is only meaningful for IPErrorPayloadTruncated.
type IPError struct {
	Kind           IPErrorKind
	HeaderLength   int
	TotalLength    int
	ExpectedLength int
}

func (e *IPError) Error() string {
	switch e.Kind {
	case IPErrorHeaderLongerThanPacket:
		return fmt.Sprintf("IP packet total length smaller than header, indicated total length is %d, header is %d bytes long", e.TotalLength, e.HeaderLength)
	case IPErrorPayloadTruncated:
		return fmt.Sprintf("truncated IP packet, indicated length is %d", e.ExpectedLength)
	default:
		return e.Kind.String()
	}
}

// CheckPacket validates and decodes the IPv4 or IPv6 header at the start of
// ipPayload, returning the parsed IPInfo and the transport-layer payload
// that follows it.
//
// For IPv6, this walks the extension header chain: a leading Hop-by-Hop
// header is inspected for a Jumbo Payload option (RFC 2675) when the fixed
// Payload Length field is zero, and Routing/Destination Options headers are
// skipped. A Fragment header stops the walk and records fragmentation
// state without attempting to decode beyond it. Any other next-header
// value, including one that can't be confirmed as a valid extension header
// because too little data remains, is treated as the terminal protocol.
func CheckPacket(family IPFamily, ipPayload []byte) (IPInfo, []byte, error) {
	switch family {
	case IPFamilyV4:
		return checkPacketV4(ipPayload)
	case IPFamilyV6:
		return checkPacketV6(ipPayload)
	default:
		return IPInfo{}, nil, &IPError{Kind: IPErrorVersionMismatch}
	}
}

func checkPacketV4(ipPayload []byte) (IPInfo, []byte, error) {
	if len(ipPayload) < 20 {
		return IPInfo{}, nil, &IPError{Kind: IPErrorHeaderTruncated}
	}
	if ipPayload[0]&0xf0 != 0x40 {
		return IPInfo{}, nil, &IPError{Kind: IPErrorVersionMismatch}
	}
	headerLength := int(ipPayload[0]&0x0f) * 4
	if headerLength < 20 {
		return IPInfo{}, nil, &IPError{Kind: IPErrorHeaderTooShort}
	}
	totalLength := int(binary.BigEndian.Uint16(ipPayload[2:4]))
	if headerLength > totalLength {
		return IPInfo{}, nil, &IPError{Kind: IPErrorHeaderLongerThanPacket, HeaderLength: headerLength, TotalLength: totalLength}
	}
	if headerLength > len(ipPayload) {
		return IPInfo{}, nil, &IPError{Kind: IPErrorHeaderTruncated}
	}
	var c checksum.Checksum
	c.Add(ipPayload[0:headerLength])
	if !c.Verify() {
		return IPInfo{}, nil, &IPError{Kind: IPErrorHeaderChecksumMismatch}
	}

	fragmentSpec := binary.BigEndian.Uint16(ipPayload[6:8])
	fragmentOffset := int(fragmentSpec&0x1fff) * 8
	fragmentID := uint32(binary.BigEndian.Uint16(ipPayload[4:6]))
	moreFragments := fragmentSpec&0x2000 != 0

	if fragmentOffset+totalLength > 0xffff {
		return IPInfo{}, nil, &IPError{Kind: IPErrorFragmentOversize}
	}
	if totalLength > len(ipPayload) {
		return IPInfo{}, nil, &IPError{Kind: IPErrorPayloadTruncated, ExpectedLength: totalLength}
	}

	var fragment *Fragment
	if fragmentOffset != 0 || moreFragments {
		fragment = &Fragment{Offset: fragmentOffset, ID: fragmentID, More: moreFragments}
	}

	info := IPInfo{
		Source:      netip.AddrFrom4([4]byte(ipPayload[12:16])),
		Destination: netip.AddrFrom4([4]byte(ipPayload[16:20])),
		Fragment:    fragment,
		Protocol:    ipPayload[9],
	}
	return info, ipPayload[headerLength:totalLength], nil
}

func checkPacketV6(ipPayload []byte) (IPInfo, []byte, error) {
	if len(ipPayload) < 40 {
		return IPInfo{}, nil, &IPError{Kind: IPErrorHeaderTruncated}
	}
	if ipPayload[0]&0xf0 != 0x60 {
		return IPInfo{}, nil, &IPError{Kind: IPErrorVersionMismatch}
	}

	payloadLength := int(binary.BigEndian.Uint16(ipPayload[4:6]))
	nextHeader := ipPayload[6]
	payloadOffset := 40
	jumbo := false

	if nextHeader == 0 {
		if payloadOffset+8 > len(ipPayload) {
			return IPInfo{}, nil, &IPError{Kind: IPErrorExtensionHeaderLongerThanPacket}
		}
		nextHeader = ipPayload[payloadOffset]
		hopByHopLength := 8 + 8*int(ipPayload[payloadOffset+1])
		if payloadOffset+hopByHopLength > len(ipPayload) {
			return IPInfo{}, nil, &IPError{Kind: IPErrorExtensionHeaderLongerThanPacket}
		}
		hopByHopHeader := ipPayload[payloadOffset : payloadOffset+hopByHopLength]
		payloadOffset += hopByHopLength

		if payloadLength == 0 {
			jumboLength, ok := findJumboPayloadOption(hopByHopHeader)
			if !ok {
				return IPInfo{}, nil, &IPError{Kind: IPErrorPayloadTruncated, ExpectedLength: payloadLength}
			}
			payloadLength = jumboLength
			jumbo = true
		}
	}

	if payloadLength > len(ipPayload)-40 {
		return IPInfo{}, nil, &IPError{Kind: IPErrorPayloadTruncated, ExpectedLength: payloadLength}
	}
	ipPayload = ipPayload[0 : payloadLength+40]

	var fragment *Fragment
loop:
	for {
		if payloadOffset+8 >= len(ipPayload) {
			break
		}

		switch nextHeader {
		case 0:
			return IPInfo{}, nil, &IPError{Kind: IPErrorInvalidExtensionHeader}
		case 43: // Routing
			nextHeader = ipPayload[payloadOffset]
			payloadOffset += 8 + 8*int(ipPayload[payloadOffset+1])
		case 44: // Fragment
			if jumbo {
				return IPInfo{}, nil, &IPError{Kind: IPErrorInvalidExtensionHeader}
			}
			nextHeader = ipPayload[payloadOffset]

			fragmentSpec := binary.BigEndian.Uint16(ipPayload[payloadOffset+2 : payloadOffset+4])
			fragmentOffset := int(fragmentSpec & 0xfff8)
			fragmentID := binary.BigEndian.Uint32(ipPayload[payloadOffset+4 : payloadOffset+8])
			moreFragments := fragmentSpec&0x0001 != 0
			if moreFragments && payloadLength%8 != 0 {
				return IPInfo{}, nil, &IPError{Kind: IPErrorInvalidExtensionHeader}
			}

			payloadOffset += 8
			if fragmentOffset+payloadLength-payloadOffset > 0xffff-40 {
				return IPInfo{}, nil, &IPError{Kind: IPErrorFragmentOversize}
			}

			fragment = &Fragment{Offset: fragmentOffset, ID: fragmentID, More: moreFragments}
			break loop // fragment content is not parsed further
		case 59: // No Next Header
			break loop
		case 60: // Destination Options
			nextHeader = ipPayload[payloadOffset]
			payloadOffset += 8 + 8*int(ipPayload[payloadOffset+1])
		default:
			break loop
		}
	}
	if payloadOffset > len(ipPayload) {
		return IPInfo{}, nil, &IPError{Kind: IPErrorExtensionHeaderLongerThanPacket}
	}

	info := IPInfo{
		Source:      netip.AddrFrom16([16]byte(ipPayload[8:24])),
		Destination: netip.AddrFrom16([16]byte(ipPayload[24:40])),
		Fragment:    fragment,
		Protocol:    nextHeader,
		Jumbo:       jumbo,
	}
	return info, ipPayload[payloadOffset:], nil
}

// findJumboPayloadOption scans a Hop-by-Hop options header for the Jumbo
// Payload option (RFC 2675 Section 2), returning its 32-bit length when
// present, well-formed, aligned on a 4-byte boundary, and greater than
// 65535 (the only values for which it is meaningful).
func findJumboPayloadOption(hopByHopHeader []byte) (int, bool) {
	off := 2
	for off < len(hopByHopHeader) {
		switch hopByHopHeader[off] {
		case 0: // Pad1
			off++
		case 0xc2: // Jumbo Payload
			if off%4 != 2 {
				return 0, false
			}
			if off+6 > len(hopByHopHeader) {
				return 0, false
			}
			if hopByHopHeader[off+1] != 4 {
				return 0, false
			}
			payloadLength := int(binary.BigEndian.Uint32(hopByHopHeader[off+2 : off+6]))
			if payloadLength <= 65535 {
				return 0, false
			}
			return payloadLength, true
		default:
			if off+1 >= len(hopByHopHeader) {
				return 0, false
			}
			off += 2 + int(hopByHopHeader[off+1])
		}
	}
	return 0, false
}

// pseudoHeaderChecksum folds the IPv4 or IPv6 pseudo-header (RFC 793
// Section 3.1, RFC 8200 Section 8.1) into an in-progress checksum, ahead of
// the transport-layer segment itself.
func pseudoHeaderChecksum(family IPFamily, ipPayload []byte, transportSize int, c *checksum.Checksum) {
	var transportSizeBytes [4]byte
	binary.BigEndian.PutUint32(transportSizeBytes[:], uint32(transportSize))

	switch family {
	case IPFamilyV4:
		c.Add(ipPayload[12:20])
		c.Add([]byte{0, ipPayload[9]})
		c.Add(transportSizeBytes[:])
	case IPFamilyV6:
		c.Add(ipPayload[8:40])
		c.Add(transportSizeBytes[:])
		c.Add([]byte{0, ipPayload[6]})
	}
}
