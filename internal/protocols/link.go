// Package protocols decodes the link, network, transport and DNS layers of
// a captured frame, from the outside in. Each layer exposes a check/decode
// function that either returns the parsed header information plus the
// remaining payload, or a typed error describing exactly what was wrong
// with the layer. None of these functions allocate beyond the returned
// struct: they work on slices of the caller's buffer.
package protocols

import (
	"encoding/binary"
	"fmt"
)

// unknownFmt is the format used by String() methods for values outside the
// known range.
const unknownFmt = "Unknown(%d)"

// Linktype identifies the link-layer framing of a captured packet, using
// the same numbering as libpcap's DLT_* constants.
type Linktype int32

const (
	// LinktypeEthernet is DLT_EN10MB: classic Ethernet II framing, with the
	// EtherType field following a 12-byte destination/source MAC pair.
	LinktypeEthernet Linktype = 1

	// LinktypeLinuxSLL is DLT_LINUX_SLL: Linux "cooked" captures, used for
	// interfaces such as "any", with a 14-byte pseudo link header before
	// the EtherType field.
	LinktypeLinuxSLL Linktype = 113

	// LinktypeRawIPv4 is DLT_IPV4: the capture starts directly at the IPv4
	// header, with no link-layer framing at all.
	LinktypeRawIPv4 Linktype = 228

	// LinktypeRawIPv6 is DLT_IPV6: the capture starts directly at the IPv6
	// header, with no link-layer framing at all.
	LinktypeRawIPv6 Linktype = 229
)

func (l Linktype) String() string {
	switch l {
	case LinktypeEthernet:
		return "Ethernet"
	case LinktypeLinuxSLL:
		return "LinuxSLL"
	case LinktypeRawIPv4:
		return "RawIPv4"
	case LinktypeRawIPv6:
		return "RawIPv6"
	default:
		return fmt.Sprintf(unknownFmt, int32(l))
	}
}

// KnownLinktype reports whether dlt is one of the link types this package
// can find an IP layer within, translating the numeric value libpcap
// reports for an opened capture handle.
func KnownLinktype(dlt int) (Linktype, bool) {
	switch Linktype(dlt) {
	case LinktypeEthernet, LinktypeLinuxSLL, LinktypeRawIPv4, LinktypeRawIPv6:
		return Linktype(dlt), true
	default:
		return 0, false
	}
}

const (
	etherTypeIPv4  = 0x0800
	etherTypeIPv6  = 0x86dd
	etherTypeVLAN  = 0x8100
	etherTypeQinQ  = 0x9100
)

// LinkFindIPError is returned by FindIPLayer when the link-layer framing
// could not be walked to an IP layer.
type LinkFindIPError struct {
	// UnknownEtherType holds the offending EtherType when non-zero; a zero
	// value means the frame ran out of data before any EtherType could be
	// classified, or that the linktype is not one FindIPLayer supports.
	UnknownEtherType uint16
}

func (e *LinkFindIPError) Error() string {
	if e.UnknownEtherType == 0 {
		return "unexpected end of link-layer data"
	}
	return fmt.Sprintf("unknown EtherType %#04x", e.UnknownEtherType)
}

// IsUnexpectedEndOfData reports whether err is a LinkFindIPError caused by
// the frame running out of data rather than an unrecognized EtherType. An
// unsupported linktype carries the same zero value and also reports true.
func IsUnexpectedEndOfData(err error) bool {
	var e *LinkFindIPError
	if !asLinkFindIPError(err, &e) {
		return false
	}
	return e.UnknownEtherType == 0
}

func asLinkFindIPError(err error, target **LinkFindIPError) bool {
	e, ok := err.(*LinkFindIPError)
	if !ok {
		return false
	}
	*target = e
	return true
}

// FindIPLayer walks a captured frame's link-layer framing to locate the
// enclosed IPv4 or IPv6 layer. It skips an unbounded chain of 802.1Q and
// Q-in-Q VLAN tags (EtherType 0x8100 / 0x9100) between the link header and
// the EtherType that finally identifies the network layer.
func FindIPLayer(linktype Linktype, payload []byte) (IPFamily, []byte, error) {
	var pos int
	switch linktype {
	case LinktypeEthernet:
		pos = 12
	case LinktypeLinuxSLL:
		pos = 14
	case LinktypeRawIPv4:
		return IPFamilyV4, payload, nil
	case LinktypeRawIPv6:
		return IPFamilyV6, payload, nil
	default:
		return 0, nil, &LinkFindIPError{}
	}

	for {
		etherType, ok := readEtherType(payload, pos)
		if !ok {
			return 0, nil, &LinkFindIPError{}
		}

		switch etherType {
		case etherTypeIPv4:
			return IPFamilyV4, payload[pos+2:], nil
		case etherTypeIPv6:
			return IPFamilyV6, payload[pos+2:], nil
		case etherTypeVLAN, etherTypeQinQ:
			pos += 4
		default:
			return 0, nil, &LinkFindIPError{UnknownEtherType: etherType}
		}
	}
}

func readEtherType(payload []byte, offset int) (uint16, bool) {
	if offset+2 > len(payload) {
		return 0, false
	}
	return binary.BigEndian.Uint16(payload[offset : offset+2]), true
}
