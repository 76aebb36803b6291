package capture_test

import (
	"encoding/binary"
	"testing"

	"github.com/rus-cert/dnslogger-forward-go/internal/checksum"
)

// buildRawIPv4UDPDNS builds a raw (no link header) IPv4/UDP/DNS response
// packet with valid checksums, suitable for protocols.LinktypeRawIPv4.
func buildRawIPv4UDPDNS(t *testing.T, authoritative bool, ancount uint16) []byte {
	t.Helper()

	dns := make([]byte, 12)
	binary.BigEndian.PutUint16(dns[0:2], 0x1234)
	flags := uint16(0x8000)
	if authoritative {
		flags |= 0x0400
	}
	binary.BigEndian.PutUint16(dns[2:4], flags)
	binary.BigEndian.PutUint16(dns[6:8], ancount)

	udpLen := 8 + len(dns)
	udp := make([]byte, udpLen)
	binary.BigEndian.PutUint16(udp[0:2], 53)
	binary.BigEndian.PutUint16(udp[2:4], 40000)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpLen))
	copy(udp[8:], dns)

	ipHdr := make([]byte, 20)
	ipHdr[0] = 0x45
	binary.BigEndian.PutUint16(ipHdr[2:4], uint16(20+udpLen))
	ipHdr[8] = 64
	ipHdr[9] = 17
	copy(ipHdr[12:16], []byte{192, 0, 2, 1})
	copy(ipHdr[16:20], []byte{192, 0, 2, 2})

	var uc checksum.Checksum
	uc.Add(ipHdr[12:20])
	uc.Add([]byte{0, 17})
	uc.Add([]byte{byte(udpLen >> 8), byte(udpLen)})
	uc.Add(udp)
	uField := ^uc.Result()
	udp[6] = byte(uField >> 8)
	udp[7] = byte(uField)

	var ic checksum.Checksum
	ic.Add(ipHdr)
	iField := ^ic.Result()
	ipHdr[10] = byte(iField >> 8)
	ipHdr[11] = byte(iField)

	packet := make([]byte, 0, len(ipHdr)+len(udp))
	packet = append(packet, ipHdr...)
	packet = append(packet, udp...)
	return packet
}
