package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket/pcap"

	"github.com/rus-cert/dnslogger-forward-go/internal/events"
	"github.com/rus-cert/dnslogger-forward-go/internal/protocols"
)

// snapshotLength is large enough to capture a full-size DNS-over-UDP
// response (up to the 64 KiB IP maximum) behind any reasonable link
// header, without ever truncating the packets this daemon cares about.
const snapshotLength = 65536

// readTimeout bounds how long a single ReadPacket call blocks waiting for
// a packet, so the capture loop can periodically check for statistics and
// context cancellation even on a quiet interface.
const readTimeout = time.Second

// PcapHandle is a Handle backed by a live libpcap capture.
type PcapHandle struct {
	handle   *pcap.Handle
	linktype protocols.Linktype
}

// OpenLive opens iface for capture and applies filter as a BPF expression.
// An empty iface selects libpcap's default device.
func OpenLive(iface, filter string) (*PcapHandle, error) {
	if iface == "" {
		dev, err := pcap.FindAllDevs()
		if err != nil || len(dev) == 0 {
			return nil, fmt.Errorf("capture: no capture device available: %w", err)
		}
		iface = dev[0].Name
	}

	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return nil, fmt.Errorf("capture: opening %q: %w", iface, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(snapshotLength); err != nil {
		return nil, fmt.Errorf("capture: setting snapshot length: %w", err)
	}
	if err := inactive.SetTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("capture: setting read timeout: %w", err)
	}
	if err := inactive.SetPromisc(false); err != nil {
		return nil, fmt.Errorf("capture: setting promiscuous mode: %w", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("capture: activating %q: %w", iface, err)
	}

	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("capture: applying filter %q: %w", filter, err)
		}
	}

	linktype, ok := protocols.KnownLinktype(int(handle.LinkType()))
	if !ok {
		handle.Close()
		return nil, fmt.Errorf("capture: unsupported link type %s", handle.LinkType())
	}

	return &PcapHandle{handle: handle, linktype: linktype}, nil
}

func (h *PcapHandle) Linktype() protocols.Linktype { return h.linktype }

func (h *PcapHandle) ReadPacket() ([]byte, bool, error) {
	data, _, err := h.handle.ReadPacketData()
	switch err {
	case nil:
		return data, true, nil
	case pcap.NextErrorTimeoutExpired:
		return nil, false, nil
	default:
		return nil, false, err
	}
}

func (h *PcapHandle) Stats() (events.Stat, error) {
	stats, err := h.handle.Stats()
	if err != nil {
		return events.Stat{}, err
	}
	return events.Stat{
		PacketsReceived:  stats.PacketsReceived,
		PacketsDropped:   stats.PacketsDropped,
		InterfaceDropped: stats.PacketsIfDropped,
	}, nil
}

func (h *PcapHandle) Close() error {
	h.handle.Close()
	return nil
}

var _ Handle = (*PcapHandle)(nil)
