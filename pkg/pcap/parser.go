package pcap

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Segment is a decoded TCP segment.
type Segment struct {
	Timestamp time.Time
	SrcIP     net.IP
	DstIP     net.IP
	SrcPort   uint16
	DstPort   uint16
	// Flags holds the TCP control bits as in the header flags byte.
	Flags   uint8
	Payload []byte
	// IPLength is the size of the IP packet including headers.
	IPLength int
}

// ParseSegment decodes a captured frame into a TCP segment. Frames that
// carry anything but TCP over IPv4 or IPv6 are rejected.
func ParseSegment(data []byte, decoder gopacket.Decoder, ts time.Time) (*Segment, error) {
	packet := gopacket.NewPacket(data, decoder, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	seg := &Segment{Timestamp: ts}
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		seg.SrcIP, seg.DstIP = ip.SrcIP, ip.DstIP
		seg.IPLength = len(ip.Contents) + len(ip.Payload)
	case *layers.IPv6:
		seg.SrcIP, seg.DstIP = ip.SrcIP, ip.DstIP
		seg.IPLength = len(ip.Contents) + len(ip.Payload)
	default:
		return nil, fmt.Errorf("not an IP packet")
	}

	tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok {
		return nil, fmt.Errorf("not a TCP packet")
	}
	seg.SrcPort = uint16(tcp.SrcPort)
	seg.DstPort = uint16(tcp.DstPort)
	seg.Flags = tcpFlags(tcp)
	seg.Payload = tcp.Payload
	return seg, nil
}

func tcpFlags(tcp *layers.TCP) uint8 {
	var f uint8
	for i, set := range []bool{tcp.FIN, tcp.SYN, tcp.RST, tcp.PSH, tcp.ACK, tcp.URG, tcp.ECE, tcp.CWR} {
		if set {
			f |= 1 << i
		}
	}
	return f
}
