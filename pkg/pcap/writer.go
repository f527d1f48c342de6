package pcap

import (
	"fmt"
	"io"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	clientMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	serverMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
)

// Writer writes TCP segments as Ethernet frames into a pcap stream.
// Sequence and acknowledgement numbers are tracked per endpoint.
type Writer struct {
	w   *pcapgo.Writer
	seq map[string]uint32
}

// NewWriter writes the pcap file header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{w: pw, seq: make(map[string]uint32)}, nil
}

// WriteSegment serializes and writes one segment.
func (w *Writer) WriteSegment(seg *Segment) error {
	src := endpoint(seg.SrcIP, seg.SrcPort)
	dst := endpoint(seg.DstIP, seg.DstPort)

	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(seg.SrcPort),
		DstPort: layers.TCPPort(seg.DstPort),
		Seq:     w.seq[src],
		Ack:     w.seq[dst],
		FIN:     seg.Flags&0x01 != 0,
		SYN:     seg.Flags&0x02 != 0,
		RST:     seg.Flags&0x04 != 0,
		PSH:     seg.Flags&0x08 != 0,
		ACK:     seg.Flags&0x10 != 0,
		Window:  14600,
	}
	w.seq[src] += uint32(len(seg.Payload))
	if tcp.SYN || tcp.FIN {
		w.seq[src]++
	}

	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: serverMAC}
	var ip gopacket.SerializableLayer
	if seg.SrcIP.To4() != nil {
		eth.EthernetType = layers.EthernetTypeIPv4
		v4 := &layers.IPv4{SrcIP: seg.SrcIP.To4(), DstIP: seg.DstIP.To4(), Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP}
		tcp.SetNetworkLayerForChecksum(v4)
		ip = v4
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		v6 := &layers.IPv6{SrcIP: seg.SrcIP, DstIP: seg.DstIP, Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolTCP}
		tcp.SetNetworkLayerForChecksum(v6)
		ip = v6
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(seg.Payload)); err != nil {
		return fmt.Errorf("failed to serialize layers: %w", err)
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     seg.Timestamp,
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}
	if err := w.w.WritePacket(ci, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	return nil
}

func endpoint(ip net.IP, port uint16) string {
	return net.JoinHostPort(ip.String(), fmt.Sprint(port))
}
