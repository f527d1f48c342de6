// Package pcap reads offline captures and assembles their TCP connections
// into bidirectional flow records.
package pcap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"SSHSpectra/internal/model"
)

var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Reader reads packets from a pcap or pcapng file.
type Reader struct {
	closer io.Closer
	src    packetReader
	// Skipped counts frames that were not TCP over IP.
	Skipped int
}

// NewReader opens the capture at filePath.
func NewReader(filePath string) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	r, err := NewReaderFrom(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReaderFrom reads a capture from r, detecting the file format.
func NewReaderFrom(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	var src packetReader
	if bytes.Equal(magic, ngMagic) {
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	return &Reader{src: src}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadSegments passes every TCP segment of the capture to fn, in capture
// order, until the end of the file.
func (r *Reader) ReadSegments(fn func(*Segment)) error {
	decoder := r.src.LinkType()
	for {
		data, ci, err := r.src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read packet: %w", err)
		}
		seg, err := ParseSegment(data, decoder, ci.Timestamp)
		if err != nil {
			r.Skipped++
			continue
		}
		fn(seg)
	}
}

// ReadFlows assembles the whole capture into flow records.
func (r *Reader) ReadFlows(cfg AssemblerConfig) ([]*model.FlowRecord, error) {
	asm := NewAssembler(cfg)
	if err := r.ReadSegments(func(seg *Segment) { asm.Add(seg) }); err != nil {
		return nil, err
	}
	return asm.Flush(), nil
}
