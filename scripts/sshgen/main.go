package main

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"SSHSpectra/internal/model"
	"SSHSpectra/internal/model/flowtest"
	"SSHSpectra/pkg/pcap"
)

var (
	outputFile  string
	sessions    int
	serverPort  uint16
	scenarioArg []string
)

var (
	clientIP = net.IPv4(10, 0, 0, 1).To4()
	serverIP = net.IPv4(10, 0, 0, 2).To4()
)

// scenarios are the sessions sshgen can write.
var scenarios = map[string]func() *model.FlowRecord{
	"password": flowtest.PasswordLogin,
	"key":      flowtest.KeyLogin,
	"failure":  flowtest.RepeatedFailure,
	"interactive": func() *model.FlowRecord {
		return flowtest.Record(append(flowtest.Handshake(),
			flowtest.C(44), flowtest.S(44),
			flowtest.C(100), flowtest.S(60),
			flowtest.C(116).After(2*time.Second), flowtest.S(36),
			flowtest.C(36), flowtest.S(36), flowtest.C(36), flowtest.S(36), flowtest.C(36), flowtest.S(100),
		)...)
	},
}

var cli = &cobra.Command{
	Use:   "sshgen",
	Short: "Write synthetic SSH sessions into a pcap file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(scenarioArg) == 0 {
			for name := range scenarios {
				scenarioArg = append(scenarioArg, name)
			}
			sort.Strings(scenarioArg)
		}
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()

		log.Printf("Generating %d sessions into %s...", sessions, outputFile)
		if err := generate(f, scenarioArg, sessions, serverPort); err != nil {
			return err
		}
		log.Printf("Done.")
		return nil
	},
}

func init() {
	flags := cli.Flags()
	flags.StringVarP(&outputFile, "output", "o", "ssh.pcap", "Output pcap file path")
	flags.IntVarP(&sessions, "count", "c", 4, "Number of sessions to generate")
	flags.Uint16VarP(&serverPort, "port", "p", 22, "SSH server port")
	flags.StringSliceVarP(&scenarioArg, "scenario", "s", nil, "Scenarios to cycle through (password, key, failure, interactive)")
}

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

// generate writes count sessions cycling through the named scenarios. Each
// session uses its own client port and starts a minute after the previous.
func generate(out io.Writer, names []string, count int, port uint16) error {
	w, err := pcap.NewWriter(out)
	if err != nil {
		return err
	}
	return writeSessions(w, names, count, port)
}

func writeSessions(w *pcap.Writer, names []string, count int, port uint16) error {
	at := flowtest.Epoch
	for i := 0; i < count; i++ {
		name := names[i%len(names)]
		build, ok := scenarios[name]
		if !ok {
			return fmt.Errorf("unknown scenario %q", name)
		}
		if err := writeSession(w, build(), at, 40000+uint16(i), port); err != nil {
			return fmt.Errorf("session %d (%s): %w", i, name, err)
		}
		if (i+1)%1000 == 0 {
			log.Printf("Generated %d sessions...", i+1)
		}
		at = at.Add(time.Minute)
	}
	return nil
}

// writeSession replays the per-packet sequences of rec as one TCP
// connection: handshake, one segment per entry, then teardown. The first
// client and server payloads carry the banners of rec.
func writeSession(w *pcap.Writer, rec *model.FlowRecord, at time.Time, cport, sport uint16) error {
	const synAck = model.FlagSYN | model.FlagACK

	send := func(ts time.Time, toServer bool, flags uint8, payload []byte) error {
		seg := &pcap.Segment{Timestamp: ts, Flags: flags, Payload: payload}
		if toServer {
			seg.SrcIP, seg.DstIP, seg.SrcPort, seg.DstPort = clientIP, serverIP, cport, sport
		} else {
			seg.SrcIP, seg.DstIP, seg.SrcPort, seg.DstPort = serverIP, clientIP, sport, cport
		}
		return w.WriteSegment(seg)
	}

	offset := at.Sub(rec.Times[0])
	handshake := []struct {
		toServer bool
		flags    uint8
	}{{true, model.FlagSYN}, {false, synAck}, {true, model.FlagACK}}
	for i, h := range handshake {
		if err := send(at.Add(time.Duration(i-3)*time.Millisecond), h.toServer, h.flags, nil); err != nil {
			return err
		}
	}

	clientBanner, serverBanner := true, true
	for i, n := range rec.Lengths {
		toServer := rec.Directions[i] == model.DirToServer
		payload := bytes.Repeat([]byte{0xab}, int(n))
		switch {
		case toServer && clientBanner:
			copy(payload, rec.Content)
			clientBanner = false
		case !toServer && serverBanner:
			copy(payload, rec.ContentRev)
			serverBanner = false
		}
		if err := send(rec.Times[i].Add(offset), toServer, rec.Flags[i], payload); err != nil {
			return err
		}
	}

	end := rec.Times[len(rec.Times)-1].Add(offset)
	fin := model.FlagFIN | model.FlagACK
	if err := send(end.Add(time.Millisecond), true, fin, nil); err != nil {
		return err
	}
	if err := send(end.Add(2*time.Millisecond), false, fin, nil); err != nil {
		return err
	}
	return send(end.Add(3*time.Millisecond), true, model.FlagACK, nil)
}
