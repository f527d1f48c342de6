package emit

import (
	"context"
	"io"
	"sync"

	"github.com/olekukonko/tablewriter"

	"SSHSpectra/internal/config"
	"SSHSpectra/internal/model"
)

func init() {
	Register("stdout", func(_ config.SinkConfig, opts Options) (model.Sink, error) {
		return NewStdoutSink(opts.Out, opts.Debug), nil
	})
}

// StdoutSink prints one table per pipeline batch. The field header is only
// printed with the first table.
type StdoutSink struct {
	mu      sync.Mutex
	out     io.Writer
	debug   bool
	rows    [][]string
	printed bool
}

// NewStdoutSink creates a table printer writing to out.
func NewStdoutSink(out io.Writer, debug bool) *StdoutSink {
	return &StdoutSink{out: out, debug: debug}
}

// Send implements model.Sink.
func (s *StdoutSink) Send(_ context.Context, res *model.Result) error {
	row := NewRecord(res, s.debug).Row(s.debug)
	s.mu.Lock()
	s.rows = append(s.rows, row)
	s.mu.Unlock()
	return nil
}

// Flush implements model.Sink.
func (s *StdoutSink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rows) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(s.out)
	if !s.printed {
		table.SetHeader(Header(s.debug))
		table.SetAutoFormatHeaders(false)
		s.printed = true
	}
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.AppendBulk(s.rows)
	table.Render()
	s.rows = nil
	return nil
}

// Close implements model.Sink.
func (s *StdoutSink) Close() error {
	return nil
}
