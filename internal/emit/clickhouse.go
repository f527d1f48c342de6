package emit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	log "github.com/sirupsen/logrus"

	"SSHSpectra/internal/config"
	"SSHSpectra/internal/model"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    Timestamp      DateTime,
    SrcIP          String,
    DstIP          String,
    SrcPort        UInt16,
    DstPort        UInt16,
    Bytes          UInt64,
    BytesRev       UInt64,
    Packets        UInt32,
    PacketsRev     UInt32,
    LinkBitField   UInt64,
    TimeFirst      DateTime64(6),
    TimeLast       DateTime64(6),
    AuthResult     LowCardinality(String),
    AuthMethod     LowCardinality(String),
    AuthTiming     LowCardinality(String),
    TrafficType    LowCardinality(String)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (DstIP, Timestamp);
`

func init() {
	Register("clickhouse", func(cfg config.SinkConfig, opts Options) (model.Sink, error) {
		return NewClickHouseSink(cfg.ClickHouse, opts.Logger)
	})
}

// ClickHouseSink buffers results and inserts them as one batch per
// pipeline batch.
type ClickHouseSink struct {
	conn   driver.Conn
	table  string
	logger log.FieldLogger
	now    func() time.Time

	mu      sync.Mutex
	pending []*model.Result
}

// NewClickHouseSink connects to ClickHouse and ensures the table exists.
func NewClickHouseSink(cfg config.ClickHouseConfig, logger log.FieldLogger) (*ClickHouseSink, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return newClickHouseSink(conn, cfg.Table, logger)
}

func newClickHouseSink(conn driver.Conn, table string, logger log.FieldLogger) (*ClickHouseSink, error) {
	if err := conn.Exec(context.Background(), fmt.Sprintf(createTableStatement, table)); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger.Infof("Emit: connected to ClickHouse, table %s ready", table)
	return &ClickHouseSink{conn: conn, table: table, logger: logger, now: time.Now}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Send implements model.Sink.
func (s *ClickHouseSink) Send(_ context.Context, res *model.Result) error {
	s.mu.Lock()
	s.pending = append(s.pending, res)
	s.mu.Unlock()
	return nil
}

// Flush inserts the buffered results. They are dropped when the insert
// fails so one bad batch cannot block the following ones.
func (s *ClickHouseSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	ts := s.now()
	for _, res := range pending {
		f := res.Flow
		err = batch.Append(
			ts,
			f.SrcIP.String(),
			f.DstIP.String(),
			f.SrcPort,
			f.DstPort,
			f.Bytes,
			f.BytesRev,
			f.Packets,
			f.PacketsRev,
			f.LinkBitField,
			f.TimeFirst,
			f.TimeLast,
			res.Auth.String(),
			res.Method.String(),
			res.Timing.String(),
			res.Traffic.String(),
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append result to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	s.logger.Debugf("Emit: wrote %d results to ClickHouse", len(pending))
	return nil
}

// Close implements model.Sink.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
