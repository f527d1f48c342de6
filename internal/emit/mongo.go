package emit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/globalsign/mgo"
	log "github.com/sirupsen/logrus"

	"SSHSpectra/internal/config"
	"SSHSpectra/internal/model"
)

func init() {
	Register("mongo", func(cfg config.SinkConfig, opts Options) (model.Sink, error) {
		return NewMongoSink(cfg.Mongo, opts.Debug, opts.Logger)
	})
}

// mongoCollection is the part of *mgo.Collection the sink uses.
type mongoCollection interface {
	Insert(docs ...interface{}) error
}

// mongoResult is the document stored per result.
type mongoResult struct {
	SrcIP        string    `bson:"src_ip"`
	DstIP        string    `bson:"dst_ip"`
	SrcPort      uint16    `bson:"src_port"`
	DstPort      uint16    `bson:"dst_port"`
	Bytes        uint64    `bson:"bytes"`
	BytesRev     uint64    `bson:"bytes_rev"`
	Packets      uint32    `bson:"packets"`
	PacketsRev   uint32    `bson:"packets_rev"`
	LinkBitField uint64    `bson:"link_bit_field"`
	TimeFirst    time.Time `bson:"time_first"`
	TimeLast     time.Time `bson:"time_last"`
	Auth         string    `bson:"authentication_result"`
	Method       string    `bson:"authentication_method"`
	Timing       string    `bson:"authentication_timing"`
	Traffic      string    `bson:"traffic_category"`

	Directions []int8      `bson:"ppi_pkt_directions,omitempty"`
	Flags      []int       `bson:"ppi_pkt_flags,omitempty"`
	Lengths    []uint16    `bson:"ppi_pkt_lengths,omitempty"`
	Times      []time.Time `bson:"ppi_pkt_times,omitempty"`
}

func newMongoResult(r Record) mongoResult {
	return mongoResult{
		SrcIP:        r.SrcIP.String(),
		DstIP:        r.DstIP.String(),
		SrcPort:      r.SrcPort,
		DstPort:      r.DstPort,
		Bytes:        r.Bytes,
		BytesRev:     r.BytesRev,
		Packets:      r.Packets,
		PacketsRev:   r.PacketsRev,
		LinkBitField: r.LinkBitField,
		TimeFirst:    r.TimeFirst,
		TimeLast:     r.TimeLast,
		Auth:         r.Auth,
		Method:       r.Method,
		Timing:       r.Timing,
		Traffic:      r.Traffic,
		Directions:   r.Directions,
		Flags:        r.Flags,
		Lengths:      r.Lengths,
		Times:        r.Times,
	}
}

// MongoSink stores results as documents, one bulk insert per pipeline
// batch.
type MongoSink struct {
	session *mgo.Session
	coll    mongoCollection
	debug   bool
	logger  log.FieldLogger

	mu      sync.Mutex
	pending []interface{}
}

// NewMongoSink dials MongoDB and indexes the collection by flow start.
func NewMongoSink(cfg config.MongoConfig, debug bool, logger log.FieldLogger) (*MongoSink, error) {
	ssn, err := mgo.DialWithTimeout(cfg.URL, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	ssn.SetSafe(&mgo.Safe{})

	coll := ssn.DB(cfg.Database).C(cfg.Collection)
	index := mgo.Index{Key: []string{"time_first", "dst_ip"}, Background: true}
	if err := coll.EnsureIndex(index); err != nil {
		ssn.Close()
		return nil, fmt.Errorf("failed to index collection %s: %w", cfg.Collection, err)
	}
	logger.Infof("Emit: connected to MongoDB, collection %s.%s ready", cfg.Database, cfg.Collection)

	s := newMongoSink(coll, debug, logger)
	s.session = ssn
	return s, nil
}

func newMongoSink(coll mongoCollection, debug bool, logger log.FieldLogger) *MongoSink {
	return &MongoSink{coll: coll, debug: debug, logger: logger}
}

// Send implements model.Sink.
func (s *MongoSink) Send(_ context.Context, res *model.Result) error {
	doc := newMongoResult(NewRecord(res, s.debug))
	s.mu.Lock()
	s.pending = append(s.pending, doc)
	s.mu.Unlock()
	return nil
}

// Flush inserts the buffered documents. They are dropped when the insert
// fails.
func (s *MongoSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("dropping %d results: %w", len(pending), err)
	}

	if err := s.coll.Insert(pending...); err != nil {
		return fmt.Errorf("failed to insert results: %w", err)
	}
	s.logger.Debugf("Emit: wrote %d results to MongoDB", len(pending))
	return nil
}

// Close implements model.Sink.
func (s *MongoSink) Close() error {
	if s.session != nil {
		s.session.Close()
	}
	return nil
}
