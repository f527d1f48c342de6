package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SSHSpectra/internal/config"
	"SSHSpectra/internal/engine/detector"
	"SSHSpectra/internal/ingest"
	"SSHSpectra/internal/logging"
	"SSHSpectra/internal/model"
	"SSHSpectra/internal/model/flowtest"
)

type step struct {
	records []*model.FlowRecord
	err     error
}

type fakeSource struct {
	mu           sync.Mutex
	steps        []step
	negotiated   int
	negotiateErr error
}

func (s *fakeSource) Fetch(_ context.Context, _ int, _ time.Duration) ([]*model.FlowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return nil, io.EOF
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.records, st.err
}

func (s *fakeSource) Negotiate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.negotiated++
	return s.negotiateErr
}

func (s *fakeSource) Close() error { return nil }

// blockingSource serves one batch and then waits for cancellation. served
// is closed once the batch has been queued.
type blockingSource struct {
	served chan struct{}
	calls  int
}

func (s *blockingSource) Fetch(ctx context.Context, _ int, _ time.Duration) ([]*model.FlowRecord, error) {
	s.calls++
	switch s.calls {
	case 1:
		return []*model.FlowRecord{flowtest.PasswordLogin()}, nil
	case 2:
		close(s.served)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *blockingSource) Negotiate(context.Context) error { return nil }
func (s *blockingSource) Close() error                    { return nil }

type fakeSink struct {
	mu      sync.Mutex
	results []*model.Result
	flushes int
	err     error
}

func (s *fakeSink) Send(_ context.Context, res *model.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, res)
	return nil
}

func (s *fakeSink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return s.err
}

func (s *fakeSink) Close() error { return nil }

type fixedClassifier struct {
	label string
	err   error
}

func (c fixedClassifier) Predict(_ context.Context, vectors []model.FeatureVector) ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([]string, len(vectors))
	for i := range out {
		out[i] = c.label
	}
	return out, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Ingest.RecvTimeout = 10 * time.Millisecond
	cfg.Pipeline.PollInterval = 5 * time.Millisecond
	cfg.Pipeline.EmitTimeout = time.Second
	return cfg
}

func notSSH() *model.FlowRecord {
	rec := flowtest.PasswordLogin()
	rec.Content = []byte("GET / HTTP/1.1")
	return rec
}

func run(t *testing.T, p *Pipeline) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.Run(ctx)
}

func TestRun(t *testing.T) {
	// 1. Two batches, one record is not SSH and one is malformed
	malformed := flowtest.KeyLogin()
	malformed.Times = malformed.Times[:3]
	src := &fakeSource{steps: []step{
		{records: []*model.FlowRecord{flowtest.PasswordLogin(), notSSH(), flowtest.KeyLogin()}},
		{}, // idle timeout
		{records: []*model.FlowRecord{flowtest.RepeatedFailure(), malformed}},
	}}
	sink := &fakeSink{}
	p := New(testConfig(t), src, fixedClassifier{}, []model.Sink{sink}, logging.Discard())

	// 2. The pipeline ends with the stream
	require.NoError(t, run(t, p))

	// 3. Results keep the input order
	require.Len(t, sink.results, 3)
	assert.Equal(t, model.AuthOK, sink.results[0].Auth)
	assert.Equal(t, model.MethodPassword, sink.results[0].Method)
	assert.Equal(t, model.MethodKey, sink.results[1].Method)
	assert.Equal(t, model.AuthFail, sink.results[2].Auth)
	assert.Equal(t, model.TrafficUnknown, sink.results[2].Traffic)
	assert.Equal(t, 2, sink.flushes)

	// 4. Counters
	snap := p.Stats().Snapshot()
	assert.Equal(t, uint64(2), snap.Batches)
	assert.Equal(t, uint64(5), snap.Received)
	assert.Equal(t, uint64(1), snap.Filtered)
	assert.Equal(t, uint64(1), snap.Malformed)
	assert.Equal(t, uint64(3), snap.Classified)
	assert.Equal(t, uint64(3), snap.Emitted)
	assert.Equal(t, uint64(2), snap.Auth["ok"])
	assert.Equal(t, uint64(1), snap.Auth["fail"])
	assert.Equal(t, uint64(1), snap.Method["key"])
}

func TestRun_FormatChange(t *testing.T) {
	src := &fakeSource{steps: []step{
		{records: []*model.FlowRecord{flowtest.PasswordLogin()}, err: ingest.ErrFormatChanged},
		{records: []*model.FlowRecord{flowtest.KeyLogin()}},
	}}
	sink := &fakeSink{}
	p := New(testConfig(t), src, fixedClassifier{}, []model.Sink{sink}, logging.Discard())

	require.NoError(t, run(t, p))
	assert.Equal(t, 1, src.negotiated)
	assert.Len(t, sink.results, 2)
}

func TestRun_NegotiationFails(t *testing.T) {
	src := &fakeSource{
		steps:        []step{{err: ingest.ErrFormatChanged}},
		negotiateErr: errors.New("template is missing fields: PPI_PKT_TIMES"),
	}
	p := New(testConfig(t), src, fixedClassifier{}, []model.Sink{&fakeSink{}}, logging.Discard())

	err := run(t, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PPI_PKT_TIMES")
}

func TestRun_StopOnEmpty(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ingest.StopOnEmpty = true
	src := &fakeSource{steps: []step{
		{records: []*model.FlowRecord{flowtest.PasswordLogin()}},
		{},
		{records: []*model.FlowRecord{flowtest.KeyLogin()}},
	}}
	sink := &fakeSink{}
	p := New(cfg, src, fixedClassifier{}, []model.Sink{sink}, logging.Discard())

	require.NoError(t, run(t, p))
	assert.Len(t, sink.results, 1)
}

func TestRun_FetchError(t *testing.T) {
	src := &fakeSource{steps: []step{
		{records: []*model.FlowRecord{flowtest.PasswordLogin()}, err: errors.New("connection reset")},
		{records: []*model.FlowRecord{flowtest.KeyLogin()}},
	}}
	sink := &fakeSink{}
	p := New(testConfig(t), src, fixedClassifier{}, []model.Sink{sink}, logging.Discard())

	require.NoError(t, run(t, p))
	assert.Len(t, sink.results, 1)
}

func TestRun_UnknownCategoryIsFatal(t *testing.T) {
	src := &fakeSource{steps: []step{
		{records: []*model.FlowRecord{flowtest.PasswordLogin()}},
		{records: []*model.FlowRecord{flowtest.KeyLogin()}},
	}}
	sink := &fakeSink{}
	p := New(testConfig(t), src, fixedClassifier{label: "32 + 32"}, []model.Sink{sink}, logging.Discard())

	err := run(t, p)
	assert.ErrorIs(t, err, detector.ErrUnknownCategory)
	assert.Empty(t, sink.results)
}

func TestRun_EmptyLabelIsFatal(t *testing.T) {
	src := &fakeSource{steps: []step{{records: []*model.FlowRecord{flowtest.PasswordLogin()}}}}
	sink := &fakeSink{}
	cfg := testConfig(t)
	cfg.Classifier.Type = "grpc"
	p := New(cfg, src, fixedClassifier{}, []model.Sink{sink}, logging.Discard())

	err := run(t, p)
	assert.ErrorIs(t, err, detector.ErrUnknownCategory)
	assert.Empty(t, sink.results)

	// Only the "none" classifier may leave flows without a category
	cfg.Classifier.Type = "none"
	p = New(cfg, &fakeSource{}, fixedClassifier{}, nil, logging.Discard())
	results, _, err := p.Process(context.Background(), []*model.FlowRecord{flowtest.PasswordLogin()}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.MethodPassword, results[0].Method)
}

func TestRun_ClassifierErrorIsFatal(t *testing.T) {
	src := &fakeSource{steps: []step{{records: []*model.FlowRecord{flowtest.PasswordLogin()}}}}
	p := New(testConfig(t), src, fixedClassifier{err: errors.New("model offline")}, nil, logging.Discard())

	err := run(t, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model offline")
}

func TestRun_SinkErrorsAreSkipped(t *testing.T) {
	src := &fakeSource{steps: []step{{records: []*model.FlowRecord{flowtest.PasswordLogin(), flowtest.KeyLogin()}}}}
	broken := &fakeSink{err: errors.New("broker down")}
	good := &fakeSink{}
	p := New(testConfig(t), src, fixedClassifier{}, []model.Sink{broken, good}, logging.Discard())

	require.NoError(t, run(t, p))
	assert.Len(t, good.results, 2)
	snap := p.Stats().Snapshot()
	assert.Equal(t, uint64(2), snap.Emitted)
	// Two failed sends and one failed flush.
	assert.Equal(t, uint64(3), snap.EmitErrors)
}

func TestRun_CancelDrainsQueue(t *testing.T) {
	src := &blockingSource{served: make(chan struct{})}
	sink := &fakeSink{}
	p := New(testConfig(t), src, fixedClassifier{}, []model.Sink{sink}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	<-src.served
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}
	assert.Len(t, sink.results, 1)
}

func TestProcess_Deterministic(t *testing.T) {
	p := New(testConfig(t), &fakeSource{}, fixedClassifier{label: "16 + 64"}, nil, logging.Discard())
	records := []*model.FlowRecord{flowtest.PasswordLogin(), flowtest.KeyLogin(), flowtest.RepeatedFailure(), notSSH()}

	first, fb, err := p.Process(context.Background(), records, nil)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "16 + 68", fb.Flows[0].MacCategory())

	second, _, err := p.Process(context.Background(), records, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCollector(t *testing.T) {
	stats := &Stats{}
	stats.Batches.Add(2)
	stats.record(&model.Result{Auth: model.AuthOK, Method: model.MethodKey})

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(stats)))

	expected := `
# HELP sshspectra_batches_total Batches taken from the flow source
# TYPE sshspectra_batches_total counter
sshspectra_batches_total 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "sshspectra_batches_total"))
	// One series per enum value: 3 results, 3 methods, 3 timings, 5 traffic types.
	assert.Equal(t, 14, testutil.CollectAndCount(NewCollector(stats), "sshspectra_results_total"))
}
