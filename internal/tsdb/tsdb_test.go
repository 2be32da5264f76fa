package tsdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openpdu/powerd/internal/sensor"
)

func sampleAt(source string, ts time.Time, fields map[string]float64) sensor.Sample {
	return sensor.Sample{Source: source, Fields: fields, Timestamp: ts, Seq: ts.UnixNano()}
}

func TestEncodeLine(t *testing.T) {
	var b strings.Builder
	ts := time.Unix(1700000000, 123)
	encodeLine(&b, sampleAt("relay_1", ts, map[string]float64{
		"voltage": 12.5,
		"current": 1.25,
		"power":   15.625,
	}))

	assert.Equal(t,
		"samples,source=relay_1 current=1.25,power=15.625,voltage=12.5 1700000000000000123\n",
		b.String())
}

func TestClientWriteBatch(t *testing.T) {
	var gotBody string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/write", r.URL.Path)
		require.Equal(t, "powerd", r.URL.Query().Get("bucket"))
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "org", "powerd", "secret")
	err := c.WriteBatch(context.Background(), []sensor.Sample{
		sampleAt("relay_1", time.Unix(1, 0), map[string]float64{"current": 1}),
		sampleAt("environmental", time.Unix(2, 0), map[string]float64{"temperature": 21}),
	})
	require.NoError(t, err)
	assert.Equal(t, "Token secret", gotAuth)
	assert.Contains(t, gotBody, "samples,source=relay_1 current=1 1000000000\n")
	assert.Contains(t, gotBody, "samples,source=environmental temperature=21 2000000000\n")
}

func TestClientWriteBatchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"bucket not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "org", "powerd", "secret")
	err := c.WriteBatch(context.Background(), []sensor.Sample{
		sampleAt("relay_1", time.Unix(1, 0), map[string]float64{"current": 1}),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestClientQuery(t *testing.T) {
	csvBody := strings.Join([]string{
		"#datatype,string,long,dateTime:RFC3339,double,string,string",
		"#group,false,false,false,false,true,true",
		"#default,_result,,,,,",
		",result,table,_time,_value,_field,source",
		",_result,0,2026-08-26T10:00:00Z,12.5,voltage,relay_1",
		",_result,0,2026-08-26T10:00:05Z,12.6,voltage,relay_1",
		"",
	}, "\n")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/query", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `r.source == "relay_1"`)
		assert.Contains(t, string(body), `r._field == "voltage"`)
		w.Header().Set("Content-Type", "application/csv")
		_, _ = w.Write([]byte(csvBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "org", "powerd", "secret")
	points, err := c.Query(context.Background(), QueryParams{
		Source: "relay_1",
		Field:  "voltage",
		Start:  time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 12.5, points[0].Value)
	assert.True(t, points[0].Time.Before(points[1].Time))
}

// stubWriter records batches and can be told to fail.
type stubWriter struct {
	mu      sync.Mutex
	batches [][]sensor.Sample
	err     error
}

func (w *stubWriter) WriteBatch(ctx context.Context, samples []sensor.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	cp := make([]sensor.Sample, len(samples))
	copy(cp, samples)
	w.batches = append(w.batches, cp)
	return nil
}

func (w *stubWriter) batchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

func (w *stubWriter) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

func TestSinkFlushesOnBatchSize(t *testing.T) {
	w := &stubWriter{}
	s := NewSink(w, WithBatchSize(3), WithFlushInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()

	for i := 0; i < 3; i++ {
		s.Enqueue(sampleAt("relay_1", time.Now(), map[string]float64{"current": float64(i)}))
	}

	require.Eventually(t, func() bool { return w.batchCount() == 1 }, time.Second, 5*time.Millisecond)

	w.mu.Lock()
	assert.Len(t, w.batches[0], 3)
	w.mu.Unlock()

	cancel()
	<-done
}

func TestSinkFlushesOnInterval(t *testing.T) {
	w := &stubWriter{}
	s := NewSink(w, WithBatchSize(100), WithFlushInterval(30*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()

	s.Enqueue(sampleAt("relay_1", time.Now(), map[string]float64{"current": 1}))

	require.Eventually(t, func() bool { return w.batchCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestSinkFinalFlushOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w := &stubWriter{}
	s := NewSink(w, WithBatchSize(100), WithFlushInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()

	s.Enqueue(sampleAt("relay_1", time.Now(), map[string]float64{"current": 1}))
	s.Enqueue(sampleAt("relay_2", time.Now(), map[string]float64{"current": 2}))
	time.Sleep(20 * time.Millisecond)

	cancel()
	<-done

	require.Equal(t, 1, w.batchCount())
	w.mu.Lock()
	assert.Len(t, w.batches[0], 2)
	w.mu.Unlock()
}

func TestSinkBreakerDropsBatchesWhileOpen(t *testing.T) {
	w := &stubWriter{}
	w.setErr(errors.New("store down"))
	s := NewSink(w, WithBatchSize(1), WithFlushInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = s.Run(ctx) }()

	// threshold failures open the breaker
	for i := 0; i < breakerThreshold+2; i++ {
		s.Enqueue(sampleAt("relay_1", time.Now(), map[string]float64{"current": 1}))
		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, "open", s.breaker.State())

	cancel()
	<-done
	assert.Equal(t, 0, w.batchCount())
}

func TestEnqueueNeverBlocksWhenQueueFull(t *testing.T) {
	w := &stubWriter{}
	s := NewSink(w) // no Run: queue only fills

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		for i := 0; i < DefaultQueueDepth+50; i++ {
			s.Enqueue(sampleAt("relay_1", time.Now(), map[string]float64{"current": 1}))
		}
	}()

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}
