package integration

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/requestsink/requestsink/internal/port/inbound"
)

// buildPerfInput creates a capture of typical webhook size.
func buildPerfInput(n int) inbound.CaptureInput {
	return inbound.CaptureInput{
		Method: "POST",
		Path:   fmt.Sprintf("/hooks/%d", n),
		Headers: map[string][]string{
			"Content-Type": {"application/json"},
			"User-Agent":   {"perf/1.0"},
			"X-Signature":  {"sha256=0f3c"},
		},
		Query:         map[string][]string{"attempt": {"1"}},
		Body:          []byte(`{"event":"order.created","id":12345,"total":"19.99"}`),
		ContentLength: 52,
		RemoteAddr:    "10.0.0.1:51000",
	}
}

// BenchmarkCapture measures the in-process capture path: resolve, record,
// append and publish.
func BenchmarkCapture(b *testing.B) {
	s := newStack(b)
	sk, err := s.sinks.Create(context.Background(), "")
	if err != nil {
		b.Fatalf("Create() error = %v", err)
	}
	ctx := context.Background()
	in := buildPerfInput(0)

	b.ResetTimer()
	for b.Loop() {
		_, _ = s.capture.Capture(ctx, sk.ID, in)
	}
}

// BenchmarkCaptureParallel spreads parallel captures over many sinks.
func BenchmarkCaptureParallel(b *testing.B) {
	s := newStack(b)
	ids := make([]string, 64)
	for i := range ids {
		sk, err := s.sinks.Create(context.Background(), "")
		if err != nil {
			b.Fatalf("Create() error = %v", err)
		}
		ids[i] = sk.ID
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		i := 0
		in := buildPerfInput(0)
		for pb.Next() {
			_, _ = s.capture.Capture(ctx, ids[i%len(ids)], in)
			i++
		}
	})
}

// TestCaptureLatencyP99 runs captures under parallel load and asserts the
// p50 and p99 stay under the thresholds.
func TestCaptureLatencyP99(t *testing.T) {
	if testing.Short() {
		t.Skip("latency test skipped in short mode")
	}

	s := newStack(t)

	numGoroutines := runtime.GOMAXPROCS(0)
	if numGoroutines < 2 {
		numGoroutines = 2
	}
	iterationsPerGoroutine := 1000 / numGoroutines
	if iterationsPerGoroutine < 50 {
		iterationsPerGoroutine = 50
	}

	ids := make([]string, numGoroutines)
	for i := range ids {
		sk, err := s.sinks.Create(context.Background(), "")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids[i] = sk.ID
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, _ = s.capture.Capture(ctx, ids[0], buildPerfInput(i))
	}

	var mu sync.Mutex
	latencies := make([]time.Duration, 0, numGoroutines*iterationsPerGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(sinkID string) {
			defer wg.Done()
			local := make([]time.Duration, 0, iterationsPerGoroutine)
			for i := 0; i < iterationsPerGoroutine; i++ {
				in := buildPerfInput(i)
				start := time.Now()
				_, err := s.capture.Capture(ctx, sinkID, in)
				elapsed := time.Since(start)
				if err != nil {
					t.Errorf("Capture() returned error: %v", err)
					return
				}
				local = append(local, elapsed)
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(ids[g])
	}
	wg.Wait()

	if len(latencies) == 0 {
		t.Fatal("no latencies collected")
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	p50 := latencies[len(latencies)*50/100]
	p99Idx := len(latencies) * 99 / 100
	if p99Idx >= len(latencies) {
		p99Idx = len(latencies) - 1
	}
	p99 := latencies[p99Idx]

	t.Logf("Capture latency (n=%d, goroutines=%d): p50 %v, p99 %v, max %v",
		len(latencies), numGoroutines, p50, p99, latencies[len(latencies)-1])

	if p99 > perfP99Threshold {
		t.Errorf("p99 latency %v exceeds threshold %v", p99, perfP99Threshold)
	}
	if p50 > perfP50Threshold {
		t.Errorf("p50 latency %v exceeds threshold %v", p50, perfP50Threshold)
	}
}
