package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func validEvent(stage Stage) Event {
	return Event{
		JobID:       "job-1",
		TS:          time.Now().UTC(),
		Stage:       stage,
		Domain:      "example.org",
		URL:         "https://example.org/",
		StatusClass: Status2xx,
	}
}

func TestHubFlushesOnBatchSize(t *testing.T) {
	sink := &captureSink{}
	h := NewHub(Config{MaxBatchEvents: 3, MaxBatchWait: time.Hour}, sink)

	for i := 0; i < 3; i++ {
		h.Emit(validEvent(StagePageFetched))
	}
	require.Eventually(t, func() bool { return sink.total() == 3 }, time.Second, 10*time.Millisecond)
	require.NoError(t, h.Close(context.Background()))
}

func TestHubFlushesOnTimer(t *testing.T) {
	sink := &captureSink{}
	h := NewHub(Config{MaxBatchEvents: 1000, MaxBatchWait: 20 * time.Millisecond}, sink)

	h.Emit(validEvent(StageJobHeartbeat))
	require.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, h.Close(context.Background()))
}

func TestHubDrainsOnClose(t *testing.T) {
	sink := &captureSink{}
	h := NewHub(Config{MaxBatchEvents: 1000, MaxBatchWait: time.Hour}, sink)

	for i := 0; i < 5; i++ {
		h.Emit(validEvent(StagePageFetched))
	}
	require.NoError(t, h.Close(context.Background()))
	require.Equal(t, 5, sink.total())
	require.True(t, sink.closed)
}

func TestHubDropsInvalidEvents(t *testing.T) {
	sink := &captureSink{}
	h := NewHub(Config{MaxBatchEvents: 1, MaxBatchWait: time.Hour}, sink)

	h.Emit(Event{Stage: StageJobStart})
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, sink.total())
	require.NoError(t, h.Close(context.Background()))
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	sink := &captureSink{}
	h := NewHub(Config{}, sink)
	require.NoError(t, h.Close(context.Background()))
	h.Emit(validEvent(StagePageFetched))
	require.Zero(t, sink.total())
}

func TestEventValidate(t *testing.T) {
	cases := []struct {
		name    string
		evt     Event
		wantErr bool
	}{
		{"job start ok", validEvent(StageJobStart), false},
		{"missing job id", Event{TS: time.Now(), Stage: StageJobStart}, true},
		{"missing timestamp", Event{JobID: "j", Stage: StageJobStart}, true},
		{"unknown stage", Event{JobID: "j", TS: time.Now(), Stage: "BOGUS"}, true},
		{"page fetched without domain", Event{JobID: "j", TS: time.Now(), Stage: StagePageFetched, StatusClass: Status2xx}, true},
		{"page skipped without url", Event{JobID: "j", TS: time.Now(), Stage: StagePageSkipped}, true},
		{"negative duration", Event{JobID: "j", TS: time.Now(), Stage: StageJobDone, Dur: -time.Second}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.evt.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	require.Equal(t, Status2xx, ClassifyStatus(204))
	require.Equal(t, Status3xx, ClassifyStatus(301))
	require.Equal(t, Status4xx, ClassifyStatus(404))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(0))
}
