package dispatcher_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	trainingmodel "github.com/myriadstar/trainer/internal/model/training"
	"github.com/myriadstar/trainer/internal/pkg/memory"
	"github.com/myriadstar/trainer/internal/pkg/redis"
	"github.com/myriadstar/trainer/internal/pkg/trainer"
	"github.com/myriadstar/trainer/internal/repository/dispatcher"
)

const (
	streamKey = "mystar:trainer:jobs"
	group     = "trainer-workers"
	bucket    = "model-artifacts"
	deadline  = 100 * time.Millisecond
	poll      = 5 * time.Millisecond
	waitFor   = 3 * time.Second
	tick      = 5 * time.Millisecond
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*trainingmodel.ArtifactEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event *trainingmodel.ArtifactEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.err = err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.events)
}

// observedStream is the Redis job stream running on miniredis, with counters and
// consumer group inspection for assertions.
type observedStream struct {
	*redis.Stream

	server *miniredis.Miniredis
	client *goredis.Client
	acks   atomic.Int64
}

func newObservedStream(t *testing.T) *observedStream {
	t.Helper()

	server := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		//nolint:errcheck // The server is torn down with the test
		client.Close()
	})

	stream := redis.NewStream(client, &redis.StreamConfig{
		Key:              streamKey,
		DeliveryDeadline: deadline,
		PollInterval:     poll,
	})
	require.NoError(t, stream.EnsureGroup(t.Context(), group))

	return &observedStream{
		Stream: stream,
		server: server,
		client: client,
	}
}

// Ack acknowledges the entry and counts it.
func (s *observedStream) Ack(ctx context.Context, group, position string) error {
	if err := s.Stream.Ack(ctx, group, position); err != nil {
		return err
	}

	s.acks.Add(1)
	return nil
}

// Acks returns the number of successful acknowledgements.
func (s *observedStream) Acks() int {
	return int(s.acks.Load())
}

// Pending returns the number of entries delivered to the group and not yet acknowledged.
func (s *observedStream) Pending(group string) int {
	pending, err := s.client.XPending(context.Background(), streamKey, group).Result()
	if err != nil {
		return -1
	}

	return int(pending.Count)
}

// IsPending reports whether the entry at position awaits acknowledgement.
func (s *observedStream) IsPending(group, position string) bool {
	entries, err := s.client.XPendingExt(context.Background(), &goredis.XPendingExtArgs{
		Stream: streamKey,
		Group:  group,
		Start:  position,
		End:    position,
		Count:  1,
	}).Result()

	return err == nil && len(entries) == 1
}

// SetDown makes every Redis command fail while down is true.
func (s *observedStream) SetDown(down bool) {
	if down {
		s.server.SetError("ERR connection lost")
		return
	}

	s.server.SetError("")
}

type fixture struct {
	stream    *observedStream
	store     *memory.Store
	publisher *recordingPublisher
	repo      *dispatcher.Repository
}

func newFixture(t *testing.T, workers, errorsBuffer int) *fixture {
	t.Helper()

	stream := newObservedStream(t)
	store := memory.NewStore("s3")
	publisher := &recordingPublisher{}

	repo := dispatcher.New(&dispatcher.Config{
		ConsumerGroup: group,
		ConsumerName:  "worker",
		Bucket:        bucket,
		Workers:       workers,
		BatchSize:     1,
		PollInterval:  poll,
		JobTimeout:    time.Second,
		ErrorsBuffer:  errorsBuffer,
	}, &dispatcher.Services{
		Stream:    stream,
		Store:     store,
		Trainer:   trainer.NewPlaceholder(0),
		Publisher: publisher,
	})

	return &fixture{
		stream:    stream,
		store:     store,
		publisher: publisher,
		repo:      repo,
	}
}

// run starts the dispatcher and stops it when the test ends.
func (f *fixture) run(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.repo.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(waitFor):
			t.Error("dispatcher did not stop")
		}
	})
}

func (f *fixture) submit(t *testing.T, job *trainingmodel.TrainJob) string {
	t.Helper()

	payload, err := trainingmodel.EncodeJob(job)
	require.NoError(t, err)

	position, err := f.stream.Append(t.Context(), payload)
	require.NoError(t, err)

	return position
}

func newJob(jobID string) *trainingmodel.TrainJob {
	return trainingmodel.NewTrainJob(jobID, "star-42", "", time.Now())
}

func TestExecute_Idempotent(t *testing.T) {
	f := newFixture(t, 1, 8)
	job := newJob("j1")

	first, err := f.repo.Execute(t.Context(), job)
	require.NoError(t, err)

	second, err := f.repo.Execute(t.Context(), job)
	require.NoError(t, err)

	assert.Equal(t, "s3://model-artifacts/star-42_j1", first.URI)
	assert.Equal(t, first.URI, second.URI)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, 1, f.store.Objects(bucket))

	content, err := f.store.Get(t.Context(), bucket, "star-42_j1")
	require.NoError(t, err)
	assert.Equal(t, "fake-weights for star=star-42 job=j1 method=qlora", string(content))

	require.Equal(t, 2, f.publisher.count())
	assert.Equal(t, f.publisher.events[0].Checksum, f.publisher.events[1].Checksum)
}

func TestExecute_Stages(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		stage trainingmodel.Stage
		is    error
	}{
		{
			name:  "store down",
			setup: func(f *fixture) { f.store.SetDown(true) },
			stage: trainingmodel.StageStore,
			is:    trainingmodel.ErrStorageUnavailable,
		},
		{
			name:  "put fails",
			setup: func(f *fixture) { f.store.FailPuts(1) },
			stage: trainingmodel.StageStore,
			is:    trainingmodel.ErrStorageUnavailable,
		},
		{
			name:  "publish fails",
			setup: func(f *fixture) { f.publisher.setErr(errors.New("broker not available")) },
			stage: trainingmodel.StagePublish,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1, 8)
			tt.setup(f)

			_, err := f.repo.Execute(t.Context(), newJob("j1"))
			require.Error(t, err)

			var dispatchErr *trainingmodel.DispatchError
			require.ErrorAs(t, err, &dispatchErr)
			assert.Equal(t, tt.stage, dispatchErr.Stage)
			assert.Equal(t, "j1", dispatchErr.JobID)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestExecute_TrainCanceled(t *testing.T) {
	f := newFixture(t, 1, 8)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := f.repo.Execute(ctx, newJob("j1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.store.Puts())
}

func TestRun_CompletesAndAcks(t *testing.T) {
	f := newFixture(t, 1, 8)
	f.run(t)

	f.submit(t, newJob("j1"))

	assert.Eventually(t, func() bool {
		return f.stream.Acks() == 1
	}, waitFor, tick)
	assert.Equal(t, 0, f.stream.Pending(group))
	assert.Equal(t, 1, f.store.Objects(bucket))
	assert.Equal(t, 1, f.publisher.count())
}

func TestRun_RedeliversAfterFailure(t *testing.T) {
	f := newFixture(t, 1, 8)
	f.store.FailPuts(1)
	f.run(t)

	f.submit(t, newJob("j1"))

	select {
	case dispatchErr := <-f.repo.Errors():
		assert.Equal(t, trainingmodel.StageStore, dispatchErr.Stage)
		assert.ErrorIs(t, dispatchErr, trainingmodel.ErrStorageUnavailable)
	case <-time.After(waitFor):
		t.Fatal("expected a dispatch error")
	}

	// The failed attempt is not acknowledged, so the entry comes back after the deadline.
	assert.Eventually(t, func() bool {
		return f.stream.Acks() == 1 && f.store.Objects(bucket) == 1
	}, waitFor, tick)
	assert.Equal(t, 0, f.stream.Pending(group))
}

func TestRun_AcksOnlyAfterPut(t *testing.T) {
	f := newFixture(t, 1, 8)

	var (
		mu           sync.Mutex
		pendingOnPut []bool
		position     string
	)
	f.store.OnPut(func(_, _ string) {
		mu.Lock()
		defer mu.Unlock()
		pendingOnPut = append(pendingOnPut, f.stream.IsPending(group, position))
	})

	mu.Lock()
	position = f.submit(t, newJob("j1"))
	mu.Unlock()

	f.run(t)

	assert.Eventually(t, func() bool {
		return f.stream.Acks() == 1
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, pendingOnPut, 1)
	assert.True(t, pendingOnPut[0])
}

func TestRun_PoisonMessageContained(t *testing.T) {
	f := newFixture(t, 1, 8)
	f.run(t)

	poisonPosition, err := f.stream.Append(t.Context(), []byte("{not json"))
	require.NoError(t, err)
	f.submit(t, newJob("j1"))

	select {
	case dispatchErr := <-f.repo.Errors():
		assert.Equal(t, trainingmodel.StageDecode, dispatchErr.Stage)
		assert.Equal(t, poisonPosition, dispatchErr.Position)
		assert.ErrorIs(t, dispatchErr, trainingmodel.ErrDeserialization)
	case <-time.After(waitFor):
		t.Fatal("expected a dispatch error")
	}

	assert.Eventually(t, func() bool {
		return f.stream.Acks() == 2 && f.store.Objects(bucket) == 1
	}, waitFor, tick)
	assert.False(t, f.stream.IsPending(group, poisonPosition))
}

func TestRun_FullErrorsChannelDoesNotBlock(t *testing.T) {
	f := newFixture(t, 1, 1)
	f.run(t)

	for range 3 {
		_, err := f.stream.Append(t.Context(), []byte("garbage"))
		require.NoError(t, err)
	}
	f.submit(t, newJob("j1"))

	assert.Eventually(t, func() bool {
		return f.stream.Acks() == 4 && f.store.Objects(bucket) == 1
	}, waitFor, tick)
	assert.Len(t, f.repo.Errors(), 1)
}

func TestRun_SurvivesStreamOutage(t *testing.T) {
	f := newFixture(t, 1, 8)
	f.stream.SetDown(true)
	f.run(t)

	time.Sleep(5 * poll)
	f.stream.SetDown(false)
	f.submit(t, newJob("j1"))

	assert.Eventually(t, func() bool {
		return f.stream.Acks() == 1
	}, waitFor, tick)
}

func TestRun_ManyWorkersShareTheGroup(t *testing.T) {
	const jobs = 20

	f := newFixture(t, 4, jobs)
	f.run(t)

	for i := range jobs {
		f.submit(t, newJob(fmt.Sprintf("j%d", i)))
	}

	assert.Eventually(t, func() bool {
		return f.stream.Acks() == jobs
	}, waitFor, tick)
	assert.Equal(t, jobs, f.store.Objects(bucket))
	assert.Equal(t, 0, f.stream.Pending(group))
}

func TestRun_ReclaimsFromCrashedConsumer(t *testing.T) {
	f := newFixture(t, 2, 8)

	position := f.submit(t, newJob("j1"))

	// A consumer takes the entry and dies without acknowledging it.
	records, err := f.stream.Read(t.Context(), group, "crashed", 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.True(t, f.stream.IsPending(group, position))

	poisonPosition, err := f.stream.Append(t.Context(), []byte("{not json"))
	require.NoError(t, err)

	f.run(t)

	select {
	case dispatchErr := <-f.repo.Errors():
		assert.Equal(t, trainingmodel.StageDecode, dispatchErr.Stage)
		assert.Equal(t, poisonPosition, dispatchErr.Position)
	case <-time.After(waitFor):
		t.Fatal("expected a dispatch error")
	}

	assert.Eventually(t, func() bool {
		return f.stream.Pending(group) == 0 && f.store.Objects(bucket) == 1
	}, waitFor, tick)
	assert.Equal(t, 2, f.stream.Acks())
}
