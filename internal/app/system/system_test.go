package system

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/R3E-Network/storefront/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingService struct {
	name     string
	startErr error
	log      *[]string
}

func (r recordingService) Name() string { return r.name }

func (r recordingService) Start(context.Context) error {
	*r.log = append(*r.log, "start:"+r.name)
	return r.startErr
}

func (r recordingService) Stop(context.Context) error {
	*r.log = append(*r.log, "stop:"+r.name)
	return nil
}

func TestManagerOrdersLifecycle(t *testing.T) {
	var calls []string
	m := NewManager()
	require.NoError(t, m.Register(recordingService{name: "a", log: &calls}))
	require.NoError(t, m.Register(recordingService{name: "b", log: &calls}))
	assert.Error(t, m.Register(recordingService{name: "a", log: &calls}))
	assert.Equal(t, []string{"a", "b"}, m.Names())

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Register(NoopService{ServiceName: "late"}))
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, calls)
}

func TestManagerRollsBackFailedStart(t *testing.T) {
	var calls []string
	m := NewManager()
	require.NoError(t, m.Register(recordingService{name: "a", log: &calls}))
	require.NoError(t, m.Register(recordingService{name: "b", log: &calls, startErr: errors.New("boom")}))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b")
	assert.Equal(t, []string{"start:a", "start:b", "stop:a"}, calls)
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := NewScheduler(logger.NewNop(), time.Second)
	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.NoError(t, s.Add("disabled", "", func(context.Context) error { return nil }))
	assert.Error(t, s.Add("tick", "@every 1s", func(context.Context) error { return nil }))
	assert.Error(t, s.Add("bad", "not a spec", func(context.Context) error { return nil }))
	assert.Equal(t, []string{"tick"}, s.Jobs())

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestSchedulerRunNow(t *testing.T) {
	s := NewScheduler(logger.NewNop(), 0)
	err := s.RunNow(context.Background(), "once", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return errors.New("done")
	})
	assert.EqualError(t, err, "done")
}

func TestManagerDescriptors(t *testing.T) {
	var calls []string
	m := NewManager()
	sched := NewScheduler(logger.NewNop(), time.Second)
	require.NoError(t, sched.Add("purge", "@every 1h", func(context.Context) error { return nil }))
	require.NoError(t, sched.Add("backup", "@daily", func(context.Context) error { return nil }))

	require.NoError(t, m.Register(NoopService{ServiceName: "catalog", Capabilities: []string{"products"}}))
	require.NoError(t, m.Register(recordingService{name: "plain", log: &calls}))
	require.NoError(t, m.Register(sched))

	assert.Equal(t, []Descriptor{
		{Name: "catalog", Capabilities: []string{"products"}},
		{Name: "plain"},
		{Name: "scheduler", Capabilities: []string{"job:backup", "job:purge"}},
	}, m.Descriptors())
}
