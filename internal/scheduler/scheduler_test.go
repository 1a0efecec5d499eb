package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/salewatch/internal/model"
)

func okJob(calls *atomic.Int32) Job {
	return func(context.Context) (*model.RunResult, error) {
		n := calls.Add(1)
		return &model.RunResult{RunID: "run", Delivered: int(n)}, nil
	}
}

func TestNew_Validation(t *testing.T) {
	var calls atomic.Int32

	_, err := New("not a cron", "Asia/Tokyo", okJob(&calls))
	assert.Error(t, err)

	_, err = New("0 8 * * *", "Nowhere/Special", okJob(&calls))
	assert.Error(t, err)

	s, err := New("0 8 * * *", "Asia/Tokyo", okJob(&calls))
	require.NoError(t, err)
	st := s.Status()
	assert.Equal(t, "0 8 * * *", st.Schedule)
	assert.Equal(t, "Asia/Tokyo", st.Timezone)
	assert.Zero(t, st.Runs)
}

func TestTrigger_RecordsLastRun(t *testing.T) {
	var calls atomic.Int32
	s, err := New("@daily", "UTC", okJob(&calls))
	require.NoError(t, err)

	assert.True(t, s.Trigger(context.Background()))
	assert.True(t, s.Trigger(context.Background()))

	st := s.Status()
	assert.Equal(t, 2, st.Runs)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, 2, st.LastRun.Delivered)
	assert.Empty(t, st.LastError)
	assert.False(t, st.Running)
}

func TestTrigger_RecordsError(t *testing.T) {
	s, err := New("@daily", "UTC", func(context.Context) (*model.RunResult, error) {
		return &model.RunResult{RunID: "x", Error: "boom"}, errors.New("boom")
	})
	require.NoError(t, err)

	s.Trigger(context.Background())
	st := s.Status()
	assert.Equal(t, "boom", st.LastError)
	assert.Equal(t, "x", st.LastRun.RunID)
}

func TestTrigger_SkipsWhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	s, err := New("@daily", "UTC", func(context.Context) (*model.RunResult, error) {
		close(started)
		<-release
		return &model.RunResult{}, nil
	})
	require.NoError(t, err)

	done := make(chan bool)
	go func() { done <- s.Trigger(context.Background()) }()
	<-started

	assert.True(t, s.Status().Running)
	assert.False(t, s.Trigger(context.Background()), "overlapping trigger is skipped")

	close(release)
	assert.True(t, <-done)

	st := s.Status()
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, 1, st.Skipped)
	assert.False(t, st.Running)
}

func TestStart_FiresOnSchedule(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a cron tick")
	}
	var calls atomic.Int32
	s, err := New("@every 1s", "UTC", okJob(&calls))
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop(context.Background())

	next := s.Status().Next
	require.NotNil(t, next)
	assert.False(t, next.IsZero())
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestStop_WaitsBoundedByContext(t *testing.T) {
	var calls atomic.Int32
	s, err := New("@daily", "UTC", okJob(&calls))
	require.NoError(t, err)
	s.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	s.Stop(ctx)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStop_WaitsForTriggeredRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	s, err := New("@daily", "UTC", func(context.Context) (*model.RunResult, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return &model.RunResult{}, nil
	})
	require.NoError(t, err)
	s.Start(context.Background())

	go s.Trigger(context.Background())
	<-started

	stopped := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was in progress")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the run finished")
	}

	assert.False(t, s.Trigger(context.Background()), "no runs after Stop")
	assert.Equal(t, int32(1), calls.Load())
}

func TestStatus_OmitsNextBeforeStart(t *testing.T) {
	var calls atomic.Int32
	s, err := New("@daily", "UTC", okJob(&calls))
	require.NoError(t, err)

	st := s.Status()
	assert.Nil(t, st.Next)

	b, err := json.Marshal(st)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "next_run")
}
