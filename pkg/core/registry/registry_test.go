package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/aether/pkg/core/task"
)

func TestRegisterAssignsIDAndToken(t *testing.T) {
	r := New(time.Minute)

	w, err := r.Register("", "svc-a", "group-1", []task.Capability{{Name: "process", Kind: task.KindStep}}, []string{"greet"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, w.WorkerID)
	assert.NotEmpty(t, w.SessionToken)
	assert.Equal(t, SessionActive, w.State)
}

func TestRegisterDuplicateActive(t *testing.T) {
	r := New(time.Minute)

	_, err := r.Register("worker-1", "svc", "g", nil, nil, nil)
	require.NoError(t, err)

	_, err = r.Register("worker-1", "svc", "g", nil, nil, nil)
	assert.ErrorIs(t, err, ErrDuplicateWorker)
}

func TestRegisterRevivesDeadSlot(t *testing.T) {
	r := New(time.Millisecond)

	w1, err := r.Register("worker-1", "svc", "g", nil, []string{"t"}, nil)
	require.NoError(t, err)

	// 心跳超时判死
	time.Sleep(5 * time.Millisecond)
	r.sweep()
	got, ok := r.GetByID("worker-1")
	require.True(t, ok)
	assert.Equal(t, SessionDead, got.State)

	// Dead槽位可复活，旧token作废
	w2, err := r.Register("worker-1", "svc", "g", nil, []string{"t"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, w1.SessionToken, w2.SessionToken)

	_, err = r.Get(w1.SessionToken)
	assert.ErrorIs(t, err, ErrUnknownSession)
	_, err = r.Get(w2.SessionToken)
	assert.NoError(t, err)
}

func TestHeartbeatUnknownSession(t *testing.T) {
	r := New(time.Minute)
	assert.ErrorIs(t, r.Heartbeat("nope"), ErrUnknownSession)
}

func TestHeartbeatKeepsAlive(t *testing.T) {
	r := New(50 * time.Millisecond)
	w, err := r.Register("worker-1", "svc", "g", nil, nil, nil)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, r.Heartbeat(w.SessionToken))
	time.Sleep(30 * time.Millisecond)
	r.sweep()

	got, _ := r.GetByID("worker-1")
	assert.Equal(t, SessionActive, got.State)
}

func TestSweepMarksDeadAndFiresCallback(t *testing.T) {
	r := New(time.Millisecond)
	var deadWorker, deadToken string
	r.OnDead(func(workerID, token string) {
		deadWorker = workerID
		deadToken = token
	})

	w, err := r.Register("worker-1", "svc", "g", nil, nil, nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	r.sweep()

	assert.Equal(t, "worker-1", deadWorker)
	assert.Equal(t, w.SessionToken, deadToken)
}

func TestLookupForActiveOnly(t *testing.T) {
	r := New(time.Minute)

	w1, err := r.Register("worker-1", "svc", "g", nil, []string{"greet", "order"}, nil)
	require.NoError(t, err)
	_, err = r.Register("worker-2", "svc", "g", nil, []string{"order"}, nil)
	require.NoError(t, err)

	matched := r.LookupFor("greet")
	require.Len(t, matched, 1)
	assert.Equal(t, "worker-1", matched[0].WorkerID)

	assert.Len(t, r.LookupFor("order"), 2)

	// Draining不再被路由
	require.NoError(t, r.Drain(w1.SessionToken))
	assert.Empty(t, r.LookupFor("greet"))
}

func TestDrainDeadSession(t *testing.T) {
	r := New(time.Millisecond)
	w, err := r.Register("worker-1", "svc", "g", nil, nil, nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	r.sweep()

	assert.ErrorIs(t, r.Drain(w.SessionToken), ErrSessionDead)
	assert.ErrorIs(t, r.Heartbeat(w.SessionToken), ErrSessionDead)
}

func TestTypeModeFromMetadata(t *testing.T) {
	r := New(time.Minute)

	_, err := r.Register("worker-1", "svc", "g", nil, []string{"greet"}, map[string]string{"mode": "body"})
	require.NoError(t, err)

	mode, ok := r.TypeMode("greet")
	require.True(t, ok)
	assert.Equal(t, "body", mode)

	_, ok = r.TypeMode("other")
	assert.False(t, ok)
}
