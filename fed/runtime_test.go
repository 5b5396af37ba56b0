package fed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastBackoff keeps retry tests quick on the wall clock.
func fastBackoff() BackoffConfig {
	return BackoffConfig{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 2}
}

func TestRuntime_CreateFederate_DuplicateName(t *testing.T) {
	// GIVEN a federation expecting two federates
	rt := NewRuntime()
	defer rt.Close()
	cfg := testConfig(t, 2)
	_, err := rt.CreateFederate("twin", cfg)
	require.NoError(t, err)

	// WHEN a second federate uses the same name
	_, err = rt.CreateFederate("twin", cfg)

	// THEN it is rejected
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestRuntime_CreateFederate_EmptyName(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	_, err := rt.CreateFederate("", nil)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRuntime_CreateFederate_NetworkCoreUnavailable(t *testing.T) {
	// GIVEN a core type no backend is linked for
	rt := NewRuntime()
	defer rt.Close()
	cfg := NewConfig()
	require.NoError(t, cfg.SetCoreType("zmq"))
	cfg.ConnectRetries = 2
	cfg.Backoff = fastBackoff()

	// WHEN a federate is created on it
	_, err := rt.CreateFederate("remote", cfg)

	// THEN it fails with ErrConnection after the bounded retries
	assert.ErrorIs(t, err, ErrConnection)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRuntime_CreateFederate_CoreTypeAliasUsesCanonicalFactory(t *testing.T) {
	// GIVEN a backend registered for the canonical zmq type
	inproc, err := lookupCoreFactory(CoreInproc)
	require.NoError(t, err)
	RegisterCoreFactory(CoreZMQ, inproc)
	t.Cleanup(func() { RegisterCoreFactory(CoreZMQ, nil) })

	rt := NewRuntime()
	defer rt.Close()
	cfg := NewConfig()
	cfg.CoreType = "default"

	// WHEN a federate is created with the alias
	f, err := rt.CreateFederate("aliased", cfg)

	// THEN the zmq backend serves it
	require.NoError(t, err)
	assert.Equal(t, CoreZMQ, f.Config().CoreType)
}

func TestRuntime_CreateFederate_RetriesTransientConnectionErrors(t *testing.T) {
	// GIVEN a core factory that fails twice before connecting
	inproc, err := lookupCoreFactory(CoreInproc)
	require.NoError(t, err)
	var calls atomic.Int32
	RegisterCoreFactory(CoreUDP, func(opts CoreOptions) (Core, error) {
		if calls.Add(1) <= 2 {
			return nil, fmt.Errorf("%w: broker not up yet", ErrConnection)
		}
		return inproc(opts)
	})
	t.Cleanup(func() { RegisterCoreFactory(CoreUDP, nil) })

	rt := NewRuntime()
	defer rt.Close()
	cfg := NewConfig()
	cfg.CoreType = CoreUDP
	cfg.ConnectRetries = 3
	cfg.Backoff = fastBackoff()

	// WHEN a federate is created
	f, err := rt.CreateFederate("patient", cfg)

	// THEN the third attempt succeeds
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, StateCreated, f.State())
}

func TestRuntime_CreateFederate_NonConnectionErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	RegisterCoreFactory(CoreIPC, func(opts CoreOptions) (Core, error) {
		calls.Add(1)
		return nil, errors.New("bad credentials")
	})
	t.Cleanup(func() { RegisterCoreFactory(CoreIPC, nil) })

	rt := NewRuntime()
	defer rt.Close()
	cfg := NewConfig()
	cfg.CoreType = CoreIPC
	cfg.Backoff = fastBackoff()

	_, err := rt.CreateFederate("x", cfg)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrConnection)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRuntime_ConnectRetry_DoesNotBlockOtherCores(t *testing.T) {
	// GIVEN a federate stuck in backoff against an unreachable core
	mock := clock.NewMock()
	rt := NewRuntime(WithClock(mock))
	attempted := make(chan struct{}, 8)
	RegisterCoreFactory(CoreUDP, func(opts CoreOptions) (Core, error) {
		attempted <- struct{}{}
		return nil, fmt.Errorf("%w: broker not up yet", ErrConnection)
	})
	t.Cleanup(func() { RegisterCoreFactory(CoreUDP, nil) })
	stuck := NewConfig()
	stuck.CoreType = CoreUDP
	stuck.ConnectRetries = 5
	stuck.Backoff = BackoffConfig{Initial: time.Minute, Max: time.Minute, Multiplier: 2}
	stuckErr := make(chan error, 1)
	go func() {
		_, err := rt.CreateFederate("stuck", stuck)
		stuckErr <- err
	}()
	<-attempted

	// WHEN a federate on another core is created and the runtime is closed
	created := make(chan error, 1)
	go func() {
		other := NewConfig()
		other.CoreInitString = "--broker=unrelated"
		_, err := rt.CreateFederate("other", other)
		created <- err
	}()
	select {
	case err := <-created:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("CreateFederate blocked behind a retrying connect")
	}
	closed := make(chan error, 1)
	go func() { closed <- rt.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked behind a retrying connect")
	}

	// THEN the retrying connect gives up with ErrConnection after its next sleep
	err := waitWithMockClock(t, mock, stuckErr)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestRuntime_SharesCorePerBroker(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	cfg := testConfig(t, 2)

	a, err := rt.CreateFederate("a", cfg)
	require.NoError(t, err)
	b, err := rt.CreateFederate("b", cfg)
	require.NoError(t, err)
	assert.Same(t, a.core, b.core)

	other := NewConfig()
	other.CoreInitString = "--broker=elsewhere"
	c, err := rt.CreateFederate("c", other)
	require.NoError(t, err)
	assert.NotSame(t, a.core, c.core)
}

func TestRuntime_Close_IsIdempotentAndDisconnects(t *testing.T) {
	rt := NewRuntime()
	f, err := rt.CreateFederate("solo", testConfig(t, 1))
	require.NoError(t, err)

	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())

	_, err = rt.CreateFederate("again", testConfig(t, 1))
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, f.EnterExecutingMode(context.Background()), ErrConnection)
}

// waitWithMockClock advances mock in one second steps until errCh delivers.
func waitWithMockClock(t *testing.T, mock *clock.Mock, errCh <-chan error) error {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case err := <-errCh:
			return err
		case <-deadline:
			t.Fatal("wait did not return")
			return nil
		default:
			mock.Add(time.Second)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestFederate_EnterInitializingMode_HandshakeTimeout(t *testing.T) {
	// GIVEN a federation expecting two federates, only one of which shows up
	mock := clock.NewMock()
	rt := NewRuntime(WithClock(mock))
	defer rt.Close()
	cfg := testConfig(t, 2)
	cfg.WaitLimit = 5 * time.Second
	f, err := rt.CreateFederate("alone", cfg)
	require.NoError(t, err)

	// WHEN it waits at the initialization barrier past the wait limit
	errCh := make(chan error, 1)
	go func() { errCh <- f.EnterInitializingMode(context.Background()) }()
	err = waitWithMockClock(t, mock, errCh)

	// THEN it fails with ErrHandshakeTimeout and stays created
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Equal(t, StateCreated, f.State())
}

func TestFederate_RequestTime_TimeoutFromInitString(t *testing.T) {
	// GIVEN two executing federates whose wait limit comes from the init string
	mock := clock.NewMock()
	rt := NewRuntime(WithClock(mock))
	defer rt.Close()
	cfg := NewConfig()
	cfg.CoreInitString = "--federates=2 --broker=timeout --timeout=3s"
	a, err := rt.CreateFederate("a", cfg)
	require.NoError(t, err)
	b, err := rt.CreateFederate("b", cfg)
	require.NoError(t, err)
	enterExecuting(t, a, b)

	// WHEN a requests time while b never does
	errCh := make(chan error, 1)
	go func() {
		_, err := a.RequestTime(context.Background(), Seconds(60))
		errCh <- err
	}()
	err = waitWithMockClock(t, mock, errCh)

	// THEN the grant wait times out and a keeps its granted time
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Equal(t, InitialTime, a.CurrentTime())
}
