package poll

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/lstefano71/hmonclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequester struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, command, uid string, payload interface{}) ([]byte, error)
}

func (f *fakeRequester) Request(ctx context.Context, command, uid string, payload interface{}) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, command, uid, payload)
}

func (f *fakeRequester) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func uidSeq() func() string {
	n := 0
	return func() string {
		n++
		return "uid-" + strconv.Itoa(n)
	}
}

func TestPoller_TicksAtInterval(t *testing.T) {
	resp, _ := json.Marshal(hmon.FactsResponse{Facts: []hmon.Fact{{Kind: hmon.FactHost}}})
	req := &fakeRequester{fn: func(ctx context.Context, command, uid string, payload interface{}) ([]byte, error) {
		assert.Equal(t, hmon.CommandGetFacts, command)
		return resp, nil
	}}

	var mu sync.Mutex
	var results []hmon.FactsResponse
	p := New(hmon.NewSessionId(), req, hmon.FactKindList{hmon.FactHost}, 10*time.Millisecond, time.Second, uidSeq(),
		func(fr hmon.FactsResponse, err error) {
			require.NoError(t, err)
			mu.Lock()
			results = append(results, fr)
			mu.Unlock()
		}, hmon.NoopLogger{})

	p.Start(context.Background())
	require.Eventually(t, func() bool {
		return req.Calls() >= 2
	}, time.Second, 5*time.Millisecond)
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(results), 2)
}

func TestPoller_StartReplacesPreviousRun(t *testing.T) {
	req := &fakeRequester{fn: func(ctx context.Context, command, uid string, payload interface{}) ([]byte, error) {
		resp, _ := json.Marshal(hmon.FactsResponse{})
		return resp, nil
	}}
	p := New(hmon.NewSessionId(), req, hmon.FactKindList{hmon.FactHost}, 5*time.Millisecond, time.Second, uidSeq(), nil, hmon.NoopLogger{})

	p.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	p.Start(context.Background()) // replace; must not leave two loops running
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	// no assertion on exact call count (timing-sensitive); the meaningful
	// property is that Stop() returns promptly with only one loop alive,
	// which a leaked duplicate goroutine would make flaky under -race.
}

func TestPoller_StopIsIdempotent(t *testing.T) {
	req := &fakeRequester{fn: func(ctx context.Context, command, uid string, payload interface{}) ([]byte, error) {
		return []byte(`{}`), nil
	}}
	p := New(hmon.NewSessionId(), req, nil, time.Second, time.Second, uidSeq(), nil, hmon.NoopLogger{})
	p.Stop()
	p.Stop()
}

func TestPoller_SlowTickIsCancelledAndReplacedNotQueued(t *testing.T) {
	started := make(chan context.Context, 8)
	req := &fakeRequester{fn: func(ctx context.Context, command, uid string, payload interface{}) ([]byte, error) {
		started <- ctx
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	var mu sync.Mutex
	var results []error
	p := New(hmon.NewSessionId(), req, hmon.FactKindList{hmon.FactHost}, 10*time.Millisecond, time.Second, uidSeq(),
		func(fr hmon.FactsResponse, err error) {
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}, hmon.NoopLogger{})

	p.Start(context.Background())

	var first context.Context
	select {
	case first = <-started:
	case <-time.After(time.Second):
		t.Fatal("first tick never started")
	}

	// the first tick never returns on its own; a replaced tick's context
	// must be cancelled once the next tick fires rather than left pending
	// behind it.
	require.Eventually(t, func() bool {
		return first.Err() != nil
	}, time.Second, 5*time.Millisecond)

	p.Stop()
}

func TestPoller_RequestErrorReportedViaOnResult(t *testing.T) {
	req := &fakeRequester{fn: func(ctx context.Context, command, uid string, payload interface{}) ([]byte, error) {
		return nil, &hmon.ConnectionLost{Reason: "closed"}
	}}
	errCh := make(chan error, 1)
	p := New(hmon.NewSessionId(), req, hmon.FactKindList{hmon.FactHost}, 5*time.Millisecond, time.Second, uidSeq(),
		func(fr hmon.FactsResponse, err error) {
			if err != nil {
				select {
				case errCh <- err:
				default:
				}
			}
		}, hmon.NoopLogger{})

	p.Start(context.Background())
	defer p.Stop()

	select {
	case err := <-errCh:
		assert.True(t, hmon.IsConnectionLost(err))
	case <-time.After(time.Second):
		t.Fatal("expected onResult to be called with an error")
	}
}
