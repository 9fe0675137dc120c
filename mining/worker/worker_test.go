package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

// testEngine implements the Engine interface with hooks the tests control.
type testEngine struct {
	validate func(hash string, proof uint64) bool
	search   func(ctx context.Context, hash string) (uint64, error)
}

func (e *testEngine) ValidateProof(hash string, proof uint64) bool {
	return e.validate(hash, proof)
}

func (e *testEngine) SearchProof(ctx context.Context, hash string) (uint64, error) {
	return e.search(ctx, hash)
}

// acceptAll returns a validate hook that accepts every proof.
func acceptAll(string, uint64) bool { return true }

// rejectAll returns a validate hook that rejects every proof.
func rejectAll(string, uint64) bool { return false }

// instantSearch returns a search hook that immediately succeeds with the
// passed proof.
func instantSearch(proof uint64) func(context.Context, string) (uint64, error) {
	return func(context.Context, string) (uint64, error) {
		return proof, nil
	}
}

// gatedSearch returns a search hook that blocks until a value is sent on the
// returned channel (or the context is canceled) and then resolves with that
// value.
func gatedSearch() (func(context.Context, string) (uint64, error), chan uint64) {
	gate := make(chan uint64)
	search := func(ctx context.Context, hash string) (uint64, error) {
		select {
		case proof := <-gate:
			return proof, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return search, gate
}

// newTestWorker creates and starts a worker backed by the passed engine and
// registers its shutdown with the test cleanup.
func newTestWorker(t *testing.T, engine Engine) *MinerWorker {
	t.Helper()

	w, err := New(&Config{Engine: engine})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	w.Start()
	t.Cleanup(func() {
		w.Stop()
		w.WaitForShutdown()
	})
	return w
}

// waitForState polls the worker until it reports the wanted state or a
// timeout elapses.  Search completion notifications are delivered
// asynchronously, so tests that depend on the post-completion state need to
// wait for the notification to be processed.
func waitForState(t *testing.T, w *MinerWorker, want MinerState) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		state, err := w.State()
		if err != nil {
			t.Fatalf("State: unexpected error: %v", err)
		}
		if state == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	state, _ := w.State()
	t.Fatalf("worker did not reach state %v, still %v", want, state)
}

// jobResult waits for the passed job to resolve with a generous timeout.
func jobResult(t *testing.T, job *Job) (uint64, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	proof, err := job.Result(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("job did not resolve before the test timeout")
	}
	return proof, err
}

// TestUninitializedRejectsRequests ensures a worker that has never been
// signaled ready rejects validation and mining requests with
// ErrNotInitialized instead of silently dropping them.
func TestUninitializedRejectsRequests(t *testing.T) {
	w := newTestWorker(t, &testEngine{
		validate: acceptAll,
		search:   instantSearch(1),
	})

	if err := w.ValidateProof("0000abcd", 42); !IsErrorCode(err, ErrNotInitialized) {
		t.Fatalf("ValidateProof: want ErrNotInitialized, got %v", err)
	}
	if _, err := w.Mine("0000abcd"); !IsErrorCode(err, ErrNotInitialized) {
		t.Fatalf("Mine: want ErrNotInitialized, got %v", err)
	}

	state, err := w.State()
	if err != nil {
		t.Fatalf("State: unexpected error: %v", err)
	}
	if state != StateUninitialized {
		t.Fatalf("rejected requests changed state to %v", state)
	}
}

// TestReadySignalInitializes ensures the initial ready signal transitions the
// worker out of the uninitialized state so subsequent requests are accepted.
func TestReadySignalInitializes(t *testing.T) {
	w := newTestWorker(t, &testEngine{
		validate: acceptAll,
		search:   instantSearch(7),
	})

	if err := w.SignalReady(); err != nil {
		t.Fatalf("SignalReady: unexpected error: %v", err)
	}
	if err := w.ValidateProof("0000abcd", 42); err != nil {
		t.Fatalf("ValidateProof after ready: unexpected error: %v", err)
	}
	job, err := w.Mine("0000abcd")
	if err != nil {
		t.Fatalf("Mine after ready: unexpected error: %v", err)
	}
	if proof, err := jobResult(t, job); err != nil || proof != 7 {
		t.Fatalf("job resolved to (%d, %v), want (7, nil)", proof, err)
	}
}

// TestReadySignalIdempotent ensures repeated ready signals on a ready worker
// are acknowledged without changing state.
func TestReadySignalIdempotent(t *testing.T) {
	w := newTestWorker(t, &testEngine{
		validate: acceptAll,
		search:   instantSearch(1),
	})

	for i := 0; i < 3; i++ {
		if err := w.SignalReady(); err != nil {
			t.Fatalf("SignalReady #%d: unexpected error: %v", i+1, err)
		}
		state, err := w.State()
		if err != nil {
			t.Fatalf("State: unexpected error: %v", err)
		}
		if state != StateReady {
			t.Fatalf("SignalReady #%d: state is %v, want ready",
				i+1, state)
		}
	}
}

// TestValidateProofStateless ensures validation reflects the engine verdict
// in both the ready and busy states and never changes the worker state.
func TestValidateProofStateless(t *testing.T) {
	verdict := true
	search, gate := gatedSearch()
	w := newTestWorker(t, &testEngine{
		validate: func(string, uint64) bool { return verdict },
		search:   search,
	})
	if err := w.SignalReady(); err != nil {
		t.Fatalf("SignalReady: unexpected error: %v", err)
	}

	// Ready state: both verdicts, state unchanged.
	if err := w.ValidateProof("aa", 1); err != nil {
		t.Fatalf("ValidateProof(valid) in ready: got %v", err)
	}
	verdict = false
	if err := w.ValidateProof("aa", 1); !IsErrorCode(err, ErrInvalidProof) {
		t.Fatalf("ValidateProof(invalid) in ready: want ErrInvalidProof, got %v", err)
	}
	waitForState(t, w, StateReady)

	// Busy state: validation still available and state stays busy.
	if _, err := w.Mine("aa"); err != nil {
		t.Fatalf("Mine: unexpected error: %v", err)
	}
	verdict = true
	if err := w.ValidateProof("aa", 1); err != nil {
		t.Fatalf("ValidateProof(valid) in busy: got %v", err)
	}
	verdict = false
	if err := w.ValidateProof("aa", 1); !IsErrorCode(err, ErrInvalidProof) {
		t.Fatalf("ValidateProof(invalid) in busy: want ErrInvalidProof, got %v", err)
	}
	state, err := w.State()
	if err != nil {
		t.Fatalf("State: unexpected error: %v", err)
	}
	if state != StateBusy {
		t.Fatalf("validation changed state to %v, want busy", state)
	}

	gate <- 0
}

// TestMineSingleFlight ensures a mining request is answered with a handle
// before the search completes, that a second request is rejected while the
// first search is outstanding, and that the worker returns to ready once the
// search finishes.
func TestMineSingleFlight(t *testing.T) {
	search, gate := gatedSearch()
	w := newTestWorker(t, &testEngine{validate: acceptAll, search: search})
	if err := w.SignalReady(); err != nil {
		t.Fatalf("SignalReady: unexpected error: %v", err)
	}

	// The reply must arrive while the search is still blocked on the gate.
	job, err := w.Mine("0000abcd")
	if err != nil {
		t.Fatalf("Mine: unexpected error: %v", err)
	}
	if job == nil {
		t.Fatal("Mine returned a nil job handle")
	}
	select {
	case <-job.Done():
		t.Fatal("job resolved before the search was released")
	default:
	}

	state, err := w.State()
	if err != nil {
		t.Fatalf("State: unexpected error: %v", err)
	}
	if state != StateBusy {
		t.Fatalf("state after Mine is %v, want busy", state)
	}

	// Single-flight: a second request must be rejected without starting a
	// second search.
	if _, err := w.Mine("0000ffff"); !IsErrorCode(err, ErrMinerBusy) {
		t.Fatalf("second Mine: want ErrMinerBusy, got %v", err)
	}
	info, err := w.Info()
	if err != nil {
		t.Fatalf("Info: unexpected error: %v", err)
	}
	if info.StartedJobs != 1 {
		t.Fatalf("started %d searches, want 1", info.StartedJobs)
	}
	if info.BusyRejects != 1 {
		t.Fatalf("recorded %d busy rejects, want 1", info.BusyRejects)
	}

	// Release the search and ensure the handle resolves with its proof and
	// the worker accepts mining requests again.
	gate <- 12345
	if proof, err := jobResult(t, job); err != nil || proof != 12345 {
		t.Fatalf("job resolved to (%d, %v), want (12345, nil)", proof, err)
	}
	waitForState(t, w, StateReady)

	job2, err := w.Mine("0000ffff")
	if err != nil {
		t.Fatalf("Mine after completion: unexpected error: %v", err)
	}
	gate <- 1
	if _, err := jobResult(t, job2); err != nil {
		t.Fatalf("second job resolved with error: %v", err)
	}
}

// TestReadySignalWhileBusy pins the reset policy for a busy worker: the
// ready signal returns the worker to ready without stopping the outstanding
// search.  The abandoned search keeps running and resolves its own handle,
// but its completion can no longer affect the worker state.  This mirrors
// the original actor's behavior rather than forbidding or canceling the
// reset; the trade-off is deliberate and this test is its documentation.
func TestReadySignalWhileBusy(t *testing.T) {
	// Separate gates per hash so the test controls which of the two
	// concurrently running searches resolves.
	gateA := make(chan uint64)
	gateB := make(chan uint64)
	gates := map[string]chan uint64{"0000aaaa": gateA, "0000bbbb": gateB}
	search := func(ctx context.Context, hash string) (uint64, error) {
		select {
		case proof := <-gates[hash]:
			return proof, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	w := newTestWorker(t, &testEngine{validate: acceptAll, search: search})
	if err := w.SignalReady(); err != nil {
		t.Fatalf("SignalReady: unexpected error: %v", err)
	}

	abandoned, err := w.Mine("0000aaaa")
	if err != nil {
		t.Fatalf("Mine: unexpected error: %v", err)
	}

	// Reset while the search is outstanding and start a new search.
	if err := w.SignalReady(); err != nil {
		t.Fatalf("SignalReady while busy: unexpected error: %v", err)
	}
	waitForState(t, w, StateReady)

	current, err := w.Mine("0000bbbb")
	if err != nil {
		t.Fatalf("Mine after reset: want acceptance, got %v", err)
	}

	// The abandoned search resolves its handle independently...
	gateA <- 111
	if proof, err := jobResult(t, abandoned); err != nil || proof != 111 {
		t.Fatalf("abandoned job resolved to (%d, %v), want (111, nil)",
			proof, err)
	}

	// ...but must not flip the worker back to ready while the new search
	// is still running.
	state, err := w.State()
	if err != nil {
		t.Fatalf("State: unexpected error: %v", err)
	}
	if state != StateBusy {
		t.Fatalf("abandoned search completion changed state to %v, "+
			"want busy", state)
	}

	gateB <- 222
	if proof, err := jobResult(t, current); err != nil || proof != 222 {
		t.Fatalf("current job resolved to (%d, %v), want (222, nil)",
			proof, err)
	}
	waitForState(t, w, StateReady)
}

// TestEnginePanic ensures a panicking search engine resolves the job handle
// with an engine failure instead of crashing the worker, and that the worker
// keeps serving requests afterwards.
func TestEnginePanic(t *testing.T) {
	w := newTestWorker(t, &testEngine{
		validate: acceptAll,
		search: func(context.Context, string) (uint64, error) {
			panic("engine exploded")
		},
	})
	if err := w.SignalReady(); err != nil {
		t.Fatalf("SignalReady: unexpected error: %v", err)
	}

	job, err := w.Mine("0000abcd")
	if err != nil {
		t.Fatalf("Mine: unexpected error: %v", err)
	}
	if _, err := jobResult(t, job); !IsErrorCode(err, ErrEngineFailure) {
		t.Fatalf("job error is %v, want ErrEngineFailure", err)
	}

	// The worker must have survived with its state intact.
	waitForState(t, w, StateReady)
	if err := w.ValidateProof("0000abcd", 42); err != nil {
		t.Fatalf("ValidateProof after panic: unexpected error: %v", err)
	}
}

// TestSearchErrorSurfacesThroughHandle ensures an error returned by the
// engine is mapped to an engine failure on the job handle.
func TestSearchErrorSurfacesThroughHandle(t *testing.T) {
	w := newTestWorker(t, &testEngine{
		validate: acceptAll,
		search: func(context.Context, string) (uint64, error) {
			return 0, errors.New("nonce range exhausted")
		},
	})
	if err := w.SignalReady(); err != nil {
		t.Fatalf("SignalReady: unexpected error: %v", err)
	}

	job, err := w.Mine("0000abcd")
	if err != nil {
		t.Fatalf("Mine: unexpected error: %v", err)
	}
	if _, err := jobResult(t, job); !IsErrorCode(err, ErrEngineFailure) {
		t.Fatalf("job error is %v, want ErrEngineFailure", err)
	}
	waitForState(t, w, StateReady)
}

// TestStopResolvesOutstandingJob ensures stopping the worker cancels the
// outstanding search via its context and resolves the handle with a shutdown
// error, and that requests after the stop are rejected.
func TestStopResolvesOutstandingJob(t *testing.T) {
	search, _ := gatedSearch()
	w, err := New(&Config{Engine: &testEngine{
		validate: acceptAll,
		search:   search,
	}})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	w.Start()
	if err := w.SignalReady(); err != nil {
		t.Fatalf("SignalReady: unexpected error: %v", err)
	}

	job, err := w.Mine("0000abcd")
	if err != nil {
		t.Fatalf("Mine: unexpected error: %v", err)
	}

	w.Stop()
	w.WaitForShutdown()

	if _, err := jobResult(t, job); !IsErrorCode(err, ErrWorkerShutdown) {
		t.Fatalf("job error is %v, want ErrWorkerShutdown", err)
	}
	if err := w.ValidateProof("0000abcd", 1); !IsErrorCode(err, ErrWorkerShutdown) {
		t.Fatalf("ValidateProof after stop: want ErrWorkerShutdown, got %v", err)
	}
	if _, err := w.Mine("0000abcd"); !IsErrorCode(err, ErrWorkerShutdown) {
		t.Fatalf("Mine after stop: want ErrWorkerShutdown, got %v", err)
	}
}

// TestStopClassifiesCanceledSearchAsShutdown ensures a search that ends
// because Stop canceled its context resolves the handle with a shutdown error
// rather than an engine failure, no matter how quickly the engine observes
// the cancellation.
func TestStopClassifiesCanceledSearchAsShutdown(t *testing.T) {
	searchStarted := make(chan struct{})
	w, err := New(&Config{Engine: &testEngine{
		validate: acceptAll,
		search: func(ctx context.Context, hash string) (uint64, error) {
			close(searchStarted)
			<-ctx.Done()
			return 0, ctx.Err()
		},
	}})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	w.Start()
	if err := w.SignalReady(); err != nil {
		t.Fatalf("SignalReady: unexpected error: %v", err)
	}

	job, err := w.Mine("0000abcd")
	if err != nil {
		t.Fatalf("Mine: unexpected error: %v", err)
	}
	<-searchStarted

	w.Stop()
	w.WaitForShutdown()

	if _, err := jobResult(t, job); !IsErrorCode(err, ErrWorkerShutdown) {
		t.Fatalf("job error is %v, want ErrWorkerShutdown", err)
	}
}

// TestLifecycleScenario walks the full scenario from the worker lifecycle:
// uninitialized, initial ready signal, a mining request answered with a
// pending handle, validation while busy, and a reset back to ready.
func TestLifecycleScenario(t *testing.T) {
	verdict := false
	search, gate := gatedSearch()
	w := newTestWorker(t, &testEngine{
		validate: func(string, uint64) bool { return verdict },
		search:   search,
	})

	state, err := w.State()
	if err != nil {
		t.Fatalf("State: unexpected error: %v", err)
	}
	if state != StateUninitialized {
		t.Fatalf("initial state is %v, want uninitialized", state)
	}

	if err := w.SignalReady(); err != nil {
		t.Fatalf("SignalReady: unexpected error: %v", err)
	}
	waitForState(t, w, StateReady)

	job, err := w.Mine("0000abcd")
	if err != nil {
		t.Fatalf("Mine: unexpected error: %v", err)
	}
	waitForState(t, w, StateBusy)

	// Validation while busy reflects the engine verdict, state unchanged.
	if err := w.ValidateProof("0000abcd", 42); !IsErrorCode(err, ErrInvalidProof) {
		t.Fatalf("ValidateProof while busy: want ErrInvalidProof, got %v", err)
	}
	verdict = true
	if err := w.ValidateProof("0000abcd", 42); err != nil {
		t.Fatalf("ValidateProof while busy: unexpected error: %v", err)
	}
	state, err = w.State()
	if err != nil {
		t.Fatalf("State: unexpected error: %v", err)
	}
	if state != StateBusy {
		t.Fatalf("state after validation is %v, want busy", state)
	}

	if err := w.SignalReady(); err != nil {
		t.Fatalf("SignalReady while busy: unexpected error: %v", err)
	}
	waitForState(t, w, StateReady)

	gate <- 9
	if proof, err := jobResult(t, job); err != nil || proof != 9 {
		t.Fatalf("job resolved to (%d, %v), want (9, nil)", proof, err)
	}
}

// TestErrorCodeStringer ensures the error code stringer covers all codes.
func TestErrorCodeStringer(t *testing.T) {
	tests := []struct {
		in   ErrorCode
		want string
	}{
		{ErrNotInitialized, "ErrNotInitialized"},
		{ErrMinerBusy, "ErrMinerBusy"},
		{ErrInvalidProof, "ErrInvalidProof"},
		{ErrEngineFailure, "ErrEngineFailure"},
		{ErrWorkerShutdown, "ErrWorkerShutdown"},
		{0xffff, "Unknown ErrorCode (65535)"},
	}

	if len(tests)-1 != int(numErrorCodes) {
		t.Errorf("it appears an error code was added without adding an " +
			"associated stringer test")
	}

	for i, test := range tests {
		if result := test.in.String(); result != test.want {
			t.Errorf("String #%d: got %q, want %q", i, result,
				test.want)
		}
	}
}
