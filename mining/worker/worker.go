// Package worker implements the concurrency-control core of the mining
// subsystem: a single logical worker that serializes access to a
// proof-of-work search so that at most one mining attempt runs at a time,
// while still accepting proof-validation requests concurrently with mining.
//
// All requests to a worker flow through a single message handler goroutine,
// so exactly one request is being decided at any instant.  That structurally
// guarantees the single-flight mining invariant without any locking on the
// state itself: the decision to mine, the state transition to busy, and the
// launch of the asynchronous search all happen within one message-handling
// step.  The worker never blocks on the search; mining requests are answered
// immediately with a Job handle that resolves once the search finishes.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MonteCarloClub/minerd/log"
)

// MinerState represents the lifecycle state of a miner worker.  A worker
// holds exactly one state at a time and only its own message handler mutates
// it.
type MinerState int

// Constants for the possible states of a miner worker.
const (
	// StateUninitialized is the initial state of every worker.  Only a
	// ready signal is accepted; any other request is rejected with
	// ErrNotInitialized.
	StateUninitialized MinerState = iota

	// StateReady indicates the worker is initialized and no search is
	// outstanding, so it will accept a mining request.
	StateReady

	// StateBusy indicates a proof-of-work search is outstanding.  Further
	// mining requests are rejected with ErrMinerBusy until the search
	// completes or the worker is reset with a ready signal.
	StateBusy
)

// Map of MinerState values back to their constant names for pretty printing.
var stateStrings = map[MinerState]string{
	StateUninitialized: "uninitialized",
	StateReady:         "ready",
	StateBusy:          "busy",
}

// String returns the MinerState as a human-readable name.
func (s MinerState) String() string {
	if str := stateStrings[s]; str != "" {
		return str
	}
	return fmt.Sprintf("unknown state (%d)", int(s))
}

// Engine is the interface a proof-of-work implementation must satisfy for a
// worker to dispatch to it.
//
// The interface contract requires that ValidateProof is pure, deterministic,
// and cheap enough to run inline from the worker's message-handling step, and
// that SearchProof is safe to invoke on a separate goroutine.  SearchProof
// may run arbitrarily long; it should honor cancellation of the passed
// context, which the worker cancels when it is stopped.
type Engine interface {
	// ValidateProof returns whether or not the passed proof satisfies the
	// puzzle for the passed hash.
	ValidateProof(hash string, proof uint64) bool

	// SearchProof scans for a proof that satisfies the puzzle for the
	// passed hash and returns it.
	SearchProof(ctx context.Context, hash string) (uint64, error)
}

// Config is a descriptor containing the miner worker configuration.
type Config struct {
	// Engine is the proof-of-work implementation the worker dispatches
	// validation and search requests to.  It must not be nil.
	Engine Engine
}

// Info houses a point-in-time snapshot of a worker reported by the Info
// method.
type Info struct {
	// State is the lifecycle state of the worker.
	State MinerState

	// CurrentJob is the identifier of the outstanding search the worker is
	// tracking, or zero when there is none.  An orphaned search (one
	// abandoned by a ready signal) is not reported here even though it may
	// still be running.
	CurrentJob uint64

	// StartedJobs is the total number of searches the worker has started.
	StartedJobs uint64

	// BusyRejects is the total number of mining requests rejected because
	// a search was already outstanding.
	BusyRejects uint64
}

// validateProofMsg requests validation of a proof against a hash.  The reply
// is nil when the proof satisfies the puzzle.
type validateProofMsg struct {
	hash  string
	proof uint64
	reply chan error
}

// mineMsg requests that a proof-of-work search be started for a hash.
type mineMsg struct {
	hash  string
	reply chan mineResponse
}

// mineResponse is the reply to a mineMsg.  Exactly one of job and err is set.
type mineResponse struct {
	job *Job
	err error
}

// readySignalMsg marks the worker ready, initializing it on first receipt and
// abandoning any outstanding search otherwise.  The reply carries no payload
// beyond acknowledging that the transition has been applied.
type readySignalMsg struct {
	reply chan struct{}
}

// searchDoneMsg notifies the message handler that the search for the passed
// job has finished.  It is posted by the search goroutine itself.
type searchDoneMsg struct {
	job *Job
}

// infoMsg requests a snapshot of the worker state and counters.
type infoMsg struct {
	reply chan Info
}

// MinerWorker serializes access to a proof-of-work engine.  It accepts
// validation requests in every active state but enforces that at most one
// mining search is outstanding at a time.  Requests are processed strictly in
// the order received.
//
// Each worker is an independently owned unit; a host may run several of them,
// each with its own state, to mine more than one slot concurrently.
type MinerWorker struct {
	// The following variables must only be used atomically.
	started  int32
	shutdown int32
	jobIDs   uint64

	cfg          Config
	msgChan      chan interface{}
	wg           sync.WaitGroup
	quit         chan struct{}
	searchCtx    context.Context
	searchCancel context.CancelFunc

	// The following fields are owned exclusively by the message handler
	// goroutine and must not be accessed from any other goroutine.
	state       MinerState
	curJob      *Job
	startedJobs uint64
	busyRejects uint64
}

// New returns a new miner worker for the provided configuration.  The worker
// starts out uninitialized and does not process requests until Start is
// called.
func New(cfg *Config) (*MinerWorker, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("miner worker requires a proof-of-work " +
			"engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &MinerWorker{
		cfg:          *cfg,
		msgChan:      make(chan interface{}),
		quit:         make(chan struct{}),
		searchCtx:    ctx,
		searchCancel: cancel,
		state:        StateUninitialized,
	}, nil
}

// Start begins processing requests.  Calling this function when the worker is
// already started will have no effect.
func (w *MinerWorker) Start() {
	// Already started?
	if atomic.AddInt32(&w.started, 1) != 1 {
		return
	}

	log.MinrLog.Trace("Starting miner worker")
	w.wg.Add(1)
	go w.messageHandler()
}

// Stop gracefully shuts down the worker by stopping all asynchronous
// searches and the request handling.  Calling this function when the worker
// is already stopped will have no effect.
func (w *MinerWorker) Stop() {
	// Make sure this only happens once.
	if atomic.AddInt32(&w.shutdown, 1) != 1 {
		log.MinrLog.Warnf("Miner worker is already in the process of " +
			"shutting down")
		return
	}

	// quit must be closed before the search context is canceled so a
	// search that ends because of the cancellation is always classified
	// as a shutdown rather than an engine failure.
	log.MinrLog.Trace("Miner worker shutting down")
	close(w.quit)
	w.searchCancel()
}

// WaitForShutdown blocks until the message handler and all search goroutines
// have finished.
func (w *MinerWorker) WaitForShutdown() {
	w.wg.Wait()
}

// running returns whether or not the worker has been started and is not in
// the process of shutting down.
func (w *MinerWorker) running() bool {
	return atomic.LoadInt32(&w.started) != 0 &&
		atomic.LoadInt32(&w.shutdown) == 0
}

// sendMessage delivers the passed message to the message handler.  It returns
// false when the worker is shut down before the message could be delivered,
// in which case no reply will ever arrive.
func (w *MinerWorker) sendMessage(msg interface{}) bool {
	select {
	case w.msgChan <- msg:
		return true
	case <-w.quit:
		return false
	}
}

// ValidateProof checks the passed proof against the puzzle for the passed
// hash using the worker's engine.  It returns nil when the proof is valid and
// an Error with code ErrInvalidProof when it is not.  A negative result is a
// normal outcome, not a fault.
//
// Validation is available in every active state.  It does not consume the
// mining slot and never changes the worker state, so it may be freely issued
// while a search is outstanding.
//
// This function is safe for concurrent access.
func (w *MinerWorker) ValidateProof(hash string, proof uint64) error {
	if !w.running() {
		return minerError(ErrWorkerShutdown, "miner worker is not "+
			"running")
	}

	reply := make(chan error, 1)
	if !w.sendMessage(validateProofMsg{hash: hash, proof: proof, reply: reply}) {
		return minerError(ErrWorkerShutdown, "miner worker stopped "+
			"before the request could be processed")
	}
	return <-reply
}

// Mine requests that a proof-of-work search be started for the passed hash.
// On success it returns a Job handle immediately, before the search
// completes; the caller must wait on the handle separately for the actual
// proof.  The worker transitions to busy and rejects further mining requests
// with an Error of code ErrMinerBusy until the search finishes or the worker
// is reset with SignalReady.  No retries are performed internally; retry
// policy is the caller's responsibility.
//
// This function is safe for concurrent access.
func (w *MinerWorker) Mine(hash string) (*Job, error) {
	if !w.running() {
		return nil, minerError(ErrWorkerShutdown, "miner worker is not "+
			"running")
	}

	reply := make(chan mineResponse, 1)
	if !w.sendMessage(mineMsg{hash: hash, reply: reply}) {
		return nil, minerError(ErrWorkerShutdown, "miner worker stopped "+
			"before the request could be processed")
	}
	resp := <-reply
	return resp.job, resp.err
}

// SignalReady marks the worker ready.  On an uninitialized worker it
// performs the initial transition that makes validation and mining requests
// acceptable.  On a ready worker it is an acknowledged no-op.  On a busy
// worker it resets the state to ready without stopping the outstanding
// search; the abandoned search keeps running and resolves its own handle, but
// can no longer affect the worker state.
//
// This function is safe for concurrent access.
func (w *MinerWorker) SignalReady() error {
	if !w.running() {
		return minerError(ErrWorkerShutdown, "miner worker is not "+
			"running")
	}

	reply := make(chan struct{}, 1)
	if !w.sendMessage(readySignalMsg{reply: reply}) {
		return minerError(ErrWorkerShutdown, "miner worker stopped "+
			"before the request could be processed")
	}
	<-reply
	return nil
}

// Info returns a snapshot of the worker state and counters.
//
// This function is safe for concurrent access.
func (w *MinerWorker) Info() (Info, error) {
	if !w.running() {
		return Info{}, minerError(ErrWorkerShutdown, "miner worker is "+
			"not running")
	}

	reply := make(chan Info, 1)
	if !w.sendMessage(infoMsg{reply: reply}) {
		return Info{}, minerError(ErrWorkerShutdown, "miner worker "+
			"stopped before the request could be processed")
	}
	return <-reply, nil
}

// State returns the current lifecycle state of the worker.
//
// This function is safe for concurrent access.
func (w *MinerWorker) State() (MinerState, error) {
	info, err := w.Info()
	if err != nil {
		return StateUninitialized, err
	}
	return info.State, nil
}

// messageHandler is the main handler for the worker.  It must be run as a
// goroutine.  Processing every request on a single goroutine is what
// guarantees that exactly one request is being decided at any instant, which
// in turn guarantees the single-flight mining invariant without locking on
// the state field.
func (w *MinerWorker) messageHandler() {
out:
	for {
		select {
		case msg := <-w.msgChan:
			w.handleMessage(msg)

		case <-w.quit:
			break out
		}
	}

	w.wg.Done()
	log.MinrLog.Trace("Miner worker message handler done")
}

// handleMessage decides a single request.  All state mutation happens here,
// within one message-handling step, before control is yielded back to the
// message loop.
func (w *MinerWorker) handleMessage(msg interface{}) {
	switch msg := msg.(type) {
	case validateProofMsg:
		w.handleValidateProof(msg)

	case mineMsg:
		w.handleMine(msg)

	case readySignalMsg:
		w.handleReadySignal(msg)

	case searchDoneMsg:
		w.handleSearchDone(msg)

	case infoMsg:
		msg.reply <- Info{
			State:       w.state,
			CurrentJob:  w.curJobID(),
			StartedJobs: w.startedJobs,
			BusyRejects: w.busyRejects,
		}

	default:
		log.MinrLog.Warnf("Invalid message type in miner worker: %T",
			msg)
	}
}

// curJobID returns the identifier of the outstanding job, or zero when there
// is none.
func (w *MinerWorker) curJobID() uint64 {
	if w.curJob == nil {
		return 0
	}
	return w.curJob.id
}

// handleValidateProof delegates a validation request to the engine.  The
// request is valid in both the ready and busy states and never changes the
// worker state.
func (w *MinerWorker) handleValidateProof(msg validateProofMsg) {
	if w.state == StateUninitialized {
		msg.reply <- minerError(ErrNotInitialized, "validation "+
			"requested before the worker was signaled ready")
		return
	}

	if !w.cfg.Engine.ValidateProof(msg.hash, msg.proof) {
		msg.reply <- minerError(ErrInvalidProof, fmt.Sprintf("proof %d "+
			"does not satisfy the puzzle for hash %q", msg.proof,
			msg.hash))
		return
	}
	msg.reply <- nil
}

// handleMine starts an asynchronous proof-of-work search when the worker is
// ready.  The reply with the job handle is sent in the same handling step
// that transitions the state to busy, so no request arriving in between can
// start a second search.
func (w *MinerWorker) handleMine(msg mineMsg) {
	switch w.state {
	case StateUninitialized:
		msg.reply <- mineResponse{err: minerError(ErrNotInitialized,
			"mining requested before the worker was signaled ready")}

	case StateBusy:
		w.busyRejects++
		msg.reply <- mineResponse{err: minerError(ErrMinerBusy,
			fmt.Sprintf("a search for job %d is already "+
				"outstanding", w.curJobID()))}

	case StateReady:
		job := &Job{
			id:   atomic.AddUint64(&w.jobIDs, 1),
			hash: msg.hash,
			done: make(chan struct{}),
		}
		w.curJob = job
		w.state = StateBusy
		w.startedJobs++

		w.wg.Add(1)
		go w.solve(job)

		log.MinrLog.Debugf("Started search %d for hash %q", job.id,
			job.hash)
		msg.reply <- mineResponse{job: job}
	}
}

// handleReadySignal applies a ready signal.  While busy, the outstanding
// search is abandoned rather than stopped: it keeps running and resolves its
// own handle, but its completion notification will no longer match the
// current job and therefore cannot affect worker state.
func (w *MinerWorker) handleReadySignal(msg readySignalMsg) {
	switch w.state {
	case StateUninitialized:
		w.state = StateReady
		log.MinrLog.Debug("Miner worker initialized")

	case StateBusy:
		log.MinrLog.Warnf("Ready signal while busy -- abandoning "+
			"search %d", w.curJobID())
		w.curJob = nil
		w.state = StateReady
	}
	msg.reply <- struct{}{}
}

// handleSearchDone processes the completion notification of a search.  The
// worker returns to ready only when the completed search is still the
// current one; notifications from abandoned searches are ignored.
func (w *MinerWorker) handleSearchDone(msg searchDoneMsg) {
	if w.curJob != msg.job {
		log.MinrLog.Debugf("Ignoring completion of abandoned search %d",
			msg.job.id)
		return
	}
	w.curJob = nil
	w.state = StateReady
}

// solve runs the proof-of-work search for the passed job and resolves its
// handle with the outcome.  It must be run as a goroutine.
//
// A panicking engine is contained here: the job resolves with an engine
// failure error and the worker itself keeps running with its state intact.
func (w *MinerWorker) solve(job *Job) {
	defer w.wg.Done()

	completed := false
	defer func() {
		if r := recover(); r != nil && !completed {
			log.MinrLog.Errorf("Search %d: engine panic: %v", job.id,
				r)
			job.complete(0, minerError(ErrEngineFailure,
				fmt.Sprintf("proof-of-work engine panic: %v", r)))
			w.notifySearchDone(job)
		}
	}()

	proof, err := w.cfg.Engine.SearchProof(w.searchCtx, job.hash)
	if err != nil {
		select {
		case <-w.quit:
			err = minerError(ErrWorkerShutdown, "worker stopped "+
				"before the search finished")
		default:
			err = minerError(ErrEngineFailure, fmt.Sprintf("proof-"+
				"of-work search failed: %v", err))
		}
	}

	completed = true
	job.complete(proof, err)
	w.notifySearchDone(job)
}

// notifySearchDone posts a completion notification for the passed job to the
// message handler.  The notification is dropped on shutdown since the handler
// is no longer draining the message channel at that point.
func (w *MinerWorker) notifySearchDone(job *Job) {
	select {
	case w.msgChan <- searchDoneMsg{job: job}:
	case <-w.quit:
	}
}
