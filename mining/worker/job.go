package worker

import "context"

// Job is the pending-result handle returned by a successful mining request.
// The worker replies with a Job before the proof-of-work search completes, so
// the holder must wait on the handle separately to obtain the actual proof.
//
// A Job resolves exactly once, either with the found proof or with an error,
// and keeps its resolved value for the remainder of its lifetime.  It resolves
// independently of worker message ordering and remains valid even after the
// worker has been reset or stopped.
type Job struct {
	id   uint64
	hash string

	// done is closed after proof and err have been set.  The fields must
	// not be read until it is closed.
	done  chan struct{}
	proof uint64
	err   error
}

// ID returns the worker-assigned identifier of the job.  Identifiers start at
// one and are unique per worker instance.
func (j *Job) ID() uint64 {
	return j.id
}

// Hash returns the hash the job is searching a proof for.
func (j *Job) Hash() string {
	return j.hash
}

// Done returns a channel that is closed once the search has finished and the
// result is available via Result.  It can be used in select statements or to
// poll for completion without blocking.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result returns the proof found by the search associated with the job.  It
// blocks until the search has finished or the passed context is canceled.
//
// A failed search reports an Error with code ErrEngineFailure when the engine
// failed and ErrWorkerShutdown when the worker was stopped before the search
// finished.  Canceling the context only abandons the wait, not the search.
func (j *Job) Result(ctx context.Context) (uint64, error) {
	select {
	case <-j.done:
		return j.proof, j.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// complete resolves the job with the passed proof and error.  It must be
// called exactly once.
func (j *Job) complete(proof uint64, err error) {
	j.proof = proof
	j.err = err
	close(j.done)
}
