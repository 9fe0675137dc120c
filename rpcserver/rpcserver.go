// Package rpcserver provides the JSON-RPC surface of minerd.  It accepts
// authenticated HTTP POST and websocket connections and dispatches the miner
// command set against a pool of miner worker slots.
package rpcserver

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"golang.org/x/net/websocket"
	"github.com/decred/dcrd/lru"

	"github.com/MonteCarloClub/minerd/log"
	"github.com/MonteCarloClub/minerd/minerdjson"
	"github.com/MonteCarloClub/minerd/mining/worker"
)

const (
	// rpcAuthTimeoutSeconds is the number of seconds a connection to the
	// RPC server is allowed to stay open without authenticating before it
	// is closed.
	rpcAuthTimeoutSeconds = 10

	// maxTrackedJobs is the maximum number of resolved mining jobs the
	// server keeps around for getmineresult queries.  Once the limit is
	// exceeded the oldest finished jobs are evicted.
	maxTrackedJobs = 256

	// validProofCacheLimit is the maximum number of successfully validated
	// (hash, proof) pairs remembered by the server so repeated validation
	// queries can be answered without recomputing the puzzle.
	validProofCacheLimit = 1000
)

var (
	// timeZeroVal is simply the zero value for a time.Time and is used to
	// avoid creating multiple instances.
	timeZeroVal time.Time

	// JSON 2.0 batched request prefix.
	batchedRequestPrefix = []byte("[")
)

// Config is a descriptor containing the RPC server configuration.
type Config struct {
	// Listeners defines a slice of listeners for which the RPC server will
	// take ownership of and accept connections.  Since the RPC server takes
	// ownership of these listeners, they will be closed when the RPC server
	// is stopped.
	Listeners []net.Listener

	// StartupTime is the unix timestamp for when the server that is hosting
	// the RPC server started.
	StartupTime int64

	// Workers are the miner worker slots the command set operates on.  The
	// slice index is the slot identifier used on the wire.
	Workers []*worker.MinerWorker

	// Difficulty is the proof-of-work difficulty the workers were
	// configured with.  It is reported by getminerinfo.
	Difficulty uint32

	// Version is the application version string reported by getminerinfo.
	Version string

	// RPCUser and RPCPass are the credentials of the full-access user.
	RPCUser string
	RPCPass string

	// RPCLimitUser and RPCLimitPass are the credentials of the user that
	// is limited to the read-only command subset.  Empty values disable
	// the limited user.
	RPCLimitUser string
	RPCLimitPass string

	// RPCMaxClients is the maximum number of simultaneous non-websocket
	// RPC connections.
	RPCMaxClients int

	// RPCMaxWebsockets is the maximum number of simultaneous websocket
	// clients.
	RPCMaxWebsockets int

	// RPCMaxConcurrentReqs is the maximum number of concurrent requests
	// allowed per websocket client.
	RPCMaxConcurrentReqs int

	// RPCQuirks enables JSON-RPC quirks such as echoing a missing version
	// field back in responses for compatibility with older clients.
	RPCQuirks bool
}

// trackedJob associates a mining job handle with the slot it was started on so
// the server can answer getmineresult queries and issue mined notifications.
type trackedJob struct {
	job  *worker.Job
	slot int
}

// jobIndex tracks started jobs by identifier.  Finished jobs are evicted
// oldest-first once the index grows past maxTrackedJobs; outstanding jobs are
// never evicted.
type jobIndex struct {
	sync.Mutex
	jobs  map[uint64]*trackedJob
	order []uint64
}

// newJobIndex returns a new empty job index.
func newJobIndex() *jobIndex {
	return &jobIndex{
		jobs: make(map[uint64]*trackedJob),
	}
}

// add inserts the passed job into the index and prunes old finished entries
// when the tracking limit is exceeded.
func (idx *jobIndex) add(tj *trackedJob) {
	idx.Lock()
	defer idx.Unlock()

	idx.jobs[tj.job.ID()] = tj
	idx.order = append(idx.order, tj.job.ID())

	if len(idx.jobs) <= maxTrackedJobs {
		return
	}
	remaining := idx.order[:0]
	for _, id := range idx.order {
		tj, ok := idx.jobs[id]
		if !ok {
			continue
		}
		evictable := false
		if len(idx.jobs) > maxTrackedJobs {
			select {
			case <-tj.job.Done():
				evictable = true
			default:
			}
		}
		if evictable {
			delete(idx.jobs, id)
			continue
		}
		remaining = append(remaining, id)
	}
	idx.order = remaining
}

// lookup returns the tracked job for the passed identifier, or nil when the
// identifier is unknown.
func (idx *jobIndex) lookup(jobID uint64) *trackedJob {
	idx.Lock()
	defer idx.Unlock()
	return idx.jobs[jobID]
}

// commandHandler describes a callback function used to handle a specific
// command.
type commandHandler func(*RpcServer, interface{}, <-chan struct{}) (interface{}, error)

// rpcHandlers maps RPC command strings to appropriate handler functions.
// This is set by init because help references it and help is registered as a
// handler itself, which would cause a dependency loop.
var rpcHandlers map[string]commandHandler
var rpcHandlersBeforeInit = map[string]commandHandler{
	"getmineresult": handleGetMineResult,
	"getminerinfo":  handleGetMinerInfo,
	"help":          handleHelp,
	"mine":          handleMine,
	"readysignal":   handleReadySignal,
	"stop":          handleStop,
	"uptime":        handleUptime,
	"validateproof": handleValidateProof,
}

// rpcLimited isn't a handler map; it defines the commands available to the
// limited RPC user.  Commands that mutate worker state or shut the server
// down require the full-access user.
var rpcLimited = map[string]struct{}{
	// Websockets commands
	"notifymined":     {},
	"stopnotifymined": {},

	// HTTP/S commands
	"getmineresult": {},
	"getminerinfo":  {},
	"help":          {},
	"uptime":        {},
	"validateproof": {},
}

func init() {
	rpcHandlers = rpcHandlersBeforeInit
}

// internalRPCError is a convenience function to convert an internal error to
// an RPC error with the appropriate code set.  It also logs the error to the
// RPC server subsystem since internal errors really should not occur.  The
// context parameter is only used in the log message and may be empty if it's
// not needed.
func internalRPCError(errStr, context string) *minerdjson.RPCError {
	logStr := errStr
	if context != "" {
		logStr = context + ": " + errStr
	}
	log.RpcsLog.Error(logStr)
	return minerdjson.NewRPCError(minerdjson.ErrRPCInternal.Code, errStr)
}

// rpcInvalidSlotError returns an RPC error which indicates the requested
// miner slot does not exist.
func rpcInvalidSlotError(slot, numSlots int) *minerdjson.RPCError {
	return minerdjson.NewRPCError(minerdjson.ErrRPCInvalidSlot,
		fmt.Sprintf("slot %d does not exist: %d slots are configured",
			slot, numSlots))
}

// workerRPCError converts an error returned by a miner worker to an RPC error
// with the matching application-defined code.
func workerRPCError(err error) *minerdjson.RPCError {
	var code minerdjson.RPCErrorCode
	switch {
	case worker.IsErrorCode(err, worker.ErrNotInitialized):
		code = minerdjson.ErrRPCMinerNotInitialized
	case worker.IsErrorCode(err, worker.ErrMinerBusy):
		code = minerdjson.ErrRPCMinerBusy
	case worker.IsErrorCode(err, worker.ErrInvalidProof):
		code = minerdjson.ErrRPCInvalidProof
	case worker.IsErrorCode(err, worker.ErrEngineFailure):
		code = minerdjson.ErrRPCEngineFailure
	default:
		return internalRPCError(err.Error(), "miner worker")
	}
	return minerdjson.NewRPCError(code, err.Error())
}

// validProofCacheKey builds the cache key under which a successfully
// validated (hash, proof) pair is remembered.
func validProofCacheKey(hash string, proof uint64) string {
	return fmt.Sprintf("%s/%016x", hash, proof)
}

// RpcServer provides a concurrent safe RPC server to a miner worker pool.
type RpcServer struct {
	started  int32
	shutdown int32

	cfg                    Config
	authsha                [sha256.Size]byte
	limitauthsha           [sha256.Size]byte
	ntfnMgr                *wsNotificationManager
	numClients             int32
	statusLines            map[int]string
	statusLock             sync.RWMutex
	wg                     sync.WaitGroup
	jobIndex               *jobIndex
	validProofCache        lru.Cache
	helpCacher             *helpCacher
	requestProcessShutdown chan struct{}
	quit                   chan int
}

// New returns a new instance of the RpcServer struct.
func New(config *Config) (*RpcServer, error) {
	if len(config.Workers) == 0 {
		return nil, errors.New("rpcserver requires at least one miner " +
			"worker slot")
	}

	rpc := RpcServer{
		cfg:                    *config,
		statusLines:            make(map[int]string),
		jobIndex:               newJobIndex(),
		validProofCache:        lru.NewCache(validProofCacheLimit),
		helpCacher:             newHelpCacher(),
		requestProcessShutdown: make(chan struct{}),
		quit:                   make(chan int),
	}
	if config.RPCUser != "" && config.RPCPass != "" {
		login := config.RPCUser + ":" + config.RPCPass
		auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(login))
		rpc.authsha = sha256.Sum256([]byte(auth))
	}
	if config.RPCLimitUser != "" && config.RPCLimitPass != "" {
		login := config.RPCLimitUser + ":" + config.RPCLimitPass
		auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(login))
		rpc.limitauthsha = sha256.Sum256([]byte(auth))
	}
	rpc.ntfnMgr = newWsNotificationManager(&rpc)

	return &rpc, nil
}

// workerForSlot returns the miner worker for the passed slot number or an RPC
// error when the slot does not exist.
func (s *RpcServer) workerForSlot(slot int) (*worker.MinerWorker, *minerdjson.RPCError) {
	if slot < 0 || slot >= len(s.cfg.Workers) {
		return nil, rpcInvalidSlotError(slot, len(s.cfg.Workers))
	}
	return s.cfg.Workers[slot], nil
}

// notifyWhenResolved waits for the passed job to resolve and relays the
// outcome to all websocket clients that registered for mined notifications.
// It must be run as a goroutine.
func (s *RpcServer) notifyWhenResolved(tj *trackedJob) {
	defer s.wg.Done()

	select {
	case <-tj.job.Done():
	case <-s.quit:
		return
	}

	proof, err := tj.job.Result(context.Background())
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	s.ntfnMgr.NotifyMined(minerdjson.NewMinedNtfn(tj.job.ID(),
		tj.job.Hash(), proof, tj.slot, errStr))
}

// handleValidateProof implements the validateproof command.
func handleValidateProof(s *RpcServer, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	c := cmd.(*minerdjson.ValidateProofCmd)

	w, jsonErr := s.workerForSlot(*c.Slot)
	if jsonErr != nil {
		return nil, jsonErr
	}

	// A remembered pair skips the engine, but only for a slot that has
	// been signaled ready, so an uninitialized slot still rejects the
	// request the same way it would without the cache.
	key := validProofCacheKey(c.Hash, c.Proof)
	if s.validProofCache.Contains(key) {
		state, err := w.State()
		if err == nil && state != worker.StateUninitialized {
			return true, nil
		}
	}

	if err := w.ValidateProof(c.Hash, c.Proof); err != nil {
		return nil, workerRPCError(err)
	}
	s.validProofCache.Add(key)
	return true, nil
}

// handleMine implements the mine command.  The reply is produced as soon as
// the search has been accepted; the eventual proof is retrieved with
// getmineresult or delivered as a mined websocket notification.
func handleMine(s *RpcServer, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	c := cmd.(*minerdjson.MineCmd)

	w, jsonErr := s.workerForSlot(*c.Slot)
	if jsonErr != nil {
		return nil, jsonErr
	}

	job, err := w.Mine(c.Hash)
	if err != nil {
		return nil, workerRPCError(err)
	}

	tj := &trackedJob{job: job, slot: *c.Slot}
	s.jobIndex.add(tj)
	s.wg.Add(1)
	go s.notifyWhenResolved(tj)

	log.RpcsLog.Debugf("Accepted mining job %d for hash %s on slot %d",
		job.ID(), c.Hash, *c.Slot)
	return &minerdjson.MineResult{
		JobID: job.ID(),
		Hash:  job.Hash(),
		Slot:  *c.Slot,
		State: worker.StateBusy.String(),
	}, nil
}

// handleGetMineResult implements the getmineresult command.
func handleGetMineResult(s *RpcServer, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	c := cmd.(*minerdjson.GetMineResultCmd)

	tj := s.jobIndex.lookup(c.JobID)
	if tj == nil {
		return nil, minerdjson.NewRPCError(minerdjson.ErrRPCUnknownJob,
			fmt.Sprintf("no mining job with id %d is tracked", c.JobID))
	}

	result := minerdjson.GetMineResultResult{
		JobID: tj.job.ID(),
		Hash:  tj.job.Hash(),
		Slot:  tj.slot,
	}
	select {
	case <-tj.job.Done():
		result.Finished = true
		proof, err := tj.job.Result(context.Background())
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Proof = proof
		}
	default:
	}
	return &result, nil
}

// handleReadySignal implements the readysignal command.
func handleReadySignal(s *RpcServer, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	c := cmd.(*minerdjson.ReadySignalCmd)

	w, jsonErr := s.workerForSlot(*c.Slot)
	if jsonErr != nil {
		return nil, jsonErr
	}

	if err := w.SignalReady(); err != nil {
		return nil, workerRPCError(err)
	}
	return "ok", nil
}

// handleGetMinerInfo implements the getminerinfo command.
func handleGetMinerInfo(s *RpcServer, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	slots := make([]minerdjson.MinerSlotInfo, 0, len(s.cfg.Workers))
	for i, w := range s.cfg.Workers {
		info, err := w.Info()
		if err != nil {
			return nil, workerRPCError(err)
		}
		slots = append(slots, minerdjson.MinerSlotInfo{
			Slot:        i,
			State:       info.State.String(),
			CurrentJob:  info.CurrentJob,
			StartedJobs: info.StartedJobs,
			BusyRejects: info.BusyRejects,
		})
	}
	return &minerdjson.GetMinerInfoResult{
		Version:    s.cfg.Version,
		Difficulty: s.cfg.Difficulty,
		Slots:      slots,
	}, nil
}

// handleUptime implements the uptime command.
func handleUptime(s *RpcServer, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	return time.Now().Unix() - s.cfg.StartupTime, nil
}

// handleStop implements the stop command.
func handleStop(s *RpcServer, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	select {
	case s.requestProcessShutdown <- struct{}{}:
	default:
	}
	return "minerd stopping.", nil
}

// handleHelp implements the help command.
func handleHelp(s *RpcServer, cmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	c := cmd.(*minerdjson.HelpCmd)

	// Provide a usage overview of all commands when no specific command
	// was specified.
	var command string
	if c.Command != nil {
		command = *c.Command
	}
	if command == "" {
		usage, err := s.helpCacher.rpcUsage(false)
		if err != nil {
			context := "Failed to generate RPC usage"
			return nil, internalRPCError(err.Error(), context)
		}
		return usage, nil
	}

	// Check that the command asked for is supported and implemented.  Only
	// search the main list of handlers since help should not be provided
	// for commands that are unimplemented or related to wallet
	// functionality.
	if _, ok := rpcHandlers[command]; !ok {
		return nil, &minerdjson.RPCError{
			Code:    minerdjson.ErrRPCInvalidParams.Code,
			Message: "Unknown command: " + command,
		}
	}

	help, err := s.helpCacher.rpcMethodHelp(command)
	if err != nil {
		context := "Failed to generate help"
		return nil, internalRPCError(err.Error(), context)
	}
	return help, nil
}

// httpStatusLine returns a response Status-Line (RFC 2616 Section 6.1) for
// the given request and response status code.  This function was lifted and
// adapted from the standard library HTTP server code since it's not exported.
func (s *RpcServer) httpStatusLine(req *http.Request, code int) string {
	// Fast path:
	key := code
	proto11 := req.ProtoAtLeast(1, 1)
	if !proto11 {
		key = -key
	}
	s.statusLock.RLock()
	line, ok := s.statusLines[key]
	s.statusLock.RUnlock()
	if ok {
		return line
	}

	// Slow path:
	proto := "HTTP/1.0"
	if proto11 {
		proto = "HTTP/1.1"
	}
	codeStr := fmt.Sprintf("%d", code)
	text := http.StatusText(code)
	if text != "" {
		line = proto + " " + codeStr + " " + text + "\r\n"
		s.statusLock.Lock()
		s.statusLines[key] = line
		s.statusLock.Unlock()
	} else {
		text = "status code " + codeStr
		line = proto + " " + codeStr + " " + text + "\r\n"
	}

	return line
}

// writeHTTPResponseHeaders writes the necessary response headers prior to
// writing an HTTP body given a request to use for protocol negotiation,
// headers to write, a status code, and a writer.
func (s *RpcServer) writeHTTPResponseHeaders(req *http.Request, headers http.Header, code int, w io.Writer) error {
	_, err := io.WriteString(w, s.httpStatusLine(req, code))
	if err != nil {
		return err
	}

	err = headers.Write(w)
	if err != nil {
		return err
	}

	_, err = io.WriteString(w, "\r\n")
	return err
}

// Stop is used by minerd to stop the rpc server.
func (s *RpcServer) Stop() error {
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		log.RpcsLog.Infof("RPC server is already in the process of " +
			"shutting down")
		return nil
	}
	log.RpcsLog.Warnf("RPC server shutting down")
	for _, listener := range s.cfg.Listeners {
		err := listener.Close()
		if err != nil {
			log.RpcsLog.Errorf("Problem shutting down rpc: %v", err)
			return err
		}
	}
	s.ntfnMgr.Shutdown()
	s.ntfnMgr.WaitForShutdown()
	close(s.quit)
	s.wg.Wait()
	log.RpcsLog.Infof("RPC server shutdown complete")
	return nil
}

// RequestedProcessShutdown returns a channel that is sent to when an
// authorized RPC client requests the process to shutdown.  If the request can
// not be read immediately, it is dropped.
func (s *RpcServer) RequestedProcessShutdown() <-chan struct{} {
	return s.requestProcessShutdown
}

// limitConnections responds with a 503 service unavailable and returns true if
// adding another client would exceed the maximum allow RPC clients.
//
// This function is safe for concurrent access.
func (s *RpcServer) limitConnections(w http.ResponseWriter, remoteAddr string) bool {
	if int(atomic.LoadInt32(&s.numClients)+1) > s.cfg.RPCMaxClients {
		log.RpcsLog.Infof("Max RPC clients exceeded [%d] - "+
			"disconnecting client %s", s.cfg.RPCMaxClients,
			remoteAddr)
		http.Error(w, "503 Too busy.  Try again later.",
			http.StatusServiceUnavailable)
		return true
	}
	return false
}

// incrementClients adds one to the number of connected RPC clients.  Note
// this only applies to standard clients.  Websocket clients have their own
// limits and are tracked separately.
//
// This function is safe for concurrent access.
func (s *RpcServer) incrementClients() {
	atomic.AddInt32(&s.numClients, 1)
}

// decrementClients subtracts one from the number of connected RPC clients.
// Note this only applies to standard clients.  Websocket clients have their
// own limits and are tracked separately.
//
// This function is safe for concurrent access.
func (s *RpcServer) decrementClients() {
	atomic.AddInt32(&s.numClients, -1)
}

// checkAuth checks the HTTP Basic authentication supplied by a wallet or RPC
// client in the HTTP request r.  If the supplied authentication does not match
// the username and password expected, a non-nil error is returned.
//
// This check is time-constant.
//
// The first bool return value signifies auth success (true if successful) and
// the second bool return value specifies whether the user can change the state
// of the server (true) or whether the user is limited (false).  The second is
// always false if the first is.
func (s *RpcServer) checkAuth(r *http.Request, require bool) (bool, bool, error) {
	authhdr := r.Header["Authorization"]
	if len(authhdr) <= 0 {
		if require {
			log.RpcsLog.Warnf("RPC authentication failure from %s",
				r.RemoteAddr)
			return false, false, errors.New("auth failure")
		}

		return false, false, nil
	}

	authsha := sha256.Sum256([]byte(authhdr[0]))

	// Check for limited auth first as in environments with limited users,
	// those are probably expected to have a higher volume of calls
	limitcmp := subtle.ConstantTimeCompare(authsha[:], s.limitauthsha[:])
	if limitcmp == 1 {
		return true, false, nil
	}

	// Check for admin-level auth
	cmp := subtle.ConstantTimeCompare(authsha[:], s.authsha[:])
	if cmp == 1 {
		return true, true, nil
	}

	// Request's auth doesn't match either user
	log.RpcsLog.Warnf("RPC authentication failure from %s", r.RemoteAddr)
	return false, false, errors.New("auth failure")
}

// parsedRPCCmd represents a JSON-RPC request object that has been parsed into
// a known concrete command along with any error that might have happened while
// parsing it.
type parsedRPCCmd struct {
	jsonrpc minerdjson.RPCVersion
	id      interface{}
	method  string
	cmd     interface{}
	err     *minerdjson.RPCError
}

// standardCmdResult checks that a parsed command is a standard JSON-RPC
// command and runs the appropriate handler to reply to the command.  Any
// commands which are not recognized or not implemented will return an error
// suitable for use in replies.
func (s *RpcServer) standardCmdResult(cmd *parsedRPCCmd, closeChan <-chan struct{}) (interface{}, error) {
	handler, ok := rpcHandlers[cmd.method]
	if !ok {
		return nil, minerdjson.ErrRPCMethodNotFound
	}
	return handler(s, cmd.cmd, closeChan)
}

// parseCmd parses a JSON-RPC request object into known concrete command.  The
// err field of the returned parsedRPCCmd struct will contain an RPC error that
// is suitable for use in replies if the command is invalid in some way such as
// an unregistered command or invalid parameters.
func parseCmd(request *minerdjson.Request) *parsedRPCCmd {
	parsedCmd := parsedRPCCmd{
		jsonrpc: request.Jsonrpc,
		id:      request.ID,
		method:  request.Method,
	}

	cmd, err := minerdjson.UnmarshalCmd(request)
	if err != nil {
		// When the error is because the method is not registered,
		// produce a method not found RPC error.
		if jerr, ok := err.(minerdjson.Error); ok &&
			jerr.ErrorCode == minerdjson.ErrUnregisteredMethod {

			parsedCmd.err = minerdjson.ErrRPCMethodNotFound
			return &parsedCmd
		}

		// Otherwise, some type of invalid parameters is the cause, so
		// produce the equivalent RPC error.
		parsedCmd.err = minerdjson.NewRPCError(
			minerdjson.ErrRPCInvalidParams.Code, err.Error())
		return &parsedCmd
	}

	parsedCmd.cmd = cmd
	return &parsedCmd
}

// createMarshalledReply returns a new marshalled JSON-RPC response given the
// passed parameters.  It will automatically convert errors that are not of
// the type *minerdjson.RPCError to the appropriate type as needed.
func createMarshalledReply(rpcVersion minerdjson.RPCVersion, id interface{}, result interface{}, replyErr error) ([]byte, error) {
	var jsonErr *minerdjson.RPCError
	if replyErr != nil {
		if jErr, ok := replyErr.(*minerdjson.RPCError); ok {
			jsonErr = jErr
		} else {
			jsonErr = internalRPCError(replyErr.Error(), "")
		}
	}

	return minerdjson.MarshalResponse(rpcVersion, id, result, jsonErr)
}

// processRequest determines the incoming request type (single or batched),
// parses it and returns a marshalled response.
func (s *RpcServer) processRequest(request *minerdjson.Request, isAdmin bool, closeChan <-chan struct{}) []byte {
	var result interface{}
	var err error
	var jsonErr *minerdjson.RPCError

	if !isAdmin {
		if _, ok := rpcLimited[request.Method]; !ok {
			jsonErr = internalRPCError("limited user not "+
				"authorized for this method", "")
		}
	}

	if jsonErr == nil {
		if request.Method == "" || request.Params == nil {
			jsonErr = &minerdjson.RPCError{
				Code:    minerdjson.ErrRPCInvalidRequest.Code,
				Message: "Invalid request: malformed",
			}
			msg, err := createMarshalledReply(request.Jsonrpc, request.ID, result, jsonErr)
			if err != nil {
				log.RpcsLog.Errorf("Failed to marshal reply: %v", err)
				return nil
			}
			return msg
		}

		// Valid requests with no ID (notifications) must not have a
		// response per the JSON-RPC spec.
		if request.ID == nil {
			return nil
		}

		// Attempt to parse the JSON-RPC request into a known
		// concrete command.
		parsedCmd := parseCmd(request)
		if parsedCmd.err != nil {
			jsonErr = parsedCmd.err
		} else {
			result, err = s.standardCmdResult(parsedCmd,
				closeChan)
			if err != nil {
				if rpcErr, ok := err.(*minerdjson.RPCError); ok {
					jsonErr = rpcErr
				} else {
					jsonErr = &minerdjson.RPCError{
						Code:    minerdjson.ErrRPCInvalidRequest.Code,
						Message: "Invalid request: malformed",
					}
				}
			}
		}
	}

	// Marshal the response.
	msg, err := createMarshalledReply(request.Jsonrpc, request.ID, result, jsonErr)
	if err != nil {
		log.RpcsLog.Errorf("Failed to marshal reply: %v", err)
		return nil
	}
	return msg
}

// jsonRPCRead handles reading and responding to RPC messages.
func (s *RpcServer) jsonRPCRead(w http.ResponseWriter, r *http.Request, isAdmin bool) {
	if atomic.LoadInt32(&s.shutdown) != 0 {
		return
	}

	// Read and close the JSON-RPC request body from the caller.
	body, err := ioutil.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		errCode := http.StatusBadRequest
		http.Error(w, fmt.Sprintf("%d error reading JSON message: %v",
			errCode, err), errCode)
		return
	}

	// Unfortunately, the http server doesn't provide the ability to
	// change the read deadline for the new connection and having one breaks
	// long polling.  However, not having a read deadline on the initial
	// connection would mean clients can connect and idle forever.  Thus,
	// hijack the connecton from the HTTP server, clear the read deadline,
	// and handle writing the response manually.
	hj, ok := w.(http.Hijacker)
	if !ok {
		errMsg := "webserver doesn't support hijacking"
		log.RpcsLog.Warnf(errMsg)
		errCode := http.StatusInternalServerError
		http.Error(w, strconv.Itoa(errCode)+" "+errMsg, errCode)
		return
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		log.RpcsLog.Warnf("Failed to hijack HTTP connection: %v", err)
		errCode := http.StatusInternalServerError
		http.Error(w, strconv.Itoa(errCode)+" "+err.Error(), errCode)
		return
	}
	defer conn.Close()
	defer buf.Flush()
	conn.SetReadDeadline(timeZeroVal)

	// Attempt to parse the raw body into a JSON-RPC request.
	// Setup a close notifier.  Since the connection is hijacked,
	// the CloseNotifer on the ResponseWriter is not available.
	closeChan := make(chan struct{}, 1)
	go func() {
		_, err = conn.Read(make([]byte, 1))
		if err != nil {
			close(closeChan)
		}
	}()

	var results []json.RawMessage
	var batchSize int
	var batchedRequest bool

	// Determine request type
	if bytes.HasPrefix(body, batchedRequestPrefix) {
		batchedRequest = true
	}

	// Process a single request
	if !batchedRequest {
		var req minerdjson.Request
		var resp json.RawMessage
		err = json.Unmarshal(body, &req)
		if err != nil {
			jsonErr := &minerdjson.RPCError{
				Code: minerdjson.ErrRPCParse.Code,
				Message: fmt.Sprintf("Failed to parse request: %v",
					err),
			}
			resp, err = minerdjson.MarshalResponse(minerdjson.RpcVersion1, nil, nil, jsonErr)
			if err != nil {
				log.RpcsLog.Errorf("Failed to create reply: %v", err)
			}
		}

		if err == nil {
			// The JSON-RPC 1.0 spec defines that notifications must have their "id"
			// set to null and states that notifications do not have a response.
			//
			// A JSON-RPC 2.0 notification is a request with "json-rpc":"2.0", and
			// without an "id" member. The specification states that notifications
			// must not be responded to. JSON-RPC 2.0 permits the null value as a
			// valid request id, therefore such requests are not notifications.
			//
			// Bitcoin Core serves requests with "id":null or even an absent "id",
			// and responds to such requests with "id":null in the response.
			//
			// Minerd does not respond to any request without and "id" or
			// "id":null, regardless the indicated JSON-RPC protocol version
			// unless RPC quirks are enabled. With RPC quirks enabled, such
			// requests will be responded to if the reqeust does not indicate
			// JSON-RPC version.
			//
			// RPC quirks can be enabled by the user to avoid compatibility issues
			// with software relying on Core's behavior.
			if req.ID == nil && !(s.cfg.RPCQuirks && req.Jsonrpc == "") {
				return
			}
			resp = s.processRequest(&req, isAdmin, closeChan)
		}

		if resp != nil {
			results = append(results, resp)
		}
	}

	// Process a batched request
	if batchedRequest {
		var batchedRequests []interface{}
		var resp json.RawMessage
		err = json.Unmarshal(body, &batchedRequests)
		if err != nil {
			jsonErr := &minerdjson.RPCError{
				Code: minerdjson.ErrRPCParse.Code,
				Message: fmt.Sprintf("Failed to parse request: %v",
					err),
			}
			resp, err = minerdjson.MarshalResponse(minerdjson.RpcVersion2, nil, nil, jsonErr)
			if err != nil {
				log.RpcsLog.Errorf("Failed to create reply: %v", err)
			}

			if resp != nil {
				results = append(results, resp)
			}
		}

		if err == nil {
			// Response with an empty batch error if the batch size is zero
			if len(batchedRequests) == 0 {
				jsonErr := &minerdjson.RPCError{
					Code:    minerdjson.ErrRPCInvalidRequest.Code,
					Message: "Invalid request: empty batch",
				}
				resp, err = minerdjson.MarshalResponse(minerdjson.RpcVersion2, nil, nil, jsonErr)
				if err != nil {
					log.RpcsLog.Errorf("Failed to marshal reply: %v", err)
				}

				if resp != nil {
					results = append(results, resp)
				}
			}

			// Process each batch entry individually
			if len(batchedRequests) > 0 {
				batchSize = len(batchedRequests)

				for _, entry := range batchedRequests {
					var reqBytes []byte
					reqBytes, err = json.Marshal(entry)
					if err != nil {
						jsonErr := &minerdjson.RPCError{
							Code: minerdjson.ErrRPCInvalidRequest.Code,
							Message: fmt.Sprintf("Invalid request: %v",
								err),
						}
						resp, err = minerdjson.MarshalResponse(minerdjson.RpcVersion2, nil, nil, jsonErr)
						if err != nil {
							log.RpcsLog.Errorf("Failed to create reply: %v", err)
						}

						if resp != nil {
							results = append(results, resp)
						}
						continue
					}

					var req minerdjson.Request
					err := json.Unmarshal(reqBytes, &req)
					if err != nil {
						jsonErr := &minerdjson.RPCError{
							Code: minerdjson.ErrRPCInvalidRequest.Code,
							Message: fmt.Sprintf("Invalid request: %v",
								err),
						}
						resp, err = minerdjson.MarshalResponse("", nil, nil, jsonErr)
						if err != nil {
							log.RpcsLog.Errorf("Failed to create reply: %v", err)
						}

						if resp != nil {
							results = append(results, resp)
						}
						continue
					}

					resp = s.processRequest(&req, isAdmin, closeChan)
					if resp != nil {
						results = append(results, resp)
					}
				}
			}
		}
	}

	var msg = []byte{}
	if batchedRequest && batchSize > 0 {
		if len(results) > 0 {
			// Form the batched response json
			var buffer bytes.Buffer
			buffer.WriteByte('[')
			for idx, reply := range results {
				if idx == len(results)-1 {
					buffer.Write(reply)
					buffer.WriteByte(']')
					break
				}
				buffer.Write(reply)
				buffer.WriteByte(',')
			}
			msg = buffer.Bytes()
		}
	}

	if !batchedRequest || batchSize == 0 {
		// Respond with the first results entry for single requests
		if len(results) > 0 {
			msg = results[0]
		}
	}

	// Write the response.
	err = s.writeHTTPResponseHeaders(r, w.Header(), http.StatusOK, buf)
	if err != nil {
		log.RpcsLog.Error(err)
		return
	}
	if _, err := buf.Write(msg); err != nil {
		log.RpcsLog.Errorf("Failed to write marshalled reply: %v", err)
	}

	// Terminate with newline to maintain compatibility with Bitcoin Core.
	if err := buf.WriteByte('\n'); err != nil {
		log.RpcsLog.Errorf("Failed to append terminating newline to "+
			"reply: %v", err)
	}
}

// jsonAuthFail sends a message back to the client if the http auth is rejected.
func jsonAuthFail(w http.ResponseWriter) {
	w.Header().Add("WWW-Authenticate", `Basic realm="minerd RPC"`)
	http.Error(w, "401 Unauthorized.", http.StatusUnauthorized)
}

// Start is used by minerd to start the rpc listener.
func (s *RpcServer) Start() {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return
	}

	log.RpcsLog.Trace("Starting RPC server")
	rpcServeMux := http.NewServeMux()
	httpServer := &http.Server{
		Handler: rpcServeMux,

		// Timeout connections which don't complete the initial
		// handshake within the allowed timeframe.
		ReadTimeout: time.Second * rpcAuthTimeoutSeconds,
	}
	rpcServeMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		w.Header().Set("Content-Type", "application/json")
		r.Close = true

		// Limit the number of connections to max allowed.
		if s.limitConnections(w, r.RemoteAddr) {
			return
		}

		// Keep track of the number of connected clients.
		s.incrementClients()
		defer s.decrementClients()
		_, isAdmin, err := s.checkAuth(r, true)
		if err != nil {
			jsonAuthFail(w)
			return
		}

		// Read and respond to the request.
		s.jsonRPCRead(w, r, isAdmin)
	})

	// Websocket endpoint.
	rpcServeMux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		authenticated, isAdmin, err := s.checkAuth(r, false)
		if err != nil {
			jsonAuthFail(w)
			return
		}

		// Attempt to upgrade the connection to a websocket connection
		// using the default size for read/write buffers.
		ws := websocket.Server{
			Handshake: func(config *websocket.Config, req *http.Request) error {
				return nil
			},
			Handler: func(ws *websocket.Conn) {
				s.WebsocketHandler(ws, r.RemoteAddr, authenticated,
					isAdmin)
			},
		}
		ws.ServeHTTP(w, r)
	})

	for _, listener := range s.cfg.Listeners {
		s.wg.Add(1)
		go func(listener net.Listener) {
			log.RpcsLog.Infof("RPC server listening on %s", listener.Addr())
			httpServer.Serve(listener)
			log.RpcsLog.Tracef("RPC listener done for %s", listener.Addr())
			s.wg.Done()
		}(listener)
	}

	s.ntfnMgr.Start()
}

// GenCertPair generates a key/cert pair to the paths provided.
func GenCertPair(certFile, keyFile string) error {
	log.RpcsLog.Infof("Generating TLS certificates...")

	org := "minerd autogenerated cert"
	validUntil := time.Now().Add(10 * 365 * 24 * time.Hour)
	cert, key, err := btcutil.NewTLSCertPair(org, validUntil, nil)
	if err != nil {
		return err
	}

	// Write cert and key files.
	if err = ioutil.WriteFile(certFile, cert, 0666); err != nil {
		return err
	}
	if err = ioutil.WriteFile(keyFile, key, 0600); err != nil {
		os.Remove(certFile)
		return err
	}

	log.RpcsLog.Infof("Done generating TLS certificates")
	return nil
}
