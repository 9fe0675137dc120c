package rpcclient

import (
	"encoding/json"

	"github.com/MonteCarloClub/minerd/minerdjson"
)

// FutureValidateProofResult is a future promise to deliver the result of a
// ValidateProofAsync RPC invocation (or an applicable error).
type FutureValidateProofResult chan *Response

// Receive waits for the Response promised by the future and returns whether
// or not the proof satisfies the puzzle for the hash.  A proof the server
// rejected as invalid is reported as an error with code -103.
func (r FutureValidateProofResult) Receive() (bool, error) {
	res, err := ReceiveFuture(r)
	if err != nil {
		return false, err
	}

	var valid bool
	err = json.Unmarshal(res, &valid)
	if err != nil {
		return false, err
	}
	return valid, nil
}

// ValidateProofAsync returns an instance of a type that can be used to get
// the result of the RPC at some future time by invoking the Receive function
// on the returned instance.
//
// See ValidateProof for the blocking version and more details.
func (c *Client) ValidateProofAsync(hash string, proof uint64, slot int) FutureValidateProofResult {
	cmd := minerdjson.NewValidateProofCmd(hash, proof, minerdjson.Int(slot))
	return c.SendCmd(cmd)
}

// ValidateProof checks whether the passed proof satisfies the puzzle for the
// passed hash on the given miner slot.
func (c *Client) ValidateProof(hash string, proof uint64, slot int) (bool, error) {
	return c.ValidateProofAsync(hash, proof, slot).Receive()
}

// FutureMineResult is a future promise to deliver the result of a MineAsync
// RPC invocation (or an applicable error).
type FutureMineResult chan *Response

// Receive waits for the Response promised by the future and returns the
// accepted job descriptor.  Note that the reply only acknowledges the search
// was started; the proof itself must be retrieved with GetMineResult or
// received as a mined notification.
func (r FutureMineResult) Receive() (*minerdjson.MineResult, error) {
	res, err := ReceiveFuture(r)
	if err != nil {
		return nil, err
	}

	var mineResult minerdjson.MineResult
	err = json.Unmarshal(res, &mineResult)
	if err != nil {
		return nil, err
	}
	return &mineResult, nil
}

// MineAsync returns an instance of a type that can be used to get the result
// of the RPC at some future time by invoking the Receive function on the
// returned instance.
//
// See Mine for the blocking version and more details.
func (c *Client) MineAsync(hash string, slot int) FutureMineResult {
	cmd := minerdjson.NewMineCmd(hash, minerdjson.Int(slot))
	return c.SendCmd(cmd)
}

// Mine requests an asynchronous proof-of-work search for the passed hash on
// the given miner slot.  The server replies as soon as the search is
// accepted; a busy slot rejects the request with error code -102.
func (c *Client) Mine(hash string, slot int) (*minerdjson.MineResult, error) {
	return c.MineAsync(hash, slot).Receive()
}

// FutureGetMineResultResult is a future promise to deliver the result of a
// GetMineResultAsync RPC invocation (or an applicable error).
type FutureGetMineResultResult chan *Response

// Receive waits for the Response promised by the future and returns the state
// of the requested mining job.
func (r FutureGetMineResultResult) Receive() (*minerdjson.GetMineResultResult, error) {
	res, err := ReceiveFuture(r)
	if err != nil {
		return nil, err
	}

	var result minerdjson.GetMineResultResult
	err = json.Unmarshal(res, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetMineResultAsync returns an instance of a type that can be used to get
// the result of the RPC at some future time by invoking the Receive function
// on the returned instance.
//
// See GetMineResult for the blocking version and more details.
func (c *Client) GetMineResultAsync(jobID uint64) FutureGetMineResultResult {
	cmd := minerdjson.NewGetMineResultCmd(jobID)
	return c.SendCmd(cmd)
}

// GetMineResult returns the state of a previously started mining job.  The
// proof field of the result is only meaningful once the job is finished
// without an error.
func (c *Client) GetMineResult(jobID uint64) (*minerdjson.GetMineResultResult, error) {
	return c.GetMineResultAsync(jobID).Receive()
}

// FutureReadySignalResult is a future promise to deliver the result of a
// ReadySignalAsync RPC invocation (or an applicable error).
type FutureReadySignalResult chan *Response

// Receive waits for the Response promised by the future and returns an error
// if the ready signal was not acknowledged.
func (r FutureReadySignalResult) Receive() error {
	res, err := ReceiveFuture(r)
	if err != nil {
		return err
	}

	var ack string
	return json.Unmarshal(res, &ack)
}

// ReadySignalAsync returns an instance of a type that can be used to get the
// result of the RPC at some future time by invoking the Receive function on
// the returned instance.
//
// See ReadySignal for the blocking version and more details.
func (c *Client) ReadySignalAsync(slot int) FutureReadySignalResult {
	cmd := minerdjson.NewReadySignalCmd(minerdjson.Int(slot))
	return c.SendCmd(cmd)
}

// ReadySignal marks the given miner slot ready.  The first signal initializes
// the slot; a signal while a search is outstanding abandons that search
// without stopping it.
func (c *Client) ReadySignal(slot int) error {
	return c.ReadySignalAsync(slot).Receive()
}

// FutureGetMinerInfoResult is a future promise to deliver the result of a
// GetMinerInfoAsync RPC invocation (or an applicable error).
type FutureGetMinerInfoResult chan *Response

// Receive waits for the Response promised by the future and returns the
// miner information.
func (r FutureGetMinerInfoResult) Receive() (*minerdjson.GetMinerInfoResult, error) {
	res, err := ReceiveFuture(r)
	if err != nil {
		return nil, err
	}

	var info minerdjson.GetMinerInfoResult
	err = json.Unmarshal(res, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// GetMinerInfoAsync returns an instance of a type that can be used to get
// the result of the RPC at some future time by invoking the Receive function
// on the returned instance.
//
// See GetMinerInfo for the blocking version and more details.
func (c *Client) GetMinerInfoAsync() FutureGetMinerInfoResult {
	cmd := minerdjson.NewGetMinerInfoCmd()
	return c.SendCmd(cmd)
}

// GetMinerInfo returns the version, configured difficulty, and per-slot state
// and counters of the miner.
func (c *Client) GetMinerInfo() (*minerdjson.GetMinerInfoResult, error) {
	return c.GetMinerInfoAsync().Receive()
}

// FutureUptimeResult is a future promise to deliver the result of an
// UptimeAsync RPC invocation (or an applicable error).
type FutureUptimeResult chan *Response

// Receive waits for the Response promised by the future and returns the
// uptime of the server in seconds.
func (r FutureUptimeResult) Receive() (int64, error) {
	res, err := ReceiveFuture(r)
	if err != nil {
		return 0, err
	}

	var uptime int64
	err = json.Unmarshal(res, &uptime)
	if err != nil {
		return 0, err
	}
	return uptime, nil
}

// UptimeAsync returns an instance of a type that can be used to get the
// result of the RPC at some future time by invoking the Receive function on
// the returned instance.
//
// See Uptime for the blocking version and more details.
func (c *Client) UptimeAsync() FutureUptimeResult {
	cmd := minerdjson.NewUptimeCmd()
	return c.SendCmd(cmd)
}

// Uptime returns the total uptime of the server in seconds.
func (c *Client) Uptime() (int64, error) {
	return c.UptimeAsync().Receive()
}

// FutureStopResult is a future promise to deliver the result of a StopAsync
// RPC invocation (or an applicable error).
type FutureStopResult chan *Response

// Receive waits for the Response promised by the future and returns the
// shutdown acknowledgement message from the server.
func (r FutureStopResult) Receive() (string, error) {
	res, err := ReceiveFuture(r)
	if err != nil {
		return "", err
	}

	var ack string
	err = json.Unmarshal(res, &ack)
	if err != nil {
		return "", err
	}
	return ack, nil
}

// StopAsync returns an instance of a type that can be used to get the result
// of the RPC at some future time by invoking the Receive function on the
// returned instance.
//
// See Stop for the blocking version and more details.
func (c *Client) StopAsync() FutureStopResult {
	cmd := minerdjson.NewStopCmd()
	return c.SendCmd(cmd)
}

// Stop requests a graceful shutdown of the server.
func (c *Client) Stop() (string, error) {
	return c.StopAsync().Receive()
}

// FutureHelpResult is a future promise to deliver the result of a HelpAsync
// RPC invocation (or an applicable error).
type FutureHelpResult chan *Response

// Receive waits for the Response promised by the future and returns the help
// text.
func (r FutureHelpResult) Receive() (string, error) {
	res, err := ReceiveFuture(r)
	if err != nil {
		return "", err
	}

	var help string
	err = json.Unmarshal(res, &help)
	if err != nil {
		return "", err
	}
	return help, nil
}

// HelpAsync returns an instance of a type that can be used to get the result
// of the RPC at some future time by invoking the Receive function on the
// returned instance.
//
// See Help for the blocking version and more details.
func (c *Client) HelpAsync(command string) FutureHelpResult {
	var cmdArg *string
	if command != "" {
		cmdArg = minerdjson.String(command)
	}
	cmd := minerdjson.NewHelpCmd(cmdArg)
	return c.SendCmd(cmd)
}

// Help returns a usage overview of all commands, or the help text of the
// passed command when it is not empty.
func (c *Client) Help(command string) (string, error) {
	return c.HelpAsync(command).Receive()
}
