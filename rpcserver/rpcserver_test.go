package rpcserver

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/MonteCarloClub/minerd/minerdjson"
	"github.com/MonteCarloClub/minerd/mining/worker"
)

// stubEngine is a trivial proof-of-work engine for exercising the command
// handlers without doing real hashing.  Even proofs validate, searches
// resolve immediately with proof 42.
type stubEngine struct{}

func (stubEngine) ValidateProof(hash string, proof uint64) bool {
	return proof%2 == 0
}

func (stubEngine) SearchProof(ctx context.Context, hash string) (uint64, error) {
	return 42, nil
}

// newTestServer returns an RPC server backed by two started worker slots and
// registers cleanup to shut everything down when the test finishes.
func newTestServer(t *testing.T) *RpcServer {
	t.Helper()

	workers := make([]*worker.MinerWorker, 2)
	for i := range workers {
		w, err := worker.New(&worker.Config{Engine: stubEngine{}})
		if err != nil {
			t.Fatalf("worker.New: %v", err)
		}
		w.Start()
		workers[i] = w
	}

	s, err := New(&Config{
		StartupTime:          time.Now().Unix(),
		Workers:              workers,
		Difficulty:           16,
		Version:              "0.1.0",
		RPCUser:              "admin",
		RPCPass:              "adminpass",
		RPCLimitUser:         "limit",
		RPCLimitPass:         "limitpass",
		RPCMaxClients:        10,
		RPCMaxWebsockets:     10,
		RPCMaxConcurrentReqs: 5,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(func() {
		s.Stop()
		for _, w := range workers {
			w.Stop()
			w.WaitForShutdown()
		}
	})
	return s
}

// TestCheckAuth ensures HTTP basic credentials map to the expected access
// levels and that missing or wrong credentials are rejected.
func TestCheckAuth(t *testing.T) {
	s := newTestServer(t)

	basic := func(user, pass string) string {
		return "Basic " + base64.StdEncoding.EncodeToString(
			[]byte(user+":"+pass))
	}

	tests := []struct {
		name      string
		header    string
		require   bool
		wantAuthd bool
		wantAdmin bool
		wantErr   bool
	}{
		{name: "no header optional", require: false},
		{name: "no header required", require: true, wantErr: true},
		{
			name:    "wrong credentials",
			header:  basic("admin", "wrong"),
			require: true,
			wantErr: true,
		},
		{
			name:      "admin credentials",
			header:    basic("admin", "adminpass"),
			require:   true,
			wantAuthd: true,
			wantAdmin: true,
		},
		{
			name:      "limited credentials",
			header:    basic("limit", "limitpass"),
			require:   true,
			wantAuthd: true,
		},
	}

	for _, test := range tests {
		r := &http.Request{Header: make(http.Header)}
		if test.header != "" {
			r.Header["Authorization"] = []string{test.header}
		}
		authd, isAdmin, err := s.checkAuth(r, test.require)
		if (err != nil) != test.wantErr {
			t.Errorf("%s: unexpected error status: %v", test.name, err)
			continue
		}
		if authd != test.wantAuthd || isAdmin != test.wantAdmin {
			t.Errorf("%s: got (%v, %v), want (%v, %v)", test.name,
				authd, isAdmin, test.wantAuthd, test.wantAdmin)
		}
	}
}

// TestHandlersRejectUninitializedSlot ensures validateproof and mine are
// refused with the not-initialized code before the slot receives its ready
// signal.
func TestHandlersRejectUninitializedSlot(t *testing.T) {
	s := newTestServer(t)

	_, err := handleValidateProof(s, minerdjson.NewValidateProofCmd(
		"0000abcd", 2, minerdjson.Int(0)), nil)
	if rpcErr, ok := err.(*minerdjson.RPCError); !ok ||
		rpcErr.Code != minerdjson.ErrRPCMinerNotInitialized {

		t.Fatalf("validateproof: got %v, want code %d", err,
			minerdjson.ErrRPCMinerNotInitialized)
	}

	_, err = handleMine(s, minerdjson.NewMineCmd("0000abcd",
		minerdjson.Int(0)), nil)
	if rpcErr, ok := err.(*minerdjson.RPCError); !ok ||
		rpcErr.Code != minerdjson.ErrRPCMinerNotInitialized {

		t.Fatalf("mine: got %v, want code %d", err,
			minerdjson.ErrRPCMinerNotInitialized)
	}
}

// TestMineLifecycle exercises the full readysignal, mine, getmineresult flow
// against a single slot.
func TestMineLifecycle(t *testing.T) {
	s := newTestServer(t)

	result, err := handleReadySignal(s, minerdjson.NewReadySignalCmd(
		minerdjson.Int(0)), nil)
	if err != nil {
		t.Fatalf("readysignal: %v", err)
	}
	if result != "ok" {
		t.Fatalf("readysignal: got result %v, want ok", result)
	}

	mineIface, err := handleMine(s, minerdjson.NewMineCmd("0000abcd",
		minerdjson.Int(0)), nil)
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	mineResult := mineIface.(*minerdjson.MineResult)
	if mineResult.JobID == 0 {
		t.Fatal("mine: job id was not assigned")
	}
	if mineResult.State != "busy" {
		t.Fatalf("mine: got state %q, want busy", mineResult.State)
	}

	// The stub engine resolves immediately, so the job must finish with
	// the stub proof well within the deadline.
	deadline := time.After(5 * time.Second)
	for {
		resIface, err := handleGetMineResult(s,
			minerdjson.NewGetMineResultCmd(mineResult.JobID), nil)
		if err != nil {
			t.Fatalf("getmineresult: %v", err)
		}
		res := resIface.(*minerdjson.GetMineResultResult)
		if res.Finished {
			if res.Error != "" {
				t.Fatalf("job finished with error: %s", res.Error)
			}
			if res.Proof != 42 {
				t.Fatalf("got proof %d, want 42", res.Proof)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("job did not finish before the deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// An unknown job id must be reported as such.
	_, err = handleGetMineResult(s, minerdjson.NewGetMineResultCmd(
		mineResult.JobID+1000), nil)
	if rpcErr, ok := err.(*minerdjson.RPCError); !ok ||
		rpcErr.Code != minerdjson.ErrRPCUnknownJob {

		t.Fatalf("unknown job: got %v, want code %d", err,
			minerdjson.ErrRPCUnknownJob)
	}
}

// TestValidateProofCommand ensures valid and invalid proofs produce the
// expected replies once the slot is initialized, and that a slot outside the
// configured pool is refused.
func TestValidateProofCommand(t *testing.T) {
	s := newTestServer(t)

	if _, err := handleReadySignal(s, minerdjson.NewReadySignalCmd(
		minerdjson.Int(0)), nil); err != nil {
		t.Fatalf("readysignal: %v", err)
	}

	result, err := handleValidateProof(s, minerdjson.NewValidateProofCmd(
		"0000abcd", 2, minerdjson.Int(0)), nil)
	if err != nil {
		t.Fatalf("valid proof rejected: %v", err)
	}
	if result != true {
		t.Fatalf("valid proof: got result %v, want true", result)
	}

	// A second validation of the same pair is served from the cache and
	// must produce the same reply.
	result, err = handleValidateProof(s, minerdjson.NewValidateProofCmd(
		"0000abcd", 2, minerdjson.Int(0)), nil)
	if err != nil || result != true {
		t.Fatalf("cached proof: got (%v, %v), want (true, nil)",
			result, err)
	}

	_, err = handleValidateProof(s, minerdjson.NewValidateProofCmd(
		"0000abcd", 3, minerdjson.Int(0)), nil)
	if rpcErr, ok := err.(*minerdjson.RPCError); !ok ||
		rpcErr.Code != minerdjson.ErrRPCInvalidProof {

		t.Fatalf("invalid proof: got %v, want code %d", err,
			minerdjson.ErrRPCInvalidProof)
	}

	_, err = handleValidateProof(s, minerdjson.NewValidateProofCmd(
		"0000abcd", 2, minerdjson.Int(7)), nil)
	if rpcErr, ok := err.(*minerdjson.RPCError); !ok ||
		rpcErr.Code != minerdjson.ErrRPCInvalidSlot {

		t.Fatalf("invalid slot: got %v, want code %d", err,
			minerdjson.ErrRPCInvalidSlot)
	}
}

// TestGetMinerInfo ensures the info command reports every configured slot
// with its state.
func TestGetMinerInfo(t *testing.T) {
	s := newTestServer(t)

	if _, err := handleReadySignal(s, minerdjson.NewReadySignalCmd(
		minerdjson.Int(1)), nil); err != nil {
		t.Fatalf("readysignal: %v", err)
	}

	infoIface, err := handleGetMinerInfo(s, minerdjson.NewGetMinerInfoCmd(), nil)
	if err != nil {
		t.Fatalf("getminerinfo: %v", err)
	}
	info := infoIface.(*minerdjson.GetMinerInfoResult)
	if len(info.Slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(info.Slots))
	}
	if info.Slots[0].State != "uninitialized" {
		t.Errorf("slot 0: got state %q, want uninitialized",
			info.Slots[0].State)
	}
	if info.Slots[1].State != "ready" {
		t.Errorf("slot 1: got state %q, want ready", info.Slots[1].State)
	}
	if info.Difficulty != 16 {
		t.Errorf("got difficulty %d, want 16", info.Difficulty)
	}
}

// TestLimitedUserCommands ensures state-changing commands are not available
// to the limited user.
func TestLimitedUserCommands(t *testing.T) {
	for _, method := range []string{"mine", "readysignal", "stop"} {
		if _, ok := rpcLimited[method]; ok {
			t.Errorf("%s must not be available to the limited user",
				method)
		}
	}
	for _, method := range []string{"validateproof", "getmineresult",
		"getminerinfo", "uptime", "help"} {

		if _, ok := rpcLimited[method]; !ok {
			t.Errorf("%s should be available to the limited user",
				method)
		}
	}
}
