package rpcclient

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MonteCarloClub/minerd/minerdjson"
)

// newTestClient returns a client wired to a stub HTTP server that answers the
// miner commands with canned replies.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := ioutil.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req minerdjson.Request
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var result interface{}
		var rpcErr *minerdjson.RPCError
		switch req.Method {
		case "validateproof":
			result = true
		case "uptime":
			result = int64(99)
		case "mine":
			rpcErr = minerdjson.NewRPCError(
				minerdjson.ErrRPCMinerBusy,
				"a search is already outstanding")
		default:
			rpcErr = minerdjson.ErrRPCMethodNotFound
		}

		resp, err := minerdjson.MarshalResponse(req.Jsonrpc, req.ID,
			result, rpcErr)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write(resp)
	}))

	client, err := New(&ConnConfig{
		Host:       strings.TrimPrefix(server.URL, "http://"),
		User:       "user",
		Pass:       "pass",
		DisableTLS: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(func() {
		client.Shutdown()
		client.WaitForShutdown()
		server.Close()
	})
	return client
}

// TestHTTPPostCommands exercises the round trip of a few commands through the
// HTTP POST transport, including server-side errors surfacing through the
// future.
func TestHTTPPostCommands(t *testing.T) {
	client := newTestClient(t)

	valid, err := client.ValidateProof("0000abcd", 42, 0)
	if err != nil {
		t.Fatalf("ValidateProof: %v", err)
	}
	if !valid {
		t.Fatal("ValidateProof: got false, want true")
	}

	uptime, err := client.Uptime()
	if err != nil {
		t.Fatalf("Uptime: %v", err)
	}
	if uptime != 99 {
		t.Fatalf("Uptime: got %d, want 99", uptime)
	}

	_, err = client.Mine("0000abcd", 0)
	rpcErr, ok := err.(*minerdjson.RPCError)
	if !ok {
		t.Fatalf("Mine: got %T (%v), want *minerdjson.RPCError", err, err)
	}
	if rpcErr.Code != minerdjson.ErrRPCMinerBusy {
		t.Fatalf("Mine: got code %d, want %d", rpcErr.Code,
			minerdjson.ErrRPCMinerBusy)
	}
}

// TestFuturesAreConcurrent ensures several asynchronous requests can be
// outstanding at once and each future resolves with its own reply.
func TestFuturesAreConcurrent(t *testing.T) {
	client := newTestClient(t)

	validateFuture := client.ValidateProofAsync("0000abcd", 42, 0)
	uptimeFuture := client.UptimeAsync()

	uptime, err := uptimeFuture.Receive()
	if err != nil {
		t.Fatalf("Uptime future: %v", err)
	}
	if uptime != 99 {
		t.Fatalf("Uptime future: got %d, want 99", uptime)
	}

	valid, err := validateFuture.Receive()
	if err != nil {
		t.Fatalf("ValidateProof future: %v", err)
	}
	if !valid {
		t.Fatal("ValidateProof future: got false, want true")
	}
}

// TestShutdownFailsRequests ensures requests issued after Shutdown fail with
// ErrClientShutdown.
func TestShutdownFailsRequests(t *testing.T) {
	client := newTestClient(t)

	client.Shutdown()
	client.WaitForShutdown()

	_, err := client.Uptime()
	if err != ErrClientShutdown {
		t.Fatalf("got %v, want %v", err, ErrClientShutdown)
	}
}
