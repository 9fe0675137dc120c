package minerdjson

// Standard JSON-RPC 2.0 errors.
var (
	ErrRPCInvalidRequest = &RPCError{
		Code:    -32600,
		Message: "Invalid request",
	}
	ErrRPCMethodNotFound = &RPCError{
		Code:    -32601,
		Message: "Method not found",
	}
	ErrRPCInvalidParams = &RPCError{
		Code:    -32602,
		Message: "Invalid parameters",
	}
	ErrRPCInternal = &RPCError{
		Code:    -32603,
		Message: "Internal error",
	}
	ErrRPCParse = &RPCError{
		Code:    -32700,
		Message: "Parse error",
	}
)

// General application defined JSON errors.
const (
	ErrRPCMisc RPCErrorCode = -1
)

// Specific errors related to commands.  These are the ones a user of the RPC
// server are most likely to see.  Generally, the codes should match one of the
// more general errors above.
const (
	// ErrRPCMinerNotInitialized indicates a request other than readysignal
	// was issued before the targeted miner slot received its initial ready
	// signal.
	ErrRPCMinerNotInitialized RPCErrorCode = -101

	// ErrRPCMinerBusy indicates a mining request was issued while the
	// targeted miner slot already had a search outstanding.
	ErrRPCMinerBusy RPCErrorCode = -102

	// ErrRPCInvalidProof indicates the submitted proof does not satisfy
	// the puzzle for the submitted hash.
	ErrRPCInvalidProof RPCErrorCode = -103

	// ErrRPCEngineFailure indicates the proof-of-work engine failed while
	// searching for a proof.
	ErrRPCEngineFailure RPCErrorCode = -104

	// ErrRPCUnknownJob indicates a result was requested for a job
	// identifier the server is not tracking.
	ErrRPCUnknownJob RPCErrorCode = -105

	// ErrRPCInvalidSlot indicates a request targeted a miner slot that
	// does not exist.
	ErrRPCInvalidSlot RPCErrorCode = -106
)
