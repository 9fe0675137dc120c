package rpcserver

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// helpDescs houses the single-line usage synopsis and the longer description
// of every command the server implements, keyed by method.  Methods without
// an entry here are a programming error surfaced by rpcMethodHelp.
var helpDescs = map[string][2]string{
	"validateproof": {
		"validateproof \"hash\" proof (slot=0)",
		"Checks whether the passed proof satisfies the puzzle for the " +
			"passed hash on the given miner slot.  Returns true when " +
			"the proof is valid; an invalid proof is reported as an " +
			"error with code -103.",
	},
	"mine": {
		"mine \"hash\" (slot=0)",
		"Starts an asynchronous proof-of-work search for the passed " +
			"hash on the given miner slot.  The reply carries the job " +
			"identifier immediately; retrieve the proof with " +
			"getmineresult or subscribe to mined notifications over " +
			"websockets.  Fails with code -102 while the slot already " +
			"has a search outstanding.",
	},
	"getmineresult": {
		"getmineresult jobid",
		"Returns the state of a previously started mining job.  The " +
			"proof field is only meaningful once finished is true and " +
			"error is empty.",
	},
	"readysignal": {
		"readysignal (slot=0)",
		"Marks the given miner slot ready.  The first signal " +
			"initializes the slot; a signal while a search is " +
			"outstanding abandons that search without stopping it.",
	},
	"getminerinfo": {
		"getminerinfo",
		"Returns the version, configured difficulty, and per-slot " +
			"state and counters of the miner.",
	},
	"uptime": {
		"uptime",
		"Returns the total uptime of the server in seconds.",
	},
	"stop": {
		"stop",
		"Shuts minerd down.",
	},
	"help": {
		"help (\"command\")",
		"Returns a list of all commands or help for a specified command.",
	},
}

// helpCacher provides a concurrent safe type that provides help and usage for
// the RPC server commands and caches the results for future calls.
type helpCacher struct {
	sync.Mutex
	usage      string
	methodHelp map[string]string
}

// newHelpCacher returns a new instance of a help cacher which provides help
// and usage for the RPC server commands and caches the results for future
// calls.
func newHelpCacher() *helpCacher {
	return &helpCacher{
		methodHelp: make(map[string]string),
	}
}

// rpcMethodHelp returns an RPC help string for the provided method.
//
// This function is safe for concurrent access.
func (c *helpCacher) rpcMethodHelp(method string) (string, error) {
	c.Lock()
	defer c.Unlock()

	// Return the cached method help if it exists.
	if help, exists := c.methodHelp[method]; exists {
		return help, nil
	}

	descs, ok := helpDescs[method]
	if !ok {
		return "", errors.New("no help for method: " + method)
	}
	help := descs[0] + "\n\n" + descs[1]
	c.methodHelp[method] = help
	return help, nil
}

// rpcUsage returns one-line usage for all supported RPC commands.
//
// This function is safe for concurrent access.
func (c *helpCacher) rpcUsage(includeWebsockets bool) (string, error) {
	c.Lock()
	defer c.Unlock()

	// Return the cached usage if it is available.
	if c.usage != "" {
		return c.usage, nil
	}

	// Generate a list of one-line usage for every command.
	usageTexts := make([]string, 0, len(rpcHandlers))
	for method := range rpcHandlers {
		descs, ok := helpDescs[method]
		if !ok {
			return "", errors.New("no usage for method: " + method)
		}
		usageTexts = append(usageTexts, descs[0])
	}

	sort.Strings(usageTexts)
	c.usage = strings.Join(usageTexts, "\n")
	return c.usage, nil
}
