package main

import (
	"io/ioutil"
	"log"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/MonteCarloClub/minerd/rpcclient"
)

func main() {
	// Connect to local minerd RPC server using HTTP POST mode.
	minerdHomeDir := btcutil.AppDataDir("minerd", false)
	certs, err := ioutil.ReadFile(filepath.Join(minerdHomeDir, "rpc.cert"))
	if err != nil {
		log.Fatal(err)
	}
	connCfg := &rpcclient.ConnConfig{
		Host:         "localhost:8734",
		User:         "yourrpcuser",
		Pass:         "yourrpcpass",
		Certificates: certs,
	}
	client, err := rpcclient.New(connCfg)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Shutdown()

	// Initialize slot 0 and start a search.
	if err := client.ReadySignal(0); err != nil {
		log.Fatal(err)
	}
	mineResult, err := client.Mine("00000000000000000123", 0)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Started job %d", mineResult.JobID)

	// Poll for the result.
	for {
		result, err := client.GetMineResult(mineResult.JobID)
		if err != nil {
			log.Fatal(err)
		}
		if result.Finished {
			if result.Error != "" {
				log.Fatalf("Search failed: %s", result.Error)
			}
			log.Printf("Found proof %d", result.Proof)

			valid, err := client.ValidateProof(result.Hash,
				result.Proof, 0)
			if err != nil {
				log.Fatal(err)
			}
			log.Printf("Proof valid: %v", valid)
			return
		}
		time.Sleep(time.Second)
	}
}
