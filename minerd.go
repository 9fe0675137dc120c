package main

import (
	"os"
	"runtime"

	"github.com/MonteCarloClub/minerd/log"
)

// cfg is the loaded configuration shared by the main package.  It is set
// once by minerdMain before any subsystem starts.
var cfg *config

// minerdMain is the real main function for minerd.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is
// called.  The optional serverChan parameter is mainly used by the service
// code to be notified with the server once it is setup so it can gracefully
// stop it when requested from the service control manager.
func minerdMain(serverChan chan<- *server) error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if log.LogRotator != nil {
			log.LogRotator.Close()
		}
	}()

	// Get a channel that will be closed when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from
	// another subsystem such as the RPC server.
	interrupt := interruptListener()
	defer log.MnrdLog.Info("Shutdown complete")

	// Show version at startup.
	log.MnrdLog.Infof("Version %s", version())

	// Return now if an interrupt signal was triggered during configuration
	// load.
	if interruptRequested(interrupt) {
		return nil
	}

	// Create server and start it.
	server, err := newServer()
	if err != nil {
		log.MnrdLog.Errorf("Unable to start server: %v", err)
		return err
	}
	defer func() {
		log.MnrdLog.Infof("Gracefully shutting down the server...")
		server.Stop()
		server.WaitForShutdown()
		log.SrvrLog.Infof("Server shutdown complete")
	}()
	server.Start()
	if serverChan != nil {
		serverChan <- server
	}

	// Wait until the interrupt signal is received from an OS signal or
	// shutdown is requested through one of the subsystems such as the RPC
	// server.
	<-interrupt
	return nil
}

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit()
	if err := minerdMain(nil); err != nil {
		os.Exit(1)
	}
}
