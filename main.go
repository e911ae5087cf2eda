package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/btchs/btchs/peer"
)

// failureMark prefixes the user-visible failure line, mirroring the green
// marker the event chain renders on success.
const failureMark = "\U0001f534" // red circle

var cfg *config

// btchsMain is the real main function for btchs.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is
// called.
func btchsMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	btchsLog.Infof("Version %s", version())

	// Get a channel that will be closed when a shutdown signal has been
	// triggered from an OS signal such as SIGINT (Ctrl+C).
	interrupt := interruptListener()

	btchsLog.Infof("Connecting to %s on %s", cfg.Address,
		activeNetParams.Name)
	p, err := peer.Dial(cfg.Address, newPeerConfig(cfg))
	if err != nil {
		btchsLog.Errorf("Unable to connect to %s: %v", cfg.Address, err)
		fmt.Fprintf(color.Output, "%s\n",
			color.RedString("%s %v", failureMark, err))
		return err
	}
	defer p.Disconnect()

	// Run the handshake in its own goroutine so an interrupt can cut it
	// short by closing the connection out from under it.
	done := make(chan error, 1)
	go func() {
		done <- p.Negotiate()
	}()

	select {
	case err = <-done:
	case <-interrupt:
		p.Disconnect()
		<-done
		return fmt.Errorf("handshake with %s interrupted", p.Addr())
	}
	if err != nil {
		btchsLog.Errorf("Handshake with %s failed: %v", p.Addr(), err)
		fmt.Fprintf(color.Output, "%s\n",
			color.RedString("%s %s: %v", failureMark, p.Addr(), err))
		return err
	}

	btchsLog.Infof("New valid peer %s (%s)", p, p.UserAgent())
	btchsLog.Infof("Peer %s advertises protocol version %d, services %v, "+
		"height %d", p.Addr(), p.ProtocolVersion(), p.Services(),
		p.StartingHeight())

	fmt.Fprintf(color.Output, "%s\n",
		color.GreenString(p.EventChain().String()))
	return nil
}

func main() {
	if err := btchsMain(); err != nil {
		os.Exit(1)
	}
}
