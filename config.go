package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcutil"
	flags "github.com/jessevdk/go-flags"

	"github.com/btchs/btchs/chaincfg"
	"github.com/btchs/btchs/peer"
)

const (
	defaultLogDirname       = "logs"
	defaultLogFilename      = "btchs.log"
	defaultDebugLevel       = "info"
	defaultConnectTimeout   = peer.DefaultConnectTimeout
	defaultHandshakeTimeout = peer.DefaultHandshakeTimeout
)

var (
	defaultHomeDir = btcutil.AppDataDir("btchs", false)
	defaultLogDir  = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// activeNetParams is the bitcoin network the handshake targets.
var activeNetParams = &chaincfg.MainNetParams

// config defines the configuration options for btchs.
//
// See loadConfig for details on the configuration load process.
type config struct {
	Address           string        `short:"a" long:"address" description:"Host:port of the bitcoin node to handshake with; the port defaults to the network's peer-to-peer port"`
	UserAgent         string        `short:"u" long:"user-agent" description:"User agent name to advertise to the node -- See BIP 14 for more information"`
	UserAgentComments []string      `long:"uacomment" description:"Comment to add to the user agent -- See BIP 14 for more information"`
	TestNet3          bool          `long:"testnet" description:"Handshake on the test network (version 3)"`
	SimNet            bool          `long:"simnet" description:"Handshake on the simulation test network"`
	ConnectTimeout    time.Duration `long:"connecttimeout" description:"Max duration for the TCP connect to complete"`
	HandshakeTimeout  time.Duration `long:"handshaketimeout" description:"Max duration for the whole version/verack exchange"`
	DebugLevel        string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	LogDir            string        `long:"logdir" description:"Directory to log output."`
	ShowVersion       bool          `short:"V" long:"version" description:"Display version information and exit"`
}

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// loadConfig initializes and parses the config using command line options.
//
// The configuration proceeds as follows:
//	1) Start with a default config with sane settings
//	2) Parse CLI options and overwrite/add any specified options
//	3) Validate the final set of options
//
// This function also initializes logging and configures it accordingly.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		ConnectTimeout:   defaultConnectTimeout,
		HandshakeTimeout: defaultHandshakeTimeout,
		DebugLevel:       defaultDebugLevel,
		LogDir:           defaultLogDir,
	}

	parser := flags.NewParser(&cfg, flags.Default)
	parser.Usage = "-a address -u useragent [OPTIONS]"
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if cfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	funcName := "loadConfig"
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)

	// The address and user agent have no usable defaults.
	if cfg.Address == "" {
		str := "%s: the --address option is required"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.UserAgent == "" {
		str := "%s: the --user-agent option is required"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Multiple networks can't be selected simultaneously.
	numNets := 0
	if cfg.TestNet3 {
		numNets++
		activeNetParams = &chaincfg.TestNet3Params
	}
	if cfg.SimNet {
		numNets++
		activeNetParams = &chaincfg.SimNetParams
	}
	if numNets > 1 {
		str := "%s: the testnet and simnet params can't be used " +
			"together -- choose one of the two"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Append the network's default port when the address doesn't carry
	// one.
	cfg.Address = normalizeAddress(cfg.Address, activeNetParams.DefaultPort)

	// Timeouts of zero or below would disable the bounds the handshake
	// relies on.
	if cfg.ConnectTimeout <= 0 || cfg.HandshakeTimeout <= 0 {
		str := "%s: timeouts must be positive -- connect %v, handshake %v"
		err := fmt.Errorf(str, funcName, cfg.ConnectTimeout,
			cfg.HandshakeTimeout)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Append the network type to the log directory so it is "namespaced"
	// per network.
	cfg.LogDir = filepath.Join(filepath.Clean(cfg.LogDir),
		activeNetParams.Name)

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}

// newPeerConfig returns the configuration for the outbound peer.
func newPeerConfig(cfg *config) *peer.Config {
	return &peer.Config{
		UserAgentName:     cfg.UserAgent,
		UserAgentVersion:  version(),
		UserAgentComments: cfg.UserAgentComments,
		ChainParams:       activeNetParams,
		Services:          0,
		ProtocolVersion:   peer.MaxProtocolVersion,
		ConnectTimeout:    cfg.ConnectTimeout,
		HandshakeTimeout:  cfg.HandshakeTimeout,
	}
}
