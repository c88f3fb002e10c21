// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	flags "github.com/jessevdk/go-flags"
	"github.com/xcswap/xcswap/swap"
)

const (
	defaultConfigFilename = "xcswapd.conf"
	defaultLogFilename    = "xcswapd.log"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogLevel       = "info"
	defaultDBFilename     = "swaps.db"
	defaultMaxLogZips     = 16

	defaultTolerance    = 30 * time.Second
	defaultRescueDelay  = 7 * 24 * time.Hour
	defaultRetryFastest = 5 * time.Second
	defaultRetrySlowest = 2 * time.Minute
)

func defaultAppDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".xcswapd")
}

// daemonConf is the data required to set up the resolver daemon.
type daemonConf struct {
	DataDir      string
	DBPath       string
	Resolver     common.Address
	Tolerance    time.Duration
	RescueDelay  time.Duration
	RetryFastest time.Duration
	RetrySlowest time.Duration
	Creators     []common.Address
}

type flagsData struct {
	// General application behavior
	AppDataDir  string `short:"A" long:"appdata" description:"Path to application home directory"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	MaxLogZips  int    `long:"maxlogzips" description:"The number of zipped log files created by the log rotator to be retained. Setting to 0 will keep all."`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`

	Resolver     string        `long:"resolver" description:"The resolver's own address: source-leg taker and destination-leg depositor."`
	Tolerance    time.Duration `long:"tolerance" description:"Allowed cross-chain drift when checking a destination cancellation against the observed source cancellation."`
	RescueDelay  time.Duration `long:"rescuedelay" description:"Delay from escrow deployment until stranded funds may be rescued."`
	RetryFastest time.Duration `long:"retryfastest" description:"Initial interval between retries of stage-gated calls."`
	RetrySlowest time.Duration `long:"retryslowest" description:"Fully tapered interval between retries of stage-gated calls."`
	Creators     []string      `long:"creator" description:"Address allowed to create destination escrows. May be repeated. Creation is open when unset."`
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly. An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	lm, err := swap.NewLoggerMaker(logWriter{}, debugLevel)
	if err != nil {
		return err
	}
	setLogLevels(lm, lm.DefaultLevel)
	for subsysID, lvl := range lm.Levels {
		if _, exists := subsystemLoggers[subsysID]; !exists {
			return fmt.Errorf("the specified subsystem [%v] is invalid -- "+
				"supported subsystems %v", subsysID, supportedSubsystems())
		}
		setLogLevel(lm, subsysID, lvl)
	}
	return nil
}

// parseAddress decodes a hex address, rejecting malformed input rather than
// zero-filling it.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// loadConfig initializes and parses the config using a config file and
// command line options.
func loadConfig() (*daemonConf, error) {
	// Default config
	cfg := flagsData{
		AppDataDir:   defaultAppDataDir(),
		MaxLogZips:   defaultMaxLogZips,
		DebugLevel:   defaultLogLevel,
		Tolerance:    defaultTolerance,
		RescueDelay:  defaultRescueDelay,
		RetryFastest: defaultRetryFastest,
		RetrySlowest: defaultRetrySlowest,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified. Any errors aside from the help
	// message error can be ignored here since they will be caught by the
	// final parse below.
	var preCfg flagsData
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		} else if ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n",
			appName, Version(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// Special show command to list supported subsystems and exit.
	if preCfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	if preCfg.AppDataDir != "" {
		cfg.AppDataDir, err = filepath.Abs(preCfg.AppDataDir)
		if err != nil {
			return nil, fmt.Errorf("unable to determine working directory: %w", err)
		}
	}
	isDefaultConfigFile := preCfg.ConfigFile == ""
	if isDefaultConfigFile {
		preCfg.ConfigFile = filepath.Join(cfg.AppDataDir, defaultConfigFilename)
	} else if !filepath.IsAbs(preCfg.ConfigFile) {
		preCfg.ConfigFile = filepath.Join(cfg.AppDataDir, preCfg.ConfigFile)
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := os.Stat(preCfg.ConfigFile); os.IsNotExist(err) {
		// Non-default config file must exist.
		if !isDefaultConfigFile {
			return nil, err
		}
		// Missing default config file is fine, run on defaults.
	} else {
		err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
		if err != nil {
			if _, ok := err.(*os.PathError); !ok {
				fmt.Fprintln(os.Stderr, err)
				parser.WriteHelp(os.Stderr)
			}
			return nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, err
	}

	// Create the app data directory if it doesn't already exist.
	if err = os.MkdirAll(cfg.AppDataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}

	// If datadir or logdir are defaults or non-default relative paths,
	// prepend the appdata directory.
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.AppDataDir, defaultDataDirname)
	} else if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(cfg.AppDataDir, cfg.DataDir)
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.AppDataDir, defaultLogDirname)
	} else if !filepath.IsAbs(cfg.LogDir) {
		cfg.LogDir = filepath.Join(cfg.AppDataDir, cfg.LogDir)
	}
	if err = os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}

	// Initialize log rotation. After log rotation has been initialized, the
	// logger variables may be used. This creates the LogDir if needed.
	if cfg.MaxLogZips < 0 {
		cfg.MaxLogZips = 0
	}
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename), cfg.MaxLogZips)

	// Parse, validate, and set debug log level(s).
	if err = parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, err
	}

	log.Infof("App data folder: %s", cfg.AppDataDir)
	log.Infof("Log folder:      %s", cfg.LogDir)

	if strings.TrimSpace(cfg.Resolver) == "" {
		return nil, fmt.Errorf("no resolver address configured")
	}
	resolver, err := parseAddress(cfg.Resolver)
	if err != nil {
		return nil, err
	}
	creators := make([]common.Address, 0, len(cfg.Creators))
	for _, s := range cfg.Creators {
		addr, err := parseAddress(s)
		if err != nil {
			return nil, err
		}
		creators = append(creators, addr)
	}

	return &daemonConf{
		DataDir:      cfg.DataDir,
		DBPath:       filepath.Join(cfg.DataDir, defaultDBFilename),
		Resolver:     resolver,
		Tolerance:    cfg.Tolerance,
		RescueDelay:  cfg.RescueDelay,
		RetryFastest: cfg.RetryFastest,
		RetrySlowest: cfg.RetrySlowest,
		Creators:     creators,
	}, nil
}
