// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package app

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"decred.org/mmswap/client/ordermatch"
	"decred.org/mmswap/client/rpcserver"
	"decred.org/mmswap/dex"
	"decred.org/mmswap/dex/version"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/jessevdk/go-flags"
)

// Version is the application version.
const Version = "0.1.0-pre"

const (
	defaultRPCHost  = "127.0.0.1"
	defaultRPCPort  = "7783"
	defaultLogLevel = "debug"
	configFilename  = "mmswapd.conf"
	logFilename     = "mmswapd.log"
	nodeKeyFilename = "node.key"
)

var (
	defaultApplicationDirectory = dcrutil.AppDataDir("mmswapd", false)
	defaultConfigPath           = filepath.Join(defaultApplicationDirectory, configFilename)
)

// RPCConfig encapsulates the configuration needed for the RPC server.
type RPCConfig struct {
	RPCAddr string `long:"rpcaddr" description:"RPC server listen address"`
	RPCUser string `long:"rpcuser" description:"RPC server user name"`
	RPCPass string `long:"rpcpass" description:"RPC server password. Basic auth is disabled if rpcuser and rpcpass are both empty."`
}

// RPC creates a rpc server configuration.
func (cfg *RPCConfig) RPC(c *ordermatch.Engine, log dex.Logger) *rpcserver.Config {
	return &rpcserver.Config{
		Core:       c,
		Addr:       cfg.RPCAddr,
		User:       cfg.RPCUser,
		Pass:       cfg.RPCPass,
		AppVersion: version.Parse(Version),
		Logger:     log,
	}
}

// CoreConfig encapsulates the settings of the order-matching engine and its
// mesh node.
type CoreConfig struct {
	DBDir   string `long:"dbdir" description:"Directory of the order files and the swap log. Created if it does not exist."`
	NodeKey string `long:"nodekey" description:"File with the hex-encoded secp256k1 key of the node. Generated on first start."`
	NoRelay bool   `long:"norelay" description:"Do not answer orderbook requests from other nodes."`
}

// LogConfig encapsulates the logging-related settings.
type LogConfig struct {
	LogPath    string `long:"logpath" description:"A file to save app logs"`
	DebugLevel string `long:"log" description:"Logging level {trace, debug, info, warn, error, critical}"`
	LocalLogs  bool   `long:"loglocal" description:"Use local time zone time stamps in log entries."`
	NoStdout   bool   `long:"nostdout" description:"Only log to the log file."`
}

// Config is the application configuration definition. It captures the
// configuration needed for the engine, the wallets and the rpc server, as
// well as some application-level directives.
type Config struct {
	CoreConfig
	RPCConfig
	LogConfig
	XTZConfig
	// AppData and ConfigPath should be parsed from the command-line,
	// as it makes no sense to set these in the config file itself. If no values
	// are assigned, defaults will be used.
	AppData    string `long:"appdata" description:"Path to application directory."`
	ConfigPath string `long:"config" description:"Path to an INI configuration file."`
	ShowVer    bool   `short:"V" long:"version" description:"Display version information and exit"`
}

// DefaultConfig is the starting point of command line parsing.
var DefaultConfig = Config{
	AppData:    defaultApplicationDirectory,
	ConfigPath: defaultConfigPath,
	LogConfig:  LogConfig{DebugLevel: defaultLogLevel},
}

// ParseCLIConfig parses the command-line arguments into the provided struct
// with go-flags tags. If the --help flag has been passed, the struct is
// described back to the terminal and the program exits using os.Exit.
func ParseCLIConfig(cfg any) error {
	preParser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash)
	_, flagerr := preParser.Parse()

	if flagerr != nil {
		var e *flags.Error
		ok := errors.As(flagerr, &e)
		if !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		if ok && e.Type == flags.ErrHelp {
			preParser.WriteHelp(os.Stdout)
			os.Exit(0)
		}
		return flagerr
	}
	return nil
}

// ResolveCLIConfigPaths resolves the app data directory path and the
// configuration file path from the CLI config, (presumably parsed with
// ParseCLIConfig).
func ResolveCLIConfigPaths(cfg *Config) (appData, configPath string) {
	// If the app directory has been changed, replace shortcut chars such
	// as "~" with the full path.
	if cfg.AppData != defaultApplicationDirectory {
		cfg.AppData = dex.CleanAndExpandPath(cfg.AppData)
		// If the app directory has been changed, but the config file path hasn't,
		// reform the config file path with the new directory.
		if cfg.ConfigPath == defaultConfigPath {
			cfg.ConfigPath = filepath.Join(cfg.AppData, configFilename)
		}
	}
	cfg.ConfigPath = dex.CleanAndExpandPath(cfg.ConfigPath)
	return cfg.AppData, cfg.ConfigPath
}

// ParseFileConfig parses the INI file into the provided struct with go-flags
// tags. The CLI args are then parsed, and take precedence over the file values.
func ParseFileConfig(path string, cfg any) error {
	return parseFileConfig(path, cfg, os.Args[1:])
}

func parseFileConfig(path string, cfg any, args []string) error {
	parser := flags.NewParser(cfg, flags.Default)
	err := flags.NewIniParser(parser).ParseFile(path)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return err
		}
		// Missing file is not an error.
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return err
	}
	return nil
}

// ResolveConfig sets derivative fields of the Config struct using the specified
// app data directory (presumably returned from ResolveCLIConfigPaths). Some
// unset values are given defaults.
func ResolveConfig(appData string, cfg *Config) error {
	if _, err := version.ParseSemVer(Version); err != nil {
		return fmt.Errorf("bad version: %w", err)
	}
	cfg.AppData = appData
	if err := os.MkdirAll(appData, 0700); err != nil {
		return fmt.Errorf("failed to create app data directory: %w", err)
	}

	if cfg.RPCAddr == "" {
		cfg.RPCAddr = net.JoinHostPort(defaultRPCHost, defaultRPCPort)
	}
	if _, port, err := net.SplitHostPort(cfg.RPCAddr); err != nil {
		return fmt.Errorf("invalid rpcaddr %q: %w", cfg.RPCAddr, err)
	} else if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("invalid rpcaddr port %q", port)
	}
	if cfg.RPCUser != "" && cfg.RPCPass == "" {
		return errors.New("rpcuser requires rpcpass")
	}

	if cfg.DBDir == "" {
		cfg.DBDir = filepath.Join(appData, "db")
	}
	cfg.DBDir = dex.CleanAndExpandPath(cfg.DBDir)
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join(appData, "logs", logFilename)
	}
	cfg.LogPath = dex.CleanAndExpandPath(cfg.LogPath)
	if cfg.NodeKey == "" {
		cfg.NodeKey = filepath.Join(appData, nodeKeyFilename)
	}
	cfg.NodeKey = dex.CleanAndExpandPath(cfg.NodeKey)

	return cfg.XTZConfig.resolve()
}
