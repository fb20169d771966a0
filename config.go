package main

import (
	"flag"

	"github.com/peterbourgon/ff/v3"

	"github.com/jsign/gas-profiler/analysis/profiler"
	"github.com/jsign/gas-profiler/compiler"
	"github.com/jsign/gas-profiler/etherscan"
	"github.com/jsign/gas-profiler/node"
)

type config struct {
	ListenAddr string
	Address    string
	Verbose    bool

	Node      node.Config
	Etherscan etherscan.Config
	Compiler  compiler.Config
	Profiler  profiler.Config
}

func parseArgs(args []string) (*config, error) {
	cfg := config{
		Node:      node.DefaultConfig(),
		Etherscan: etherscan.DefaultConfig(),
		Compiler:  compiler.DefaultConfig(),
		Profiler:  profiler.DefaultConfig(),
	}

	fs := flag.NewFlagSet("gas-profiler", flag.ContinueOnError)

	fs.String("config", "", "Configuration file in plain 'flag value' format.")
	fs.StringVar(&cfg.Address, "address", "", "Profile this contract once, print the report and exit.")
	fs.StringVar(&cfg.ListenAddr, "listen", "localhost:3000", "HTTP listen address.")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Enable debug logging.")

	fs.StringVar(&cfg.Node.URL, "node-url", cfg.Node.URL, "JSON-RPC endpoint with the debug namespace enabled.")
	fs.Float64Var(&cfg.Node.RequestsPerSecond, "node-rps", cfg.Node.RequestsPerSecond, "Node requests per second, 0 for unlimited.")
	fs.IntVar(&cfg.Node.Burst, "node-burst", cfg.Node.Burst, "Node request burst.")
	fs.Uint64Var(&cfg.Node.MaxRetries, "node-retries", cfg.Node.MaxRetries, "Retries for transient trace failures.")
	fs.DurationVar(&cfg.Node.RetryInterval, "node-retry-interval", cfg.Node.RetryInterval, "Wait between trace retries.")
	fs.StringVar(&cfg.Node.CacheDir, "trace-cache-dir", "", "Directory to persist traces in.")
	fs.BoolVar(&cfg.Node.CacheOnly, "cache-only", false, "Only use cached traces, never trace on the node.")
	var cacheSize uint
	fs.UintVar(&cacheSize, "trace-cache-size", uint(cfg.Node.CacheSize), "Number of traces kept in memory.")

	fs.StringVar(&cfg.Etherscan.URL, "etherscan-url", cfg.Etherscan.URL, "Etherscan API endpoint.")
	fs.StringVar(&cfg.Etherscan.APIKey, "etherscan-key", "", "Etherscan API key.")
	fs.Float64Var(&cfg.Etherscan.RequestsPerSecond, "etherscan-rps", cfg.Etherscan.RequestsPerSecond, "Etherscan requests per second, 0 for unlimited.")

	fs.StringVar(&cfg.Compiler.SolcPath, "solc", cfg.Compiler.SolcPath, "Path to the solc binary.")
	fs.DurationVar(&cfg.Compiler.Timeout, "solc-timeout", cfg.Compiler.Timeout, "Compilation timeout.")

	fs.IntVar(&cfg.Profiler.TxLimit, "tx-limit", cfg.Profiler.TxLimit, "Number of recent transactions to profile.")
	fs.IntVar(&cfg.Profiler.Workers, "workers", cfg.Profiler.Workers, "Traces fetched concurrently.")
	fs.DurationVar(&cfg.Profiler.TraceTimeout, "trace-timeout", cfg.Profiler.TraceTimeout, "Timeout for a single trace.")

	err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("GAS_PROFILER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithAllowMissingConfigFile(true),
	)
	cfg.Node.CacheSize = uint32(cacheSize)
	return &cfg, err
}
