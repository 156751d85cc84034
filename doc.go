// Package entrypoint runs the startup sequence of a Go program around a
// plain application function: environment files, configuration, logging,
// then the function itself, with every failure turned into one diagnostic
// and one exit code.
//
// # Pipeline
//
// A Pipeline moves through a fixed set of states:
//
//	Start -> EnvLoaded -> ConfigResolved -> LoggingReady -> UserCodeRunning -> {Completed, Failed}
//
// Each transition is performed by one stage with its own contract and
// default implementation:
//  1. EnvLoader (default DotEnv): merges .env style or flat YAML files with the process environment
//  2. Resolver (default Flags): parses arguments with flash-flags, falling back to the environment
//  3. LogInitializer (default DefaultLogging): derives LogSettings and installs logrus or slog once
//  4. the application function, called exactly once with the resolved configuration
//
// Any stage can be replaced without touching the others:
//
//	type Config struct {
//		Port    int
//		Verbose bool
//	}
//
//	func (c Config) LogLevel() entrypoint.Level {
//		if c.Verbose {
//			return entrypoint.LevelDebug
//		}
//		return entrypoint.LevelInfo
//	}
//
//	func main() {
//		entrypoint.New("svc", run).
//			WithEnv(entrypoint.DotEnv{Files: []string{"config/local.env"}, Policy: entrypoint.FileWins}).
//			WithResolver(entrypoint.Flags[Config]{
//				Name:   "svc",
//				Prefix: "SVC",
//				Bind: func(b *entrypoint.Binder, cfg *Config) {
//					b.Int(&cfg.Port, "port", 8080, "listen port").
//						Bool(&cfg.Verbose, "verbose", false, "debug logging")
//				},
//			}).
//			Main()
//	}
//
// # Environment precedence
//
// Files merge left to right. The result is combined with the process
// environment under an explicit OverridePolicy: ProcessWins (the default)
// keeps values the process already has, FileWins lets files replace them.
// The process environment is written at most once per process.
//
// For a bound flag the value comes from the command line, then from the
// environment key derived from the flag name, then from the declared default.
//
// # Diagnostics and exit codes
//
// A failure before logging is ready is written as a single line to the
// fallback writer (stderr by default). Later failures are logged once at
// error level through the installed sink with stage and run_id fields.
//
//	0  success, or --help
//	1  application error or panic
//	2  invalid arguments
//	3  environment load failure
//	4  logging installation failure
//
// # Observers
//
// Observers receive a StageEvent after every stage. AuditObserver stores
// them in SQLite or JSONL for later inspection with the entrypoint CLI;
// MetricsObserver exports Prometheus histograms and counters.
//
// Repository: https://github.com/agilira/entrypoint
package entrypoint
