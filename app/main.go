package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/steadystate/app/bridge"
	"github.com/umputun/steadystate/app/persist"
	"github.com/umputun/steadystate/app/steady"
)

var opts struct {
	Preset string `short:"p" long:"preset" env:"STEADY_PRESET" description:"yaml file with default values"`
	Schema string `long:"schema" description:"write snapshot json schema to file and exit"`
	Dbg    bool   `long:"dbg" env:"STEADY_DEBUG" description:"debug mode"`

	Store struct {
		Type     string `long:"type" env:"TYPE" choice:"file" choice:"kv" choice:"memory" default:"file" description:"storage backend"`
		Location string `long:"location" env:"LOCATION" default:"./var" description:"cache directory for file and kv storage"`
		Key      string `long:"key" env:"KEY" default:"steadyStateData" description:"storage key, file name stem for file storage"`
	} `group:"store" namespace:"store" env-namespace:"STEADY_STORE"`

	Persist struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"1" description:"write attempts"`
		Delay    time.Duration `long:"delay" env:"DELAY" default:"50ms" description:"initial delay between write attempts"`
		Async    int           `long:"async" env:"ASYNC" default:"0" description:"concurrent background writers, 0 to write synchronously"`
	} `group:"persist" namespace:"persist" env-namespace:"STEADY_PERSIST"`

	Web struct {
		Address      string  `long:"address" env:"ADDRESS" default:"127.0.0.1:8787" description:"bridge listen address"`
		PasswordHash string  `long:"password-hash" env:"PASSWORD_HASH" description:"bcrypt hash for basic auth"`
		Limit        float64 `long:"limit" env:"LIMIT" default:"20" description:"max mutating requests per second"`
	} `group:"web" namespace:"web" env-namespace:"STEADY_WEB"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"filename" env:"FILENAME" default:"steadystate.log" description:"file to write logs to"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max size in megabytes before rotation"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of old log files to retain"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max days to retain old log files, 0 to keep"`
		EnabledCompress bool   `long:"enabled-compress" env:"ENABLED_COMPRESS" description:"compress rotated log files"`
	} `group:"log" namespace:"log" env-namespace:"STEADY_LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("steadystate %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	out := setupLogs()
	if closer, ok := out.(io.Closer); ok && out != os.Stdout {
		defer closer.Close()
	}

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	if opts.Schema != "" {
		if err := steady.WriteSchema(opts.Schema); err != nil {
			log.Fatalf("[ERROR] %v", err)
		}
		log.Printf("[INFO] schema written to %s", opts.Schema)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT, SIGINT and SIGTERM

	if err := run(ctx); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
}

// run loads state, binds persistence and serves bridge until ctx canceled
func run(ctx context.Context) error {
	defaults, err := steady.LoadPreset(opts.Preset)
	if err != nil {
		log.Printf("[WARN] preset ignored, %v", err)
	}

	backend, closeBackend, err := makeBackend()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			log.Printf("[WARN] failed to close %s, %v", backend, err)
		}
	}()

	adapter := persist.New(backend, persist.Params{
		Defaults: defaults,
		Attempts: opts.Persist.Attempts,
		Delay:    opts.Persist.Delay,
		Async:    opts.Persist.Async,
	})

	initial, err := adapter.Load(ctx)
	if err != nil {
		log.Printf("[WARN] persisted state ignored, using defaults, %v", err)
	}

	state := steady.NewState(initial, steady.WithClearer(adapter), steady.WithDefaults(defaults))
	// saves must survive shutdown of the serving context
	unsubscribe := adapter.Bind(context.WithoutCancel(ctx), state.Store())
	defer adapter.Flush()
	defer unsubscribe()

	srv, err := bridge.New(bridge.Config{
		State:         state,
		Version:       revision,
		PasswordHash:  opts.Web.PasswordHash,
		MutationLimit: opts.Web.Limit,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx, opts.Web.Address)
}

// makeBackend creates storage backend from options, returns close func for it
func makeBackend() (persist.Backend, func() error, error) {
	noop := func() error { return nil }
	switch opts.Store.Type {
	case "kv":
		if err := os.MkdirAll(opts.Store.Location, 0o700); err != nil {
			return nil, nil, fmt.Errorf("can't make %s: %w", opts.Store.Location, err)
		}
		kv, err := persist.NewKV(filepath.Join(opts.Store.Location, "steadystate.db"), opts.Store.Key)
		if err != nil {
			return nil, nil, fmt.Errorf("can't open kv storage: %w", err)
		}
		return kv, kv.Close, nil
	case "memory":
		return persist.NewMemory(), noop, nil
	default:
		f, err := persist.NewFile(opts.Store.Location, opts.Store.Key+".json")
		if err != nil {
			return nil, nil, fmt.Errorf("can't make file storage: %w", err)
		}
		return f, noop, nil
	}
}

// setupLogs configures lgr and returns the log destination, rotated file or stdout
func setupLogs() io.Writer {
	var out io.Writer = os.Stdout
	if opts.Log.Enabled {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	if opts.Dbg {
		log.Setup(log.Out(out), log.Err(out), log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile)
		return out
	}
	log.Setup(log.Out(out), log.Err(out), log.Msec)
	return out
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] %v received, shutting down", sig)
			cancel() // terminate on SIGINT and SIGTERM
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
}
