package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"kalam/audio"
	"kalam/clipboard"
	"kalam/config"
	"kalam/doctor"
	"kalam/history"
	"kalam/log"
	"kalam/metrics"
	"kalam/pipeline"
	"kalam/shutdown"
	"kalam/transcriber"
	"kalam/transcriber/whisper"
)

var version = "dev"

type options struct {
	configPath string
	model      string
	lang       string
	device     string
	setup      bool
	backend    string
	clipboard  bool
	appendClip bool
	archive    string
	metrics    string
	logPath    string
	file       string
	test       string
	doctor     bool
	version    bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, map[string]bool, error) {
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "YAML config file (default $"+config.EnvPath+" or the user config dir)")
	fs.StringVar(&o.model, "model", "", "Model id: tiny, base, small, medium or large")
	fs.StringVar(&o.lang, "lang", "", `Language code (e.g. en, de). "auto" detects`)
	fs.StringVar(&o.device, "device", "", "Use named microphone device")
	fs.BoolVar(&o.setup, "setup", false, "Select microphone device interactively")
	fs.StringVar(&o.backend, "backend", "", "Inference backend: whisper or exec")
	fs.BoolVar(&o.clipboard, "clipboard", true, "Copy each transcription to the clipboard")
	fs.BoolVar(&o.appendClip, "append", false, "Append each transcription to the clipboard instead of replacing it")
	fs.StringVar(&o.archive, "archive", "", "Directory to keep recordings in")
	fs.StringVar(&o.metrics, "metrics", "", "Serve /metrics and pprof on this address (e.g. localhost:9464)")
	fs.StringVar(&o.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.StringVar(&o.file, "file", "", "Transcribe a 16 kHz mono WAV file and exit")
	fs.StringVar(&o.test, "test", "", "Test mode: replay this WAV file as the microphone, driven by stdin")
	fs.BoolVar(&o.doctor, "doctor", false, "Run system diagnostics and exit")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return o, set, nil
}

// applyFlags overrides file settings with flags given on the command line.
func applyFlags(cfg *config.Config, o *options, set map[string]bool) {
	if set["model"] {
		cfg.Model.ID = o.model
	}
	if set["lang"] {
		cfg.Language = o.lang
	}
	if set["device"] {
		cfg.Capture.Device = o.device
	}
	if set["backend"] {
		cfg.Model.Backend = o.backend
	}
	if set["clipboard"] {
		cfg.Output.Clipboard = o.clipboard
	}
	if set["append"] {
		cfg.Output.ClipboardAppend = o.appendClip
	}
	if set["archive"] {
		cfg.Output.ArchiveDir = o.archive
	}
	if set["metrics"] {
		cfg.Metrics.Addr = o.metrics
	}
}

func newBackend(cfg *config.Config) (transcriber.Backend, error) {
	switch cfg.Model.Backend {
	case "exec":
		return transcriber.NewExecBackend(cfg.Model.Command)
	case "whisper":
		if !whisper.Available {
			log.Warn("built without whisper.cpp; model loads will fail")
		}
		return whisper.New(), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Model.Backend)
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "history" {
		os.Exit(runHistory(os.Args[2:]))
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, set, err := parseFlags(flag.NewFlagSet("kalam", flag.ContinueOnError), args)
	if err != nil {
		return 2
	}
	if opts.version {
		fmt.Printf("kalam %s\n", version)
		return 0
	}

	logPath, err := log.ResolveDir(opts.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	cfgPath := config.ResolvePath(opts.configPath)
	cfg, err := config.Load(cfgPath, set["config"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	applyFlags(cfg, opts, set)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid settings:\n%v\n", err)
		return 1
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	shutdownMetrics, err := metrics.InitProvider(ctx, version)
	if err != nil {
		log.Warnf("metrics init: %v", err)
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			shutdownMetrics(sctx)
		}()
	}
	met := metrics.Default()
	if cfg.Metrics.Addr != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "metrics listening on http://%s/metrics\n", cfg.Metrics.Addr)
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	backend, err := newBackend(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	session := transcriber.NewSession(backend, transcriber.WithMetrics(met))
	defer session.Close()
	catalog := transcriber.NewCatalog(cfg.Model.Dir)

	log.SessionStart(backend.Name(), cfg.Model.ID, cfg.Language)

	var actx audio.Context
	if opts.test != "" {
		fc, err := audio.NewFakeContextFromWAV(opts.test, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
			return 1
		}
		actx = fc
	} else if opts.file == "" {
		actx, err = audio.NewContext()
		if err != nil {
			log.Errorf("audio context init error: %v", err)
			fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
			return 1
		}
		defer actx.Close()
	}

	var device *audio.DeviceInfo
	if actx != nil {
		if opts.setup && cfg.Capture.Device == "" {
			device, err = audio.SelectDevice(actx)
		} else {
			device, err = audio.FindDevice(actx, cfg.Capture.Device)
		}
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: %v; falling back to default device\n", err)
			device = nil
		}
	}

	if opts.doctor {
		var board clipboard.Board
		if cfg.Output.Clipboard {
			board = clipboard.System()
		}
		return doctor.Run(ctx, doctor.Checks{
			Audio:     actx,
			Device:    device,
			Models:    catalog,
			Session:   session,
			ModelID:   cfg.Model.ID,
			Language:  cfg.Language,
			Clipboard: board,
			Record:    3 * time.Second,
			Out:       os.Stdout,
			In:        os.Stdin,
		})
	}

	pcfg := pipeline.Config{
		Transcriber: session,
		Models:      catalog,
		Metrics:     met,
		Model:       cfg.Model.ID,
		Language:    cfg.Language,
	}
	if actx != nil {
		pcfg.Recorder = audio.NewEngine(actx, audio.WithDevice(device))
	}
	var store *history.Store
	if cfg.Output.History != "" {
		store, err = history.Open(ctx, cfg.Output.History)
		if err != nil {
			log.Warnf("history disabled: %v", err)
			store = nil
		} else {
			defer store.Close()
			pcfg.History = store
		}
	}
	if cfg.Output.Clipboard && opts.test == "" {
		if clipboard.Supported() {
			d := clipboard.New()
			d.Append = cfg.Output.ClipboardAppend
			pcfg.Deliver = d
		} else {
			log.Warn("no clipboard tool found; clipboard output disabled")
		}
	}
	if cfg.Output.ArchiveDir != "" {
		arch, err := audio.NewArchiver(cfg.Output.ArchiveDir, cfg.Output.ArchiveFormat)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		pcfg.Archive = arch
	}

	term := newTerminalSink(os.Stdout)
	pcfg.Sink = term
	p := pipeline.New(pcfg)

	if opts.file != "" {
		res, err := p.TranscribeFile(ctx, opts.file)
		log.SessionEnd(p.Count())
		if err != nil {
			return 1
		}
		fmt.Println(res.Text)
		return 0
	}

	if opts.test != "" {
		code := runTestMode(ctx, p, actx.(*audio.FakeContext), os.Stdin)
		log.SessionEnd(p.Count())
		return code
	}

	fmt.Printf("kalam %s | %s backend | model %s | mic: %s\n", version, backend.Name(), cfg.Model.ID, deviceName(device))
	if !catalog.Installed(cfg.Model.ID) {
		path, _ := catalog.Path(cfg.Model.ID)
		fmt.Printf("Model %q is not installed; expected %s\n", cfg.Model.ID, path)
	} else {
		go p.Preload(ctx)
	}

	err = runInteractive(ctx, p, store, os.Stdin, os.Stdout)
	log.SessionEnd(p.Count())
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("session: %v", err)
		return 1
	}
	return 0
}

func deviceName(dev *audio.DeviceInfo) string {
	if dev == nil {
		return "system default"
	}
	if audio.IsBluetooth(dev.Name) {
		return dev.Name + " (BT!)"
	}
	return dev.Name
}
