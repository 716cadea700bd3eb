package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"dancepartner/internal/behavior"
	"dancepartner/internal/memory"
	"dancepartner/internal/pose"
)

const version = "0.3.0"

func printUsage() {
	fmt.Printf("partnerd v%s\n", version)
	fmt.Println("Improvising dance partner: mirrors, recalls and improvises on live motion capture.")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  partnerd -config partnerd.yaml [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Flags override values from the config file.")
}

func main() {
	var (
		configPath  = flag.String("config", "", "Path to the YAML config file")
		showVersion = flag.Bool("version", false, "Print version and exit")

		frameRate = flag.Int("frame-rate", 0, "Engine frame rate in Hz")
		strategy  = flag.String("strategy", "", "Master strategy: switching|blend")
		ioBlend   = flag.Float64("io-blending-amount", 0, "Live input vs behavior mix (0 = input only)")
		memorize  = flag.Bool("memorize", false, "Record live input into memory")
		modelPath = flag.String("model", "", "Path to the linear model YAML file")
		mocapAddr = flag.String("mocap-address", "", "Mocap broadcaster host:port")
		httpPort  = flag.Int("http-port", 0, "HTTP/websocket listener port")
		ipcSocket = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		storePath = flag.String("store", "", "SQLite recordings database path")
		logLevel  = flag.String("log-level", "", "Log level: error, warn, info, debug")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("partnerd v%s\n", version)
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = LoadConfigFile(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}

	// Only flags given on the command line override the file.
	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "frame-rate":
			o.FrameRate = frameRate
		case "strategy":
			o.Strategy = strategy
		case "io-blending-amount":
			o.IOBlendingAmount = ioBlend
		case "memorize":
			o.Memorize = memorize
		case "model":
			o.ModelPath = modelPath
		case "mocap-address":
			o.MocapAddress = mocapAddr
		case "http-port":
			o.HTTPPort = httpPort
		case "ipc-socket":
			o.IPCSocketPath = ipcSocket
		case "store":
			o.StorePath = storePath
		case "log-level":
			o.LogLevel = logLevel
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid config:", err)
		os.Exit(1)
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(os.Stdout, level, cfg.Logging.Format)

	if err := run(cfg, logger); err != nil {
		logger.Error("partnerd stopped", "error", err)
		os.Exit(1)
	}
}

// run builds the engine and runs every daemon goroutine until a signal
// arrives or one of them fails.
func run(cfg Config, logger *slog.Logger) error {
	model, err := pose.LoadLinearModel(ExpandPath(cfg.Model.Path), cfg.Model.MaxManifoldPoints)
	if err != nil {
		return err
	}

	var store *memory.Store
	if cfg.Store.Path != "" {
		if store, err = memory.OpenStore(ExpandPath(cfg.Store.Path)); err != nil {
			return err
		}
		defer store.Close()
	}

	state, err := newDaemonState(cfg, model, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events := make(chan Event, 64)
	broadcasts := make(chan StateBroadcast, 256)
	input := &InputSlot{}

	wsServer := NewServer(logger, events, ServerConfig{})

	var catalog RecordingCatalog
	var recordings RecordingStore
	var storeCmds chan Command
	if store != nil {
		catalog, recordings = store, store
		storeCmds = make(chan Command, 4)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runDaemon(gctx, state, daemonDeps{
			events:     events,
			input:      input,
			storeCmds:  storeCmds,
			broadcasts: broadcasts,
		}, cfg.Engine.FrameRate, logger)
	})
	if storeCmds != nil {
		g.Go(func() error {
			runStoreWorker(gctx, recordings, storeCmds, events, logger)
			return nil
		})
	}
	g.Go(func() error {
		wsServer.Hub().Run(gctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(gctx, wsServer.Hub(), broadcasts, logger)
		return nil
	})
	g.Go(func() error {
		mux := newHTTPMux(wsServer, cfg.HTTP.WsPath, wsServer.Hub(), catalog, logger)
		return runHTTPServer(gctx, cfg.HTTP.Port, mux, logger)
	})
	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger)
	})
	if cfg.Mocap.Address != "" {
		rcv := &mocapReceiver{
			address:           cfg.Mocap.Address,
			reconnectInterval: cfg.ReconnectInterval(),
			translationOffset: cfg.Mocap.TranslationOffset,
			readBufferBytes:   cfg.Mocap.ReadBufferBytes,
			frameLen:          model.NumInputDimensions(),
			slot:              input,
			logger:            logger,
		}
		g.Go(func() error { return rcv.run(gctx) })
	} else {
		logger.Warn("mocap.address is empty; running without live input")
	}

	logger.Info("partnerd started",
		"version", version,
		"frame_rate", cfg.Engine.FrameRate,
		"strategy", cfg.Engine.Strategy,
		"pose_len", model.NumInputDimensions(),
		"latent_dims", model.NumReducedDimensions(),
		"manifold", len(model.Manifold()),
		"mocap", cfg.Mocap.Address,
		"http_port", cfg.HTTP.Port,
		"ipc", cfg.IPC.SocketPath,
		"store", cfg.Store.Path)

	// The daemon returns nil on shutdown; cancel the rest when it does.
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

// newDaemonState wires the engine components from cfg.
func newDaemonState(cfg Config, model *pose.LinearModel, logger *slog.Logger) (*DaemonState, error) {
	seed := cfg.Engine.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	clock := cfg.FrameClock()

	entity := pose.NewLinearEntity(cfg.ToEntityConfig())
	mem := memory.New(cfg.Recall.MaxFrames, rng, logger)

	params, navCfg := cfg.ToImprovise()
	improvise := behavior.NewImprovise(model, params, navCfg, rng, logger)
	recall := behavior.NewRecallBehavior(cfg.ToRecallConfig(), mem, entity, clock, rng, logger)
	switching := behavior.NewSwitchingBehavior(cfg.ToSwitchingConfig(), mem, improvise, entity, clock, rng, logger)

	master, err := behavior.NewMaster(cfg.ToMasterConfig(), behavior.Components{
		Entity:    entity,
		Memory:    mem,
		Improvise: improvise,
		Recall:    recall,
		Switching: switching,
	}, logger)
	if err != nil {
		return nil, err
	}

	state := &DaemonState{
		Master:            master,
		FrameLen:          model.NumInputDimensions(),
		MemoryReportEvery: cfg.Engine.FrameRate,
	}
	if cfg.Model.ObserveInput {
		state.Observer = model
	}
	return state, nil
}
