package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "log/slog"

	cli "github.com/spf13/pflag"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"rover/internal/brain"
	"rover/internal/config"
	"rover/internal/hub"
	"rover/internal/ipc"
	"rover/internal/llm"
	"rover/internal/logging"
	"rover/internal/planner"
	"rover/internal/proxy"
	"rover/internal/robot"
	"rover/internal/tts"
	"rover/internal/vision"
	"rover/pkg/protocol"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	cfgFile := cli.StringP("config", "c", "", "YAML config file")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	logFile := cli.String("log-file", "", "Also write logs to this file")
	port := cli.StringP("port", "p", "", "Serial device of the motor controller")
	autonomous := cli.BoolP("autonomous", "a", false, "Start in autonomous navigation")
	busURL := cli.StringP("bus", "b", "", "Url of the status hub")
	cli.Parse()

	cfg, err := config.Load(*cfgFile, *envFile)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	if cli.CommandLine.Changed("log") {
		cfg.Log.Level = *logLevel
	}
	if cli.CommandLine.Changed("log-file") {
		cfg.Log.File = *logFile
	}
	if cli.CommandLine.Changed("port") {
		cfg.Serial.Port = *port
	}
	if cli.CommandLine.Changed("autonomous") {
		cfg.Autonomous = *autonomous
	}
	if cli.CommandLine.Changed("bus") {
		cfg.BusURL = *busURL
	}

	logs, err := logging.Setup(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		log.Error("Failed to set up logging", "err", err)
		os.Exit(1)
	}
	defer logs.Close()

	log.Info("Booting up")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("Rover stopped", "err", err)
		logs.Close()
		os.Exit(1)
	}
	log.Info("Shut down cleanly")
}

func run(ctx context.Context, cfg *config.Config) error {
	signals, err := ipc.NewFileBus(cfg.IPC.Dir)
	if err != nil {
		return err
	}
	if err := signals.ClearAll(); err != nil {
		log.Warn("Failed to clear stale signals", "err", err)
	}
	defer func() {
		if err := signals.ClearAll(); err != nil {
			log.Warn("Failed to clear signals", "err", err)
		}
	}()

	link := protocol.NewLink(protocol.LinkConfig{
		Path:        cfg.Serial.Port,
		BaudRate:    cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout,
		Settle:      cfg.Serial.Settle,
		Backoff:     cfg.Serial.Backoff,
	})
	if err := link.Connect(ctx); err != nil {
		return err
	}

	// The stop command goes out as soon as a signal arrives, even while the
	// loop is still inside a planner call.
	halt := sync.OnceFunc(link.Halt)
	defer halt()
	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		halt()
	}()

	log.Debug("Loaded serial link")

	speaker, err := tts.New(cfg.Speech.Backend, cfg.Speech.Voice, cfg.Speech.Rate)
	if err != nil {
		return err
	}
	camera, err := vision.NewCamera(cfg.Camera.Command, cfg.Camera.Timeout)
	if err != nil {
		return err
	}
	chat, describer, err := backend(ctx, cfg)
	if err != nil {
		return err
	}

	log.Debug("Loaded planner", "backend", cfg.Planner.Backend)

	var publisher *hub.Publisher
	if cfg.BusURL != "" {
		publisher, err = hub.Dial(ctx, cfg.BusURL, "rover")
		if err != nil {
			log.Warn("Status hub unavailable", "url", cfg.BusURL, "err", err)
		}
		defer publisher.Close()
	}

	driver := robot.NewDispatcher(link)

	var opts []brain.Option
	if cfg.Autonomous {
		if err := driver.SetAutonomousMode(true); err != nil {
			return err
		}
		opts = append(opts, brain.WithInitialState(brain.AutonomousNav))
	}

	directive := cfg.Planner.Directive
	if directive == "" {
		directive = planner.DefaultDirective
	}

	deps := brain.Deps{
		Telemetry: link,
		Driver:    driver,
		Signals:   signals,
		Speaker:   speaker,
		Camera:    camera,
		Describer: describer,
		Planner:   planner.NewThinker(chat, cfg.Planner.Persona),
	}
	if publisher != nil {
		deps.Publisher = publisher
	}

	m := brain.New(deps, timing(cfg), planner.NewMemory(directive, cfg.Planner.HistoryPairs), opts...)

	log.Info("Boot up - successful")
	return m.Run(ctx)
}

func backend(ctx context.Context, cfg *config.Config) (planner.Chatter, brain.Describer, error) {
	if cfg.Planner.Backend == "openai" {
		httpClient, err := proxy.NewHTTPClient(cfg.ProxyAddr, cfg.Planner.Timeout)
		if err != nil {
			return nil, nil, err
		}
		client := openai.NewClient(
			option.WithAPIKey(cfg.OpenAIKey),
			option.WithHTTPClient(httpClient),
		)
		o := llm.NewOpenAI(client, cfg.Planner.Model, cfg.Planner.VisionModel)
		return o, o, nil
	}

	o := llm.NewOllama(cfg.Planner.OllamaURL, cfg.Planner.Model, cfg.Planner.VisionModel)
	o.HTTP.Timeout = cfg.Planner.Timeout
	if err := o.Ping(ctx); err != nil {
		log.Warn("Ollama not reachable yet", "url", cfg.Planner.OllamaURL, "err", err)
	}
	return o, o, nil
}

func timing(cfg *config.Config) brain.Timing {
	return brain.Timing{
		Tick:          cfg.Loop.Tick,
		Poll:          cfg.IPC.Poll,
		StatusEvery:   cfg.Loop.StatusEvery,
		SpeechTimeout: cfg.Loop.SpeechTimeout,
		SpeakPause:    cfg.Loop.SpeakPause,
		ViewPause:     cfg.Loop.ViewPause,
		FaultPause:    cfg.Loop.FaultPause,
		Backup:        cfg.Motion.Backup,
		SurveyTurn:    cfg.Motion.SurveyTurn,
		Turn:          cfg.Motion.Turn,
	}
}
