package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "log/slog"

	cli "github.com/spf13/pflag"

	"rover/internal/audio"
	"rover/internal/config"
	"rover/internal/ears"
	"rover/internal/ipc"
	"rover/internal/logging"
	"rover/internal/notify"
	"rover/pkg/stt"
)

type whisper struct {
	tr  *stt.Transcriber
	opt stt.Options
}

func (w whisper) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	res, err := w.tr.TranscribePCM(ctx, pcm, w.opt)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	cfgFile := cli.StringP("config", "c", "", "YAML config file")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	model := cli.StringP("model", "m", "", "Whisper model path")
	keep := cli.String("keep", "", "Directory to keep recordings in")
	cli.Parse()

	cfg, err := config.Load(*cfgFile, *envFile)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	if cli.CommandLine.Changed("log") {
		cfg.Log.Level = *logLevel
	}
	if *model != "" {
		cfg.Ears.Model = *model
	}
	if *keep != "" {
		cfg.Ears.KeepDir = *keep
	}

	logs, err := logging.Setup(cfg.Log.Level, "")
	if err != nil {
		log.Error("Failed to set up logging", "err", err)
		os.Exit(1)
	}
	defer logs.Close()

	log.Info("Booting up")

	bus, err := ipc.NewFileBus(cfg.IPC.Dir)
	if err != nil {
		log.Error("Failed to open signal directory", "dir", cfg.IPC.Dir, "err", err)
		os.Exit(1)
	}

	rec := audio.NewRecorder(audio.Settings{
		Threshold: cfg.Ears.Silence,
		Hold:      cfg.Ears.Hold,
		MaxLength: cfg.Ears.MaxLength,
	})
	if err := rec.Init(); err != nil {
		log.Error("Failed to init audio", "err", err)
		os.Exit(1)
	}
	defer rec.Close()

	log.Debug("Loaded recorder")

	tr, err := stt.NewTranscriber(cfg.Ears.Model)
	if err != nil {
		log.Error("Failed to init whisper", "model", cfg.Ears.Model, "err", err)
		os.Exit(1)
	}
	defer tr.Close()

	log.Debug("Loaded whisper")

	var cue func() error
	if cfg.Ears.Cue != "" {
		cue = func() error { return notify.Play(cfg.Ears.Cue) }
	}

	l := ears.New(bus, rec, whisper{tr: tr, opt: stt.Options{Language: cfg.Ears.Language}}, ears.Config{
		Cue:     cue,
		KeepDir: cfg.Ears.KeepDir,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := ipc.StartServer(cfg.IPC.Socket, func(msg ipc.ControlMessage) {
		var err error
		switch msg.Cmd {
		case "wake":
			err = l.Wake(ctx)
		case "hear":
			err = l.Hear(ctx, msg.Text)
		default:
			log.Warn("Unknown command", "cmd", msg.Cmd)
			return
		}
		if errors.Is(err, ears.ErrBusy) {
			log.Warn("Ignoring command while listening", "cmd", msg.Cmd)
		} else if err != nil {
			log.Error("Command failed", "cmd", msg.Cmd, "err", err)
		}
	})
	if err != nil {
		log.Error("Failed ipc server", "socket", cfg.IPC.Socket, "err", err)
		os.Exit(1)
	}
	defer func() {
		srv.Close()
		os.Remove(cfg.IPC.Socket)
	}()

	log.Info("Boot up - successful", "socket", cfg.IPC.Socket, "dir", bus.Dir())

	l.Watch(ctx, cfg.IPC.Poll)
	log.Info("Shutting down")
}
