package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	cli "github.com/spf13/pflag"

	"rover/internal/hub"
	"rover/internal/ipc"
)

const usage = `usage: rover-ctl [flags] <command> [args]

commands:
  wake          interrupt the rover and listen for a command
  hear <file>   transcribe an audio clip as if it had been spoken
  say <text>    hand text to the rover as a finished utterance
  status        list raised signals
  clear         remove every signal file
  watch         print status hub traffic
`

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket of rover-ears")
	dir := cli.StringP("dir", "d", ".", "Signal directory shared with the rover")
	busURL := cli.StringP("bus", "b", "ws://localhost:8092", "Url of the status hub")
	cli.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		cli.PrintDefaults()
	}
	cli.Parse()

	if cli.NArg() == 0 {
		cli.Usage()
		os.Exit(2)
	}

	if err := run(cli.Arg(0), cli.Args()[1:], *socket, *dir, *busURL); err != nil {
		fmt.Fprintln(os.Stderr, "rover-ctl:", err)
		os.Exit(1)
	}
}

func run(cmd string, args []string, socket, dir, busURL string) error {
	switch cmd {
	case "wake":
		if err := ipc.SendCommand(socket, ipc.ControlMessage{Cmd: "wake"}); err != nil {
			return fmt.Errorf("rover-ears not running: %w", err)
		}
	case "hear":
		if len(args) != 1 {
			return fmt.Errorf("hear needs exactly one file")
		}
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if err := ipc.SendCommand(socket, ipc.ControlMessage{Cmd: "hear", Text: path}); err != nil {
			return fmt.Errorf("rover-ears not running: %w", err)
		}
	case "say":
		bus, err := ipc.NewFileBus(dir)
		if err != nil {
			return err
		}
		if err := bus.WritePayload(ipc.UserSpeech, strings.Join(args, " ")); err != nil {
			return err
		}
		return bus.Raise(ipc.ListeningComplete)
	case "status":
		bus, err := ipc.NewFileBus(dir)
		if err != nil {
			return err
		}
		raised := bus.Raised()
		if len(raised) == 0 {
			fmt.Println("no signals raised")
		}
		for _, s := range raised {
			fmt.Println(s)
		}
	case "clear":
		bus, err := ipc.NewFileBus(dir)
		if err != nil {
			return err
		}
		return bus.ClearAll()
	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		err := hub.Watch(ctx, busURL, func(m hub.Message) {
			fmt.Printf("%s %-9s %s\n", m.At.Format("15:04:05.000"), m.Kind, m.Content)
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
