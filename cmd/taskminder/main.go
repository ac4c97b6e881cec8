package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"taskminder/internal/app"
	"taskminder/internal/config"
	"taskminder/internal/notify"
	"taskminder/internal/scheduler"
	"taskminder/internal/task"
)

const usage = `Usage: taskminder [-config path] <command> [flags]

The config defaults to config.yaml in the per-user config directory
(~/.config/taskminder on Linux); tasks are kept next to it.

Commands:
  add             add a task reminder
  list            list all tasks
  setup-notifier  configure email or telegram delivery
  start           start task monitoring
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := flag.NewFlagSet("taskminder", flag.ContinueOnError)
	root.SetOutput(stderr)
	root.Usage = func() { fmt.Fprint(stderr, usage) }
	cfgPath := root.String("config", "", "path to config (yaml or json)")
	if err := root.Parse(args); err != nil {
		return 2
	}
	if *cfgPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return 1
		}
		*cfgPath = p
	}
	rest := root.Args()
	if len(rest) == 0 {
		root.Usage()
		return 2
	}
	cmd, cmdArgs := rest[0], rest[1:]

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "add":
		err = runAdd(ctx, *cfgPath, cmdArgs, stdout, stderr)
	case "list":
		err = runList(ctx, *cfgPath, stdout)
	case "setup-notifier", "setup-email":
		err = runSetup(ctx, *cfgPath, cmd, cmdArgs, stdout, stderr)
	case "start":
		err = runStart(ctx, *cfgPath)
	case "help", "-h", "--help":
		root.Usage()
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		root.Usage()
		return 2
	}
	if err == nil {
		return 0
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	var cerr *scheduler.ConfigurationError
	if errors.As(err, &cerr) && errors.Is(err, scheduler.ErrNotConfigured) {
		fmt.Fprintln(stderr, "Notifier not configured. Please run setup-notifier first.")
		return 1
	}
	if task.IsValidation(err) {
		fmt.Fprintln(stderr, "invalid input:", err)
		return 1
	}
	fmt.Fprintln(stderr, "error:", err)
	return 1
}

func runAdd(ctx context.Context, cfgPath string, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(stderr)
	desc := fs.String("desc", "", "task description")
	date := fs.String("date", "", "date (YYYY-MM-DD)")
	clock := fs.String("time", "", "time (HH:mm, 24-hour)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.Add(ctx, *desc, *date, *clock); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Task added successfully!")
	return nil
}

func runList(ctx context.Context, cfgPath string, stdout io.Writer) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	tasks, err := a.List(ctx)
	if err != nil {
		return err
	}
	return app.WriteTasks(stdout, tasks, a.Registry().Location())
}

func runSetup(ctx context.Context, cfgPath, cmd string, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	channel := fs.String("channel", notify.ChannelEmail, "delivery channel: email or telegram")
	email := fs.String("email", "", "email address (sender and recipient)")
	to := fs.String("to", "", "recipient address (default: -email)")
	password := fs.String("password", "", "email app password")
	host := fs.String("smtp-host", "", "SMTP host (default smtp.gmail.com)")
	port := fs.Int("smtp-port", 0, "SMTP port (default 587)")
	token := fs.String("telegram-token", "", "telegram bot token")
	chat := fs.Int64("telegram-chat", 0, "telegram chat id")
	skipVerify := fs.Bool("skip-verify", false, "store settings without checking credentials")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s := notify.Settings{Channel: strings.ToLower(strings.TrimSpace(*channel))}
	switch s.Channel {
	case notify.ChannelEmail:
		s.Email = &notify.EmailSettings{Address: *email, To: *to, Password: *password, Host: *host, Port: *port}
	case notify.ChannelTelegram:
		s.Telegram = &notify.TelegramSettings{Token: *token, ChatID: *chat}
	}

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.SetupNotifier(ctx, s, !*skipVerify); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Notifier configuration saved (%s)!\n", s.Channel)
	return nil
}

func runStart(ctx context.Context, cfgPath string) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Start(ctx)
}
