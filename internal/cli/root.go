// Package cli implements the clipq subcommands. Commands are thin glue:
// they wire config, session, and clients together and print what the core
// surfaces.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mbaumer/clipq/internal/config"
	"github.com/mbaumer/clipq/internal/journal"
	"github.com/mbaumer/clipq/internal/remote"
	"github.com/mbaumer/clipq/internal/session"
)

const usage = `clipq — client for the video-processing service

Usage:
  clipq [-config path] <command> [flags]

Commands:
  login <token>             store the service token
  list [-status s]          list jobs
  submit <url> | -file p    submit a job by URL or file upload
  pause <jobID>             request a pause
  resume <jobID>            resume a paused job
  cancel <jobID>            cancel a job
  delete <jobID>            delete a job
  flag <jobID> [-clear] [-note n]
                            flag or unflag a job
  watch <jobID>             stream live job events
  stuck                     list uploads awaiting finalize
  resume-finalize <uploadID>
                            re-issue a failed finalize
  history [-n limit]        show local submission history
  manage                    interactive job list
`

// app carries the shared dependencies built once per invocation.
type app struct {
	cfg       *config.Config
	sess      *session.Session
	dir       remote.Directory
	transport remote.UploadTransport
}

func (a *app) close() {
	if a.sess != nil {
		a.sess.Close()
	}
}

func (a *app) openJournal() (*journal.Journal, error) {
	return journal.Open(a.cfg.Journal.Path)
}

// Run parses global flags, dispatches the subcommand, and returns the error
// to exit on.
func Run(args []string) error {
	fs := flag.NewFlagSet("clipq", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return fmt.Errorf("no command given")
	}
	command, cmdArgs := rest[0], rest[1:]

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	setupLogging(cfg, command)

	tokens := session.NewFileTokenStore(cfg.Auth.TokenPath)

	// login needs no session; handle before dialing anything.
	if command == "login" {
		return runLogin(tokens, cmdArgs)
	}

	sess, err := session.New(cfg.Service.BaseURL, tokens, cfg.Service.Timeout.Duration())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	a := &app{
		cfg:       cfg,
		sess:      sess,
		dir:       remote.NewHTTPDirectory(sess.BaseURL(), sess.HTTPClient(), sess),
		transport: remote.NewHTTPUploadTransport(sess.BaseURL(), sess.HTTPClient(), sess),
	}
	defer a.close()

	switch command {
	case "list":
		return a.runList(cmdArgs)
	case "submit":
		return a.runSubmit(cmdArgs)
	case "pause", "resume", "cancel", "delete":
		return a.runAction(command, cmdArgs)
	case "flag":
		return a.runFlag(cmdArgs)
	case "watch":
		return a.runWatch(cmdArgs)
	case "stuck":
		return a.runStuck(cmdArgs)
	case "resume-finalize":
		return a.runResumeFinalize(cmdArgs)
	case "history":
		return a.runHistory(cmdArgs)
	case "manage":
		return a.runManage(cmdArgs)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// setupLogging configures the default slog logger. The interactive screen
// discards log output so lines do not tear the display.
func setupLogging(cfg *config.Config, command string) {
	var out io.Writer = os.Stderr
	if command == "manage" {
		out = io.Discard
	}
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
