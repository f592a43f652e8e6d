package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/m4xw311/egoist/agent"
	"github.com/m4xw311/egoist/agent/acp"
	"github.com/m4xw311/egoist/agent/terminal"
	"github.com/m4xw311/egoist/config"
	"github.com/m4xw311/egoist/errors"
	"github.com/m4xw311/egoist/llm"
	"github.com/m4xw311/egoist/session"
	"github.com/m4xw311/egoist/tools"
)

const defaultSystemPrompt = "You are an AI program with agency. You can choose to respond to the user with text, " +
	"or use the tools that are exposed to you. Do not use tools if you can answer the question easily, " +
	"such as `what is 2+2`."

type options struct {
	includeState bool
	once         bool
	session      string
	resume       string
	toolset      string
	verbose      bool
	acp          bool
	prompt       string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("egoist", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.includeState, "s", false, "Include the project snapshot file in the system prompt")
	fs.BoolVar(&opts.once, "once", false, "Answer the prompt once and print the final reply")
	fs.StringVar(&opts.session, "session", "", "Session name to create")
	fs.StringVar(&opts.resume, "r", "", "Resume a session by name")
	fs.StringVar(&opts.toolset, "t", "", "Toolset to use (defaults to 'default')")
	fs.BoolVar(&opts.verbose, "v", false, "Enable debug logging")
	fs.BoolVar(&opts.acp, "acp", false, "Serve the Agent Client Protocol on stdin/stdout")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.prompt = strings.Join(fs.Args(), " ")
	return opts, nil
}

func main() {
	// A missing .env is fine; real environment variables win.
	_ = godotenv.Load()

	intr := &llm.Interrupt{}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		for range sigs {
			intr.Set()
		}
	}()

	if err := run(context.Background(), os.Args[1:], intr, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, intr *llm.Interrupt, stdin io.Reader, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.LoadConfig()
	if err != nil {
		return errors.Wrapf(err, "error loading configuration")
	}

	if opts.acp {
		return runACP(ctx, cfg, opts, intr, stdin, stdout)
	}

	sess, err := openSession(cfg, opts)
	if err != nil {
		return err
	}
	if opts.toolset == "" {
		opts.toolset = sess.Toolset
	}
	ts, err := cfg.GetToolset(opts.toolset)
	if err != nil {
		return err
	}
	sess.Model = cfg.Model
	sess.Toolset = ts.Name

	registry, err := tools.NewToolRegistry(ctx, cfg, ts)
	if err != nil {
		return errors.Wrapf(err, "error initializing tools")
	}
	defer registry.Close()

	// In -once mode only the final reply is printed.
	streamOut := stdout
	if opts.once {
		streamOut = io.Discard
	}
	client, err := newClient(cfg, registry, intr, streamOut)
	if err != nil {
		return err
	}

	term := terminal.New(stdin, stdout, registry)

	if len(sess.Messages) == 0 {
		prompt, err := buildSystemPrompt(cfg, opts.includeState)
		if err != nil {
			return err
		}
		sess.AddMessage(session.Message{Role: session.RoleSystem, Content: prompt})
	}
	first := opts.prompt
	if first == "" {
		if opts.once {
			return errors.New("a prompt is required with -once")
		}
		first, err = term.Next(ctx)
		if errors.Is(err, io.EOF) {
			return sess.Save()
		}
		if err != nil {
			return err
		}
	}
	sess.AddMessage(session.Message{Role: session.RoleUser, Content: first})
	if err := sess.Save(); err != nil {
		return errors.Wrapf(err, "error saving session '%s'", sess.Name)
	}

	callbacks := agent.Callbacks{
		OnMessageAppended: func(msg session.Message) {
			sess.AddMessage(msg)
			if err := sess.Save(); err != nil {
				slog.Warn("failed to save session", "session", sess.Name, "error", err)
			}
		},
	}
	if opts.once {
		a := agent.New(client, registry, sess.History(), callbacks)
		reply, err := a.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, reply)
		return nil
	}

	a := agent.New(client, registry, sess.History(), term.Callbacks(callbacks))
	return a.Run(ctx, term)
}

// runACP serves editor sessions. stdout carries only protocol messages, so
// streamed text is not echoed.
func runACP(ctx context.Context, cfg *config.Config, opts *options, intr *llm.Interrupt, stdin io.Reader, stdout io.Writer) error {
	ts, err := cfg.GetToolset(opts.toolset)
	if err != nil {
		return err
	}
	registry, err := tools.NewToolRegistry(ctx, cfg, ts)
	if err != nil {
		return errors.Wrapf(err, "error initializing tools")
	}
	defer registry.Close()

	client, err := newClient(cfg, registry, intr, io.Discard)
	if err != nil {
		return err
	}
	prompt, err := buildSystemPrompt(cfg, opts.includeState)
	if err != nil {
		return err
	}
	return acp.NewServer(client, registry, cfg.SessionsDir, prompt).Serve(ctx, stdin, stdout)
}

func openSession(cfg *config.Config, opts *options) (*session.Session, error) {
	if opts.resume != "" {
		sess, err := session.Load(cfg.SessionsDir, opts.resume)
		if err != nil {
			return nil, errors.Wrapf(err, "error resuming session '%s'", opts.resume)
		}
		slog.Info("resuming session", "session", sess.Name, "messages", len(sess.Messages))
		return sess, nil
	}

	name := opts.session
	if name == "" {
		name = defaultSessionName()
	}
	sess, err := session.New(cfg.SessionsDir, name)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating session '%s'", name)
	}
	slog.Info("starting new session", "session", name)
	return sess, nil
}

func newClient(cfg *config.Config, registry *tools.Registry, intr *llm.Interrupt, out io.Writer) (llm.Client, error) {
	switch cfg.LLMClient {
	case "openai":
		client, err := llm.NewOpenAILLMClient(cfg, registry.Tools(), intr, out)
		if err != nil {
			return nil, errors.Wrapf(err, "error initializing OpenAI client")
		}
		return client, nil
	case "mock":
		return &llm.MockLLMClient{Out: out}, nil
	default:
		return nil, errors.New("unknown llm client '%s'", cfg.LLMClient)
	}
}

func buildSystemPrompt(cfg *config.Config, includeState bool) (string, error) {
	prompt := defaultSystemPrompt
	if cfg.SystemPrompt != "" {
		prompt = cfg.SystemPrompt
	}
	if !includeState {
		return prompt, nil
	}
	state, err := os.ReadFile(cfg.Snapshot.Output)
	if err != nil {
		return "", errors.Wrapf(err, "error reading '%s'", cfg.Snapshot.Output)
	}
	return prompt + "\nCurrent project source code:\n" + string(state), nil
}

func defaultSessionName() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "egoist"
	}
	dirName := filepath.Base(wd)
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return fmt.Sprintf("%s_%s_%s", dirName, timestamp, uuid.NewString()[:8])
}
