// Command vai-agents-console drives a voice-agent session from a terminal.
// Typed lines become user messages; slash commands control push-to-talk,
// agent selection, speech speed and playback.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/term"

	"github.com/vango-go/vai-voice-agents/internal/dotenv"
	"github.com/vango-go/vai-voice-agents/pkg/agents/eventlog"
	"github.com/vango-go/vai-voice-agents/pkg/agents/responses"
	"github.com/vango-go/vai-voice-agents/pkg/agents/scenarios"
	"github.com/vango-go/vai-voice-agents/pkg/agents/transcript"
	"github.com/vango-go/vai-voice-agents/pkg/agents/workspace"
	"github.com/vango-go/vai-voice-agents/pkg/prefs"
	"github.com/vango-go/vai-voice-agents/pkg/realtime"
	"github.com/vango-go/vai-voice-agents/pkg/session"
)

const (
	defaultGatewayURL = "http://localhost:3000"
	defaultPrefsPath  = ".vai-agents/prefs.yaml"
	defaultTimeout    = 90 * time.Second
)

type consoleConfig struct {
	GatewayURL    string
	GatewayAPIKey string
	RealtimeURL   string
	Model         string
	Scenario      string
	Agent         string
	PrefsPath     string
	RedisURL      string
	User          string
	PushToTalk    bool
	Timeout       time.Duration
	Verbose       bool

	// Set by the flag parser only when -ptt was given explicitly.
	pttSet bool
}

func parseConsoleConfig(args []string, getenv func(string) string) (consoleConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := consoleConfig{}
	fs := flag.NewFlagSet("vai-agents-console", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.GatewayURL, "gateway", envOr(getenv, "VAI_AGENTS_GATEWAY_URL", defaultGatewayURL), "gateway base URL")
	fs.StringVar(&cfg.GatewayAPIKey, "api-key", strings.TrimSpace(getenv("VAI_AGENTS_GATEWAY_API_KEY")), "optional gateway api key (or VAI_AGENTS_GATEWAY_API_KEY)")
	fs.StringVar(&cfg.RealtimeURL, "realtime-url", realtime.DefaultURL, "realtime websocket URL")
	fs.StringVar(&cfg.Model, "model", "", "realtime model (defaults to the session default)")
	fs.StringVar(&cfg.Scenario, "scenario", "", "agent scenario key (defaults to saved preference, then "+scenarios.DefaultKey+")")
	fs.StringVar(&cfg.Agent, "agent", "", "initial agent name")
	fs.StringVar(&cfg.PrefsPath, "prefs", defaultPrefsPath, "preferences YAML file")
	fs.StringVar(&cfg.RedisURL, "redis", strings.TrimSpace(getenv("VAI_AGENTS_REDIS_URL")), "optional redis URL for preferences and the event log")
	fs.StringVar(&cfg.User, "user", "console", "preference owner when -redis is set")
	fs.BoolVar(&cfg.PushToTalk, "ptt", false, "start in push-to-talk mode")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "timeout for connects and delegated calls")
	fs.BoolVar(&cfg.Verbose, "v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return consoleConfig{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "ptt" {
			cfg.pttSet = true
		}
	})
	cfg.GatewayURL = strings.TrimRight(strings.TrimSpace(cfg.GatewayURL), "/")

	if err := validateConsoleConfig(cfg); err != nil {
		return consoleConfig{}, err
	}
	return cfg, nil
}

func validateConsoleConfig(cfg consoleConfig) error {
	u, err := url.Parse(cfg.GatewayURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("-gateway must be an absolute URL")
	}
	if cfg.Scenario != "" {
		if _, ok := scenarios.Default().Lookup(cfg.Scenario); !ok {
			return fmt.Errorf("unknown scenario %q (available: %s)", cfg.Scenario, strings.Join(scenarios.Default().Keys(), ", "))
		}
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("-timeout must be > 0")
	}
	if cfg.RedisURL != "" && strings.TrimSpace(cfg.User) == "" {
		return fmt.Errorf("-user is required with -redis")
	}
	return nil
}

func envOr(getenv func(string) string, key, def string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}

// stores are the persistence backends picked by the flags. closeFn releases
// whatever they opened.
type stores struct {
	prefs   prefs.Store
	sink    eventlog.Sink
	closeFn func()
}

func openStores(ctx context.Context, cfg consoleConfig, consoleID string) (stores, error) {
	if cfg.RedisURL == "" {
		return stores{prefs: prefs.FileStore{Path: cfg.PrefsPath}, closeFn: func() {}}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return stores{}, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ps, err := prefs.NewRedisStore(client, "", cfg.User)
	if err != nil {
		_ = client.Close()
		return stores{}, err
	}
	sink, err := eventlog.NewRedisSink(ctx, eventlog.RedisSinkParams{
		Client:    client,
		SessionID: consoleID,
		TTL:       24 * time.Hour,
	})
	if err != nil {
		_ = client.Close()
		return stores{}, err
	}
	return stores{
		prefs:   ps,
		sink:    sink,
		closeFn: func() { _ = client.Close() },
	}, nil
}

// resolvePrefs folds flags over the saved preferences. Flags win.
func resolvePrefs(cfg consoleConfig, saved prefs.Prefs) prefs.Prefs {
	p := saved
	if cfg.Scenario != "" && cfg.Scenario != saved.Scenario {
		p.Scenario = cfg.Scenario
		p.Agent = ""
	}
	if _, ok := scenarios.Default().Lookup(p.Scenario); !ok {
		p.Scenario = scenarios.DefaultKey
		p.Agent = ""
	}
	if cfg.Agent != "" {
		p.Agent = cfg.Agent
	}
	if cfg.pttSet {
		p.PushToTalk = cfg.PushToTalk
	}
	return p
}

func runConsole(ctx context.Context, cfg consoleConfig, in io.Reader, out, errOut io.Writer, interactive bool) error {
	if err := validateConsoleConfig(cfg); err != nil {
		return err
	}
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	consoleID := strings.ToLower(ulid.Make().String())
	st, err := openStores(ctx, cfg, consoleID)
	if err != nil {
		return err
	}
	defer st.closeFn()

	saved, err := st.prefs.Load(ctx)
	if err != nil {
		logger.Warn("preferences not loaded, using defaults", "error", err)
	}
	p := resolvePrefs(cfg, saved)
	speed, _ := scenarios.ParseSpeechSpeed(p.SpeechSpeed)

	scenario := scenarios.Default().Resolve(p.Scenario)
	deps := scenarios.Deps{
		Client: responses.New(cfg.GatewayAPIKey,
			responses.WithBaseURL(cfg.GatewayURL+"/api"),
			responses.WithTimeout(cfg.Timeout),
		),
		Speed:  speed,
		Logger: logger,
	}
	set, err := scenario.Build(deps)
	if err != nil {
		return fmt.Errorf("build scenario %s: %w", scenario.Key, err)
	}
	if p.Agent != "" {
		if _, ok := set.Lookup(p.Agent); !ok {
			fmt.Fprintf(errOut, "agent %q is not in %s, starting with %s\n", p.Agent, scenario.Key, set.Root().Name)
			p.Agent = ""
		}
	}

	printer := newTranscriptPrinter(out)
	var ws *workspace.Workspace
	if scenario.Workspace {
		ws = workspace.New()
		ws.OnChange(printer.workspaceChanged)
	}

	logOpts := []eventlog.Option{eventlog.WithLogger(logger)}
	if st.sink != nil {
		logOpts = append(logOpts, eventlog.WithSink(st.sink))
	}

	sess, err := session.New(session.Config{
		Model:        cfg.Model,
		InitialAgent: p.Agent,
		PushToTalk:   p.PushToTalk,
		Muted:        !p.AudioPlayback,
		Speed:        speed.Factor(),
	}, session.Dependencies{
		Agents:     set,
		Transcript: transcript.New(transcript.WithLogger(logger), transcript.WithObserver(printer.observe)),
		Events:     eventlog.New(logOpts...),
		Credentials: &session.HTTPCredentialSource{
			BaseURL: cfg.GatewayURL,
			APIKey:  cfg.GatewayAPIKey,
			Timeout: cfg.Timeout,
		},
		Dialer:    &realtime.WSDialer{URL: cfg.RealtimeURL, Logger: logger},
		Guardrail: scenario.Guardrail(deps),
		Workspace: ws,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer sess.Disconnect()

	rt := &consoleRuntime{
		sess:      sess,
		scenario:  scenario,
		deps:      deps,
		set:       set,
		prefs:     p,
		store:     st.prefs,
		workspace: ws,
		logger:    logger,
	}
	rt.savePrefs(ctx)

	fmt.Fprintf(out, "scenario %s via %s\n", scenario.Key, cfg.GatewayURL)
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	err = sess.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	fmt.Fprintf(out, "connected, active agent %s. Type /help for commands.\n", sess.ActiveAgent())

	return repl(ctx, rt, in, out, errOut, interactive)
}

// repl reads lines until EOF, /quit or ctx ends.
func repl(ctx context.Context, rt *consoleRuntime, in io.Reader, out, errOut io.Writer, interactive bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				if interactive {
					fmt.Fprintln(out)
				}
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			fmt.Fprintln(out, "bye")
			return nil
		}

		handled, err := handleSlashCommand(ctx, line, rt, out, errOut)
		if err != nil {
			return err
		}
		if handled {
			continue
		}
		if strings.HasPrefix(line, "/") {
			fmt.Fprintf(errOut, "unknown command %s (try /help)\n", strings.Fields(line)[0])
			continue
		}
		if err := rt.sess.SendText(line); err != nil {
			if errors.Is(err, session.ErrNotConnected) {
				fmt.Fprintln(errOut, "not connected; use /reconnect")
				continue
			}
			fmt.Fprintf(errOut, "send error: %v\n", err)
		}
	}
}

func main() {
	os.Exit(runMain(os.Args[1:], os.Getenv, os.Stdin, os.Stdout, os.Stderr))
}

func runMain(args []string, getenv func(string) string, in *os.File, out, errOut io.Writer) int {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(errOut, "vai-agents-console: %v\n", err)
		return 1
	}

	cfg, err := parseConsoleConfig(args, getenv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(errOut, "vai-agents-console: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interactive := term.IsTerminal(int(in.Fd()))
	if err := runConsole(ctx, cfg, in, out, errOut, interactive); err != nil {
		fmt.Fprintf(errOut, "vai-agents-console: %v\n", err)
		return 1
	}
	return 0
}
