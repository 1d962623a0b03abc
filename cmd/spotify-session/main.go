package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/overtone-app/spotify-session/internal/spotify"
	"github.com/overtone-app/spotify-session/internal/tokenstore"
	"github.com/overtone-app/spotify-session/session"
)

// Version is set by the build process
var Version = "dev"

const usage = `Usage: spotify-session <command> [args]

Commands:
  connect              link a Spotify account (opens the browser)
  disconnect           unlink the account and delete stored tokens
  status               show connection and playback state
  now                  show the current playback snapshot
  play | pause | toggle | next | previous
  volume <0-100>       set playback volume
  shuffle <on|off>     set shuffle state
  repeat <off|track|context>
  search <query>       search for tracks
  queue                show the playback queue
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// Load configuration from environment
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logger := log.New()
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Error parsing log level: %v", err)
	}
	logger.SetLevel(level)

	store, cleanup, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatalf("Error building token store: %v", err)
	}
	defer cleanup()

	manager, err := session.New(session.Config{
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		RedirectURI:     cfg.RedirectURI,
		Scopes:          cfg.Scopes,
		Store:           store,
		Logger:          logger,
		ListenerTimeout: cfg.AuthTimeout,
	})
	if err != nil {
		logger.Fatalf("Error creating session manager: %v", err)
	}
	defer manager.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, manager, cfg, os.Args[1], os.Args[2:]); err != nil {
		logger.Fatalf("Error: %v", err)
	}
}

// buildStore selects the Redis-backed store when REDIS_URL is set and the
// encrypted file store otherwise.
func buildStore(cfg Config, logger *log.Logger) (spotify.TokenPersister, func(), error) {
	secret := cfg.TokenSecret
	if secret == "" {
		secret = cfg.ClientID
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing Redis URL: %w", err)
		}
		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.WithError(err).Warn("Error closing Redis connection")
			}
		}
		return tokenstore.NewRedisStore(client, secret, logger), cleanup, nil
	}

	path := cfg.TokenFile
	if path == "" {
		var err error
		path, err = tokenstore.DefaultPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolving token path: %w", err)
		}
	}
	return tokenstore.NewFileStore(path, secret, logger), func() {}, nil
}

func run(ctx context.Context, manager *session.Manager, cfg Config, command string, args []string) error {
	// Every command except connect works against the restored session.
	if command != "connect" {
		if err := manager.Restore(ctx); err != nil {
			return fmt.Errorf("restoring session: %w", err)
		}
	}

	switch command {
	case "connect":
		return runConnect(ctx, manager, cfg.AuthTimeout)

	case "disconnect":
		if err := manager.Disconnect(ctx); err != nil {
			return err
		}
		fmt.Println("Disconnected.")
		return nil

	case "status":
		return printJSON(manager.Status(ctx))

	case "now":
		snapshot, err := manager.Snapshot(ctx)
		if err != nil {
			return err
		}
		if snapshot == nil {
			fmt.Println("Nothing playing.")
			return nil
		}
		return printJSON(snapshot)

	case "play", "pause", "toggle", "next", "previous":
		return dispatch(ctx, manager, session.Command{Kind: commandKind(command)})

	case "volume":
		if len(args) != 1 {
			return fmt.Errorf("usage: volume <0-100>")
		}
		percent, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid volume %q", args[0])
		}
		return dispatch(ctx, manager, session.Command{Kind: session.CmdSetVolume, Volume: percent})

	case "shuffle":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return fmt.Errorf("usage: shuffle <on|off>")
		}
		return dispatch(ctx, manager, session.Command{Kind: session.CmdSetShuffle, Shuffle: args[0] == "on"})

	case "repeat":
		if len(args) != 1 {
			return fmt.Errorf("usage: repeat <off|track|context>")
		}
		return dispatch(ctx, manager, session.Command{Kind: session.CmdSetRepeat, Repeat: args[0]})

	case "search":
		if len(args) == 0 {
			return fmt.Errorf("usage: search <query>")
		}
		results, err := manager.Search(ctx, args[0], 10)
		if err != nil {
			return err
		}
		return printJSON(results)

	case "queue":
		queue, err := manager.Queue(ctx)
		if err != nil {
			return err
		}
		return printJSON(queue)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// runConnect starts the authorization flow and blocks until the account is
// linked, the flow fails, or the timeout elapses.
func runConnect(ctx context.Context, manager *session.Manager, timeout time.Duration) error {
	events, cancel := manager.Subscribe(16)
	defer cancel()

	result, err := manager.BeginAuth(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Open this URL to link your account:\n\n  %s\n\n", result.AuthorizationURL)

	deadline := time.After(timeout)
	for {
		select {
		case e := <-events:
			switch ev := e.(type) {
			case session.AuthUpdated:
				if ev.Status.Connected {
					if ev.Status.Account != nil {
						fmt.Printf("Connected as %s.\n", ev.Status.Account.DisplayName)
					} else {
						fmt.Println("Connected.")
					}
					return nil
				}
			case session.AuthError:
				return fmt.Errorf("authorization failed: %s", ev.Message)
			}
		case <-deadline:
			return fmt.Errorf("authorization timed out after %s", timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func dispatch(ctx context.Context, manager *session.Manager, cmd session.Command) error {
	snapshot, err := manager.Dispatch(ctx, cmd)
	if err != nil {
		return err
	}
	if snapshot == nil || snapshot.Track == nil {
		fmt.Println("OK.")
		return nil
	}
	state := "paused"
	if snapshot.IsPlaying {
		state = "playing"
	}
	fmt.Printf("%s: %s\n", state, snapshot.Track.Name)
	return nil
}

func commandKind(command string) session.CommandKind {
	switch command {
	case "play":
		return session.CmdPlay
	case "pause":
		return session.CmdPause
	case "toggle":
		return session.CmdTogglePlay
	case "next":
		return session.CmdNext
	case "previous":
		return session.CmdPrevious
	}
	return session.CommandKind(command)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
