package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agentdesk/config"
	"agentdesk/internal/chat"
	"agentdesk/internal/cli"
	"agentdesk/internal/conversation"
	"agentdesk/internal/credentials"
	"agentdesk/internal/doctor"
	"agentdesk/internal/logging"
	"agentdesk/internal/onboarding"
	"agentdesk/internal/tui"
	"agentdesk/version"
)

var (
	debugLogging bool
	ephemeral    bool
)

// runtimeEnv is what every command needs before it can do real work.
type runtimeEnv struct {
	settings       config.Settings
	configFile     string
	databasePath   string
	credentialFile string
	credentials    *credentials.Provider
	logCloser      io.Closer
}

func (e *runtimeEnv) Close() {
	if e.logCloser != nil {
		e.logCloser.Close()
	}
}

func loadEnv() (*runtimeEnv, error) {
	configFile, err := config.GetConfigFile()
	if err != nil {
		return nil, err
	}
	settings, err := config.LoadFile(configFile)
	if err != nil {
		return nil, err
	}
	if ephemeral {
		settings.Store.Driver = config.StoreMemory
	}

	level := settings.Log.Level
	if debugLogging {
		level = "debug"
	}
	logPath := settings.Log.File
	if logPath == "" {
		if logPath, err = config.GetLogPath(); err != nil {
			return nil, err
		}
	}
	_, closer, err := logging.Setup(logPath, level)
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}

	databasePath, err := config.GetDatabasePath()
	if err != nil {
		closer.Close()
		return nil, err
	}
	credentialFile, err := config.GetCredentialFile()
	if err != nil {
		closer.Close()
		return nil, err
	}

	return &runtimeEnv{
		settings:       settings,
		configFile:     configFile,
		databasePath:   databasePath,
		credentialFile: credentialFile,
		credentials:    credentials.Default(credentialFile),
		logCloser:      closer,
	}, nil
}

func (e *runtimeEnv) openStore(ctx context.Context, settings config.StoreSettings) (conversation.Store, error) {
	return chat.OpenStore(ctx, settings, e.databasePath)
}

// newSession wires the store, completion client and, when withTrace is set,
// the trace channel into a Session.
func (e *runtimeEnv) newSession(ctx context.Context, withTrace bool) (*chat.Session, error) {
	store, err := e.openStore(ctx, e.settings.Store)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}

	cfg := chat.SessionConfig{
		Settings:    e.settings,
		Store:       store,
		Completer:   chat.NewCompleter(e.settings.Completion),
		Credentials: e.credentials,
		Logger:      slog.Default(),
	}
	if withTrace {
		cfg.TraceSource = chat.NewTraceSource(e.settings.Trace)
		cfg.CredentialFile = e.credentialFile
	}

	session, err := chat.NewSession(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return session, nil
}

func mustLoadEnv() *runtimeEnv {
	env, err := loadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return env
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:   "agentdesk",
	Short: "Chat with a multi-agent backend and watch its agents work",
	Run: func(cmd *cobra.Command, args []string) {
		env := mustLoadEnv()
		defer env.Close()

		if onboarding.IsFirstRun(env.configFile, env.credentials) {
			fmt.Println("Welcome to agentdesk! Let's get you set up.")
			if err := onboarding.RunWizard(env.configFile, env.credentials, os.Stdout); err != nil {
				log.Fatalf("Setup failed: %v", err)
			}
			settings, err := config.LoadFile(env.configFile)
			if err != nil {
				log.Fatalf("Failed to reload config: %v", err)
			}
			if ephemeral {
				settings.Store.Driver = config.StoreMemory
			}
			env.settings = settings
		}

		ctx, stop := signalContext()
		defer stop()

		session, err := env.newSession(ctx, true)
		if err != nil {
			log.Fatal(err)
		}
		defer session.Close()

		if err := session.Start(ctx); err != nil {
			log.Fatal(err)
		}
		if err := tui.Run(ctx, session); err != nil {
			slog.Error("terminal UI exited", "error", err)
			session.Close()
			log.Fatal(err)
		}
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send one message and print the reply",
	Long: `Send a message without opening the terminal UI.

Progress is written to stderr and the assistant reply to stdout, so the
reply can be piped to other commands.

Examples:
  agentdesk send "Plan a landing page for the beta"
  agentdesk send "Add a pricing section" --conversation 1788745125286989824
  agentdesk send "Summarize" --json | jq -r 'select(.type=="turn.completed").content'`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		conversationID, _ := cmd.Flags().GetString("conversation")
		jsonMode, _ := cmd.Flags().GetBool("json")

		env := mustLoadEnv()
		defer env.Close()

		ctx, stop := signalContext()
		defer stop()

		session, err := env.newSession(ctx, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		var emitter cli.EventEmitter = cli.NewPrettyEmitter(cmd.OutOrStdout(), cmd.ErrOrStderr())
		if jsonMode {
			emitter = cli.NewJSONEmitter(cmd.OutOrStdout())
		}

		err = cli.Send(ctx, session.Coordinator, emitter, conversationID, args[0])
		session.Close()
		if err != nil {
			if !jsonMode && !errors.Is(err, cli.ErrNoCredential) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}
	},
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Browse stored conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recently updated first",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		jsonMode, _ := cmd.Flags().GetBool("json")
		withStore(func(ctx context.Context, store conversation.Store) error {
			return cli.ListConversations(ctx, store, cmd.OutOrStdout(), limit, jsonMode)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "Print the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jsonMode, _ := cmd.Flags().GetBool("json")
		withStore(func(ctx context.Context, store conversation.Store) error {
			return cli.History(ctx, store, cmd.OutOrStdout(), args[0], jsonMode)
		})
	},
}

func withStore(fn func(ctx context.Context, store conversation.Store) error) {
	env := mustLoadEnv()
	defer env.Close()

	ctx, stop := signalContext()
	defer stop()

	store, err := env.openStore(ctx, env.settings.Store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	err = fn(ctx, store)
	store.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Work with trace channel captures",
}

var traceReplayCmd = &cobra.Command{
	Use:   "replay [file]",
	Short: "Replay a JSON-lines trace capture through the activity feed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		delay, _ := cmd.Flags().GetDuration("delay")
		jsonMode, _ := cmd.Flags().GetBool("json")

		env := mustLoadEnv()
		defer env.Close()

		f, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()

		ctx, stop := signalContext()
		defer stop()

		var emitter cli.EventEmitter = cli.NewPrettyEmitter(cmd.OutOrStdout(), cmd.ErrOrStderr())
		if jsonMode {
			emitter = cli.NewJSONEmitter(cmd.OutOrStdout())
		}
		if err := cli.ReplayTrace(ctx, f, emitter, env.settings.Trace.Retention, delay); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run the setup wizard",
	Run: func(cmd *cobra.Command, args []string) {
		env := mustLoadEnv()
		defer env.Close()
		if err := onboarding.RunWizard(env.configFile, env.credentials, cmd.OutOrStdout()); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, credentials and backend connectivity",
	Run: func(cmd *cobra.Command, args []string) {
		env := mustLoadEnv()
		defer env.Close()

		ctx, stop := signalContext()
		defer stop()

		exitCode, err := cli.Doctor(ctx, cmd.OutOrStdout(), doctor.Options{
			ConfigFile:   env.configFile,
			DatabasePath: env.databasePath,
			Credentials:  env.credentials,
			OpenStore:    env.openStore,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	},
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: fmt.Sprintf("Manage the API key (%s overrides the stored value)", credentials.APIKeyName),
}

var secretSetCmd = &cobra.Command{
	Use:   "set [value]",
	Short: "Store the API key in the system keyring",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		value := ""
		if len(args) > 0 {
			value = args[0]
		}
		env := mustLoadEnv()
		defer env.Close()
		if err := cli.SetAPIKey(env.credentials, value, cmd.OutOrStdout()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the stored API key",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		env := mustLoadEnv()
		defer env.Close()
		if err := cli.DeleteAPIKey(env.credentials, cmd.OutOrStdout()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var secretStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether an API key is available and where it comes from",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		env := mustLoadEnv()
		defer env.Close()
		if err := cli.APIKeyStatus(env.credentials, cmd.OutOrStdout()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show current version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	// Disable the default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Write debug level logs")
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "Keep conversations in memory only")

	sendCmd.Flags().StringP("conversation", "c", "", "Continue an existing conversation by ID")
	sendCmd.Flags().Bool("json", false, "Output events as JSON Lines (JSONL) instead of pretty-printing")

	conversationsListCmd.Flags().IntP("limit", "n", 20, "Maximum number of conversations to show (0 = all)")
	conversationsListCmd.Flags().Bool("json", false, "Output one JSON object per conversation")
	historyCmd.Flags().Bool("json", false, "Output one JSON object per message")
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(historyCmd)

	traceReplayCmd.Flags().Duration("delay", 0, "Wait between payloads, e.g. 200ms")
	traceReplayCmd.Flags().Bool("json", false, "Output feed entries as JSON Lines")
	traceCmd.AddCommand(traceReplayCmd)

	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretDeleteCmd)
	secretCmd.AddCommand(secretStatusCmd)

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
