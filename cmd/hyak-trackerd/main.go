package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/vualdirr/Hyak-Tracker/internal/auth"
	"github.com/vualdirr/Hyak-Tracker/internal/automark"
	"github.com/vualdirr/Hyak-Tracker/internal/commit"
	"github.com/vualdirr/Hyak-Tracker/internal/config"
	"github.com/vualdirr/Hyak-Tracker/internal/database"
	"github.com/vualdirr/Hyak-Tracker/internal/history"
	"github.com/vualdirr/Hyak-Tracker/internal/hyakanime"
	"github.com/vualdirr/Hyak-Tracker/internal/linkcache"
	"github.com/vualdirr/Hyak-Tracker/internal/progression"
	"github.com/vualdirr/Hyak-Tracker/internal/resolver"
	"github.com/vualdirr/Hyak-Tracker/internal/server"
	"github.com/vualdirr/Hyak-Tracker/internal/session"
	"github.com/vualdirr/Hyak-Tracker/internal/settings"
)

var (
	version   = "dev"
	gitCommit = "none"
	date      = "unknown"

	cfgFile   string
	logLevel  string
	debugMode bool

	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hyak-trackerd",
	Short: "Automatic anime progression tracking for Hyakanime",
	Long: `hyak-trackerd watches playback reported by browser-side adapters,
decides when an episode genuinely counts as watched, and writes the
progression to Hyakanime. It also serves the resolution, history, and
mapping endpoints the popup UI uses.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, date),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitializeDirs(); err != nil {
			return fmt.Errorf("failed to initialize directories: %w", err)
		}

		var err error
		var v *viper.Viper
		cfg, v, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if debugMode {
			cfg.Logging.Level = "debug"
			cfg.API.Debug = true
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger, err = config.InitLogger(&cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		db, err = database.Open(database.DefaultOptions(cfg.Database.Path))
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}

		// Hot reload keeps threshold tweaks live for the next marker.
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			logger.Info("config file changed", "name", e.Name)
			if err := v.Unmarshal(&cfg); err != nil {
				logger.Error("failed to reload config", "error", err)
			}
		})

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := database.Close(db); err != nil && logger != nil {
			logger.Error("failed to close database", "error", err)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug mode")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(markCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(linksCmd)
}

// services bundles everything the commands need.
type services struct {
	auth     *auth.Store
	client   *hyakanime.Client
	resolver *resolver.Resolver
	links    *linkcache.Cache
	history  *history.Service
	writer   *progression.Writer
	commits  *commit.Orchestrator
	settings *settings.Service
}

func buildServices() (*services, error) {
	authStore := auth.NewStore(db)

	clientCfg := hyakanime.DefaultClientConfig()
	clientCfg.BaseURL = cfg.API.BaseURL
	clientCfg.Debug = cfg.API.Debug
	clientCfg.Logger = logger
	client := hyakanime.NewClient(clientCfg, func(ctx context.Context) (string, error) {
		tok, err := authStore.Token()
		if errors.Is(err, auth.ErrNoToken) {
			return "", nil
		}
		return tok, err
	})

	userSettings, err := settings.New(cfg.Settings.Path, logger)
	if err != nil {
		return nil, err
	}

	links := linkcache.New(db)
	hist := history.NewService(db)
	res := resolver.New(client, logger)
	writer := progression.NewWriter(client, logger)
	commits := commit.New(authStore, links, res, writer, hist, logger)

	return &services{
		auth:     authStore,
		client:   client,
		resolver: res,
		links:    links,
		history:  hist,
		writer:   writer,
		commits:  commits,
		settings: userSettings,
	}, nil
}

func markerConfig() automark.Config {
	mc := automark.DefaultConfig()
	if cfg.AutoMark.RemainingThresholdSec > 0 {
		mc.RemainingThresholdSec = cfg.AutoMark.RemainingThresholdSec
	}
	if cfg.AutoMark.EndPercent > 0 {
		mc.EndPercent = cfg.AutoMark.EndPercent
	}
	if cfg.AutoMark.MinWatchSecondsFloor > 0 {
		mc.MinWatchSecondsFloor = cfg.AutoMark.MinWatchSecondsFloor
	}
	if cfg.AutoMark.MinWatchPercent > 0 {
		mc.MinWatchPercent = cfg.AutoMark.MinWatchPercent
	}
	if cfg.AutoMark.MaxCountableDeltaSec > 0 {
		mc.MaxCountableDeltaSec = cfg.AutoMark.MaxCountableDeltaSec
	}
	if cfg.AutoMark.ReportEverySec > 0 {
		mc.ReportEverySec = cfg.AutoMark.ReportEverySec
	}
	return mc
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local tracking API",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.settings.Close()

		srv := server.NewServer(server.Options{
			Logger:    logger,
			Sessions:  session.NewStore(),
			Commits:   svc.commits,
			Resolver:  svc.resolver,
			Search:    svc.client,
			History:   svc.history,
			Links:     svc.links,
			Auth:      svc.auth,
			Settings:  svc.settings,
			MarkerCfg: markerConfig(),
		})

		httpServer := &http.Server{
			Addr:              cfg.Server.Listen,
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("listening", "addr", cfg.Server.Listen)
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	},
}

var (
	resolveSeason int
	resolveLimit  int
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <title>",
	Short: "Resolve a stream title to a catalog anime",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.settings.Close()

		res, err := svc.resolver.Resolve(cmd.Context(), resolver.Request{
			Title:  args[0],
			Season: resolveSeason,
			Limit:  resolveLimit,
		})
		if err != nil {
			return err
		}

		for _, attempt := range res.Tried {
			status := fmt.Sprintf("%d hits", attempt.Hits)
			if attempt.Err != nil {
				status = "error: " + attempt.Err.Error()
			}
			fmt.Printf("query %q: %s\n", attempt.Query, status)
		}

		if res.Found == nil {
			fmt.Println("no match")
			return nil
		}

		for i, r := range res.Ranked {
			marker := " "
			if r.Perfect {
				marker = "*"
			}
			fmt.Printf("%s %d. [%d] %s (score %.2f, matched on %q)\n",
				marker, i+1, r.Entry.ID, r.Entry.DisplayTitle, r.Score, r.MatchedOn)
		}
		return nil
	},
}

var (
	markSeason  int
	markEpisode int
)

var markCmd = &cobra.Command{
	Use:   "mark <title>",
	Short: "Mark an episode as watched",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if markEpisode <= 0 {
			return fmt.Errorf("--episode is required and must be positive")
		}

		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.settings.Close()

		res, err := svc.commits.Commit(cmd.Context(), commit.Request{
			Context: session.Context{Title: args[0], Season: markSeason, Episode: markEpisode},
			Episode: markEpisode,
		})
		if err != nil {
			return err
		}

		if res.Skipped {
			fmt.Printf("already up to date: anime %d is at episode %d (wanted %d)\n",
				res.AnimeID, res.Known, res.Wanted)
			return nil
		}
		fmt.Printf("marked anime %d at episode %d\n", res.AnimeID, res.Progression)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and undo recent progression changes",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent progression changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.settings.Close()

		entries, err := svc.history.List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no history")
			return nil
		}

		for i, e := range entries {
			old := "none"
			if e.OldEpisode != nil {
				old = fmt.Sprintf("%d", *e.OldEpisode)
			}
			fmt.Printf("%d. anime %d: %s -> %d (%s)\n",
				i, e.AnimeID, old, e.NewEpisode, humanize.Time(e.Date))
		}
		return nil
	},
}

var historyUndoCmd = &cobra.Command{
	Use:   "undo <index>",
	Short: "Undo the progression change at a history index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var index int
		if _, err := fmt.Sscanf(args[0], "%d", &index); err != nil {
			return fmt.Errorf("invalid index %q", args[0])
		}

		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.settings.Close()

		if err := svc.commits.Undo(cmd.Context(), index); err != nil {
			return err
		}
		fmt.Println("undone")
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the Hyakanime token",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <jwt>",
	Short: "Store the Hyakanime bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.settings.Close()

		uid, err := svc.auth.SetToken(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("token stored for user %s\n", uid)
		return nil
	},
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.settings.Close()
		return svc.auth.Clear()
	},
}

var linksFilter string

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "Inspect cached title-to-anime mappings",
}

var linksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.settings.Close()

		entries, err := svc.links.Filter(linksFilter)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no cached mappings")
			return nil
		}

		for _, e := range entries {
			origin := "manual"
			if e.Auto {
				origin = fmt.Sprintf("auto (score %.2f via %q)", e.Score, e.MatchedOn)
			}
			fmt.Printf("%s -> anime %d, %s, updated %s\n",
				e.Key, e.AnimeID, origin, humanize.Time(e.UpdatedAt))
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().IntVar(&resolveSeason, "season", 0, "season hint")
	resolveCmd.Flags().IntVar(&resolveLimit, "limit", 0, "max candidates to show")

	markCmd.Flags().IntVar(&markSeason, "season", 0, "season hint")
	markCmd.Flags().IntVar(&markEpisode, "episode", 0, "episode number (required)")

	linksListCmd.Flags().StringVar(&linksFilter, "filter", "", "fuzzy filter on titles")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyUndoCmd)
	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenClearCmd)
	linksCmd.AddCommand(linksListCmd)
}
