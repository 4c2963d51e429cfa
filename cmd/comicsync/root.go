package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"github.com/johnstcn/comicsync/internal/catalog"
	"github.com/johnstcn/comicsync/internal/discover/comicskingdom"
	"github.com/johnstcn/comicsync/internal/fetch"
	"github.com/johnstcn/comicsync/internal/history"
	"github.com/johnstcn/comicsync/internal/session"
	"github.com/johnstcn/comicsync/internal/web"
	"github.com/johnstcn/comicsync/pkg/syncd"
)

func root() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "comicsync",
		Short: "Synchronize a webcomic catalog from multiple publishers",
	}
	rootCmd.AddCommand(syncCmd(), serveCmd(), authCheckCmd())
	return rootCmd
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a single catalog synchronization and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := syncd.NewConfig()
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))

			daemon, err := buildDaemon(cfg, log)
			if err != nil {
				return err
			}

			summary, err := daemon.RunOnce(cmd.Context())
			printSummary(cmd, summary)
			return err
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Synchronize periodically and serve the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := syncd.NewConfig()
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))

			daemon, err := buildDaemon(cfg, log)
			if err != nil {
				return err
			}
			go daemon.Run(context.Background())
			defer daemon.Stop()

			fe := web.New(web.Deps{
				Catalog: catalog.NewFileStore(cfg.CatalogFile, log),
				Syncer:  daemon,
				Logger:  log,
			})

			listenAddress := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
			log.Info("listen", "host", cfg.Host, "port", cfg.Port)
			return http.ListenAndServe(listenAddress, fe)
		},
	}
}

func authCheckCmd() *cobra.Command {
	var forceReauth bool
	cmd := &cobra.Command{
		Use:   "authcheck",
		Short: "Verify publisher credentials and session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := syncd.NewConfig()
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))

			if cfg.CKUsername == "" {
				return fmt.Errorf("no comicskingdom credentials configured")
			}

			sessionStore := session.NewFileStore(map[string]string{
				comicskingdom.Identity: cfg.CKCookieFile,
			}, log)
			sessions := session.NewManager(sessionStore, log)
			driver := &comicskingdom.LoginDriver{
				BaseURL:   cfg.CKBaseURL,
				UserAgent: cfg.UserAgent,
				Timeout:   time.Duration(cfg.FetchTimeoutSecs) * time.Second,
				Logger:    log,
			}
			creds := session.Credentials{
				Username: cfg.CKUsername,
				Password: cfg.CKPassword,
			}

			state, err := sessions.Ensure(cmd.Context(), comicskingdom.Identity, creds, driver, forceReauth || cfg.ForceReauth)
			if err != nil {
				return fmt.Errorf("check %s session: %w", comicskingdom.Identity, err)
			}

			out := cmd.OutOrStdout()
			if until, ok := state.ValidUntil(); ok {
				fmt.Fprintf(out, "%s: session ok, %d cookies, expires %s\n", comicskingdom.Identity, len(state.Cookies), humanize.Time(until))
			} else {
				fmt.Fprintf(out, "%s: session ok, %d cookies, no known expiry\n", comicskingdom.Identity, len(state.Cookies))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&forceReauth, "force-reauth", false, "discard any persisted session and log in again")
	return cmd
}

func buildDaemon(cfg syncd.Config, log *slog.Logger) (*syncd.Daemon, error) {
	catalogStore := catalog.NewFileStore(cfg.CatalogFile, log)
	sessionStore := session.NewFileStore(map[string]string{
		comicskingdom.Identity: cfg.CKCookieFile,
	}, log)
	sessions := session.NewManager(sessionStore, log)

	var histStore history.Store
	var backfiller *history.Backfiller
	if cfg.DSN != "" {
		conn, err := sqlx.Connect("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect to db: %w", err)
		}
		if err := history.EnsureSchema(conn); err != nil {
			return nil, fmt.Errorf("init history schema: %w", err)
		}
		histStore = history.NewPGStore(conn)
		backfiller = history.NewBackfiller(&history.BackfillerArgs{
			Fetcher: fetch.New(&fetch.Args{
				UserAgent: cfg.UserAgent,
				Retries:   cfg.FetchRetries,
				Logger:    log,
			}),
			Store:    histStore,
			MaxPages: cfg.BackfillMaxPages,
			Logger:   log,
		})
	} else {
		log.Info("no dsn configured, cadence analysis disabled")
	}

	return syncd.New(syncd.Deps{
		Config:     cfg,
		Catalog:    catalogStore,
		History:    histStore,
		Backfiller: backfiller,
		Archives:   syncd.DefaultArchives(cfg),
		Sources:    syncd.DefaultSources(cfg, sessions, log),
		Logger:     log,
	}), nil
}

func printSummary(cmd *cobra.Command, summary syncd.RunSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "started:  %s\n", summary.StartedAt.Format("2006-01-02 15:04:05"))
	for src, res := range summary.Sources {
		if res.Err != "" {
			fmt.Fprintf(out, "%s: seen %d, added %d, error: %s\n", src, res.Seen, res.Added, res.Err)
			continue
		}
		fmt.Fprintf(out, "%s: seen %d, added %d\n", src, res.Seen, res.Added)
	}
	fmt.Fprintf(out, "added %d, analyzed %d, finished %s\n", summary.Added, summary.Analyzed, humanize.Time(summary.EndedAt))
}
