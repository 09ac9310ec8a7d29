package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/justchokingaround/ciphertv/internal/clipboard"
	"github.com/justchokingaround/ciphertv/internal/config"
	"github.com/justchokingaround/ciphertv/internal/database"
	"github.com/justchokingaround/ciphertv/internal/player"
	"github.com/justchokingaround/ciphertv/internal/player/hls"
	"github.com/justchokingaround/ciphertv/internal/player/mpv"
	"github.com/justchokingaround/ciphertv/internal/tui"
	"github.com/justchokingaround/ciphertv/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [anime-id] [episode-id]",
	Short: "Watch an episode, or pick one from history",
	Long: `Resolve the episode's sources, proxy them and play the best quality in mpv.
Without arguments the history view opens so a previous episode can be resumed.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("expected <anime-id> <episode-id> or no arguments")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshot := *currentConfig()
		c := &snapshot
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var animeID, episodeID string
		if len(args) == 2 {
			animeID, episodeID = args[0], args[1]
		}
		if fallback, _ := cmd.Flags().GetString("fallback"); fallback != "" {
			c.Playback.FallbackURL = fallback
		}

		rewriter := newRewriter(c)
		output, err := mpv.New(mpv.Options{
			Player: c.Player,
			Stream: c.Stream,
			Debug:  c.Playback.Debug,
		}, config.Component(logger, "mpv"))
		if err != nil {
			return err
		}
		if err := output.Start(ctx); err != nil {
			return fmt.Errorf("failed to start mpv: %w", err)
		}
		defer output.Close()

		engine := player.NewEngine(player.EngineConfig{
			Media: output,
			Proxy: rewriter,
			NewClient: hls.Factory(hls.Options{
				HTTP:     newHTTPClient(c),
				Fs:       afero.NewOsFs(),
				SpoolDir: c.Stream.SpoolDir,
			}),
			Stream: player.ClientConfig{
				RetryDelay:    c.Stream.RetryDelay,
				MaxRetryDelay: c.Stream.MaxRetryDelay,
				Debug:         c.Playback.Debug,
				Logger:        logger,
			},
			NetworkRetryLimit: c.Playback.NetworkRetryLimit,
			Logger:            config.Component(logger, "player"),
		})
		engineCtx, cancelEngine := context.WithCancel(ctx)
		engineDone := make(chan struct{})
		go func() {
			defer close(engineDone)
			_ = engine.Run(engineCtx)
		}()
		defer func() {
			cancelEngine()
			<-engineDone
		}()

		var recorder watch.Recorder
		db, hist, err := openHistory(c)
		if err != nil {
			logger.Warn("watch history disabled", "error", err)
		} else {
			defer database.Close(db)
			recorder = hist
			restoreVolume(ctx, db, output)
		}

		bridge := &tui.Bridge{}
		ctl := watch.New(watch.Config{
			Catalog:      newCatalog(c),
			Player:       engine,
			Proxy:        rewriter,
			History:      recorder,
			SiteURL:      c.API.SiteURL,
			FallbackURL:  c.Playback.FallbackURL,
			SubtitleLang: c.Playback.SubtitleLanguage,
			AutoPlay:     c.Playback.AutoPlay,
			Debug:        c.Playback.Debug,
			Logger:       logger,
			OnError:      bridge.Error,
			OnNotice:     bridge.Notice,
			OnEnded:      bridge.Ended,
		})
		reloadHooks = append(reloadHooks, func(r *config.Config) {
			ctl.Reconfigure(r.Playback.FallbackURL, r.Playback.SubtitleLanguage, r.Playback.AutoPlay, r.Playback.Debug)
		})

		opts := tui.Options{
			Context:    ctx,
			Engine:     engine,
			Controller: ctl,
			Copier:     clipboard.NewService(logger, c.Advanced.ClipboardCommand),
			Provider:   c.API.Provider,
			AnimeID:    animeID,
			EpisodeID:  episodeID,
			OnQuit:     ctl.Finish,
		}
		if hist != nil {
			opts.History = hist
		}

		logger.Info("ciphertv starting", "version", version, "anime", animeID, "episode", episodeID)
		err = tui.Run(ctx, opts, bridge, engine)
		ctl.Finish()
		if volume := output.Volume(); db != nil && volume > 0 {
			saveVolume(db, volume)
		}
		return err
	},
}

func init() {
	watchCmd.Flags().String("fallback", "", "backup stream URL used when the episode cannot be played (overrides config)")
}
