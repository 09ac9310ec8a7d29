package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/justchokingaround/ciphertv/internal/config"
	"github.com/justchokingaround/ciphertv/internal/database"
	"github.com/justchokingaround/ciphertv/internal/sources"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources <episode-id>",
	Short: "Resolve and list the video sources of an episode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := currentConfig()
		res, err := newCatalog(c).Resolve(cmd.Context(), args[0])
		if err != nil && !errors.Is(err, sources.ErrNoSources) {
			return err
		}
		if res == nil || len(res.Sources) == 0 {
			fmt.Println("No sources found.")
			return nil
		}

		proxied, _ := cmd.Flags().GetBool("proxied")
		list := sources.SortByQuality(res.Sources)
		if proxied {
			list = sources.MapURLs(list, newRewriter(c).Rewrite)
		}

		fmt.Printf("Found %s sources:\n\n", humanize.Comma(int64(len(list))))
		for i, s := range list {
			kind := "mp4"
			if s.IsM3U8 {
				kind = "hls"
			}
			fmt.Printf("%d. %-6s %-4s %s\n", i+1, s.Quality, kind, s.URL)
		}

		if len(res.Subtitles) > 0 {
			fmt.Printf("\nSubtitles:\n")
			selected, _ := sources.SelectSubtitle(res.Subtitles, c.Playback.SubtitleLanguage)
			for _, sub := range res.Subtitles {
				marker := " "
				if sub.URL == selected.URL && sub.URL != "" {
					marker = "*"
				}
				fmt.Printf(" %s %-12s %s\n", marker, sub.Lang, sub.URL)
			}
		}
		if res.Headers != nil && res.Headers.Referer != "" {
			fmt.Printf("\nReferer: %s\n", res.Headers.Referer)
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the catalog by title",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		page, _ := cmd.Flags().GetInt("page")

		out, err := newCatalog(currentConfig()).Search(cmd.Context(), query, page)
		if err != nil {
			return err
		}
		results := sources.RankResults(query, out.Results)
		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		fmt.Printf("Found %d results:\n\n", len(results))
		for i, r := range results {
			fmt.Printf("%d. %s", i+1, r.Title.String())
			if r.ReleaseDate != "" {
				fmt.Printf(" (%s)", r.ReleaseDate)
			}
			fmt.Println()
			fmt.Printf("   ID: %s\n", r.ID)
			if r.Type != "" {
				fmt.Printf("   Type: %s\n", r.Type)
			}
			if r.TotalEpisodes > 0 {
				fmt.Printf("   Episodes: %d\n", r.TotalEpisodes)
			}
		}
		if out.HasNextPage {
			fmt.Printf("\nMore results: --page %d\n", out.CurrentPage+1)
		}
		return nil
	},
}

var proxyCmd = &cobra.Command{
	Use:   "proxy <url>...",
	Short: "Print URLs rewritten onto the configured CORS proxy",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rewriter := newRewriter(currentConfig())
		unwrap, _ := cmd.Flags().GetBool("unwrap")
		for _, raw := range args {
			if unwrap {
				fmt.Println(rewriter.Unwrap(raw))
				continue
			}
			fmt.Println(rewriter.Rewrite(raw))
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently watched episodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, svc, err := openHistory(currentConfig())
		if err != nil {
			return err
		}
		defer database.Close(db)

		if wipe, _ := cmd.Flags().GetBool("clear"); wipe {
			if err := svc.Clear(); err != nil {
				return err
			}
			fmt.Println("History cleared.")
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		items, err := svc.Recent(limit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No watch history yet.")
			return nil
		}

		for _, it := range items {
			progress := fmt.Sprintf("%.0f%%", it.ProgressPercent)
			if it.Completed {
				progress = "completed"
			}
			fmt.Printf("%-40s %-10s %-8s %s\n", it.AnimeTitle, progress, it.Quality, humanize.Time(it.WatchedAt))
			fmt.Printf("  ciphertv watch %s '%s'\n", it.AnimeID, it.EpisodeID)
		}

		stats, err := svc.GetStats()
		if err != nil {
			return err
		}
		fmt.Printf("\n%d entries, %d completed, %s watched\n",
			stats.TotalItems, stats.CompletedCount, stats.TotalWatchTime.Round(time.Second))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := cfgFile
		if configPath == "" {
			configPath = config.ConfigFile()
		}
		if err := config.WriteDefault(configPath); err != nil {
			return err
		}
		fmt.Printf("Default configuration generated successfully at: %s\n", configPath)
		fmt.Printf("You can now edit this file to customize ciphertv's settings.\n")
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Display configuration file path",
	Run: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			fmt.Println(cfgFile)
			return
		}
		path := config.ConfigFile()
		if _, err := os.Stat(path); err != nil {
			fmt.Printf("%s (not created yet, run 'ciphertv config init')\n", path)
			return
		}
		fmt.Println(path)
	},
}

func init() {
	sourcesCmd.Flags().Bool("proxied", false, "print the URLs as the player loads them")
	searchCmd.Flags().IntP("page", "p", 1, "result page")
	proxyCmd.Flags().Bool("unwrap", false, "recover the original URL from a proxied one")
	historyCmd.Flags().IntP("limit", "n", 20, "number of entries to show (0 for all)")
	historyCmd.Flags().Bool("clear", false, "delete every history entry")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}
