package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"repo-advisor/internal/app"
	"repo-advisor/internal/config"
	"repo-advisor/internal/contextutil"
	"repo-advisor/internal/document"
	"repo-advisor/internal/indexer"
	"repo-advisor/internal/service"
	"repo-advisor/internal/workspace"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "advisor",
		Short:        "Suggest README improvements for a Git repository",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newAnalyzeCmd(), newChunkCmd(), newOutlineCmd())
	return rootCmd
}

func newAnalyzeCmd() *cobra.Command {
	var (
		localDir   bool
		jsonOutput bool
		k          int
		noProgress bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <repo-url>",
		Short: "Clone a repository and suggest README improvements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = contextutil.WithLogger(ctx, logger)

			interactive := !noProgress && !jsonOutput && progressEnabled()
			opts := app.Options{
				Observer:        newStagePrinter(cmd.ErrOrStderr(), interactive),
				AllowLocalRepos: true,
			}
			if localDir {
				opts.Source = workspace.NewDirSource(cfg.Pipeline.AllowedFiles)
			}
			a, err := app.New(cfg, opts)
			if err != nil {
				return err
			}
			defer func() {
				_ = a.Close()
			}()
			if interactive {
				a.Indexer.OnProgress(newEmbedProgress(cmd.ErrOrStderr()).Update)
			}

			resp, err := a.Service.Analyze(ctx, service.AnalyzeRequest{RepoURL: args[0], K: k})
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printAnalysis(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	cmd.Flags().BoolVar(&localDir, "dir", false, "Treat the argument as a local directory instead of a Git URL")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
	cmd.Flags().IntVar(&k, "k", 0, "Number of chunks to retrieve (0 uses RETRIEVAL_K)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress output")
	return cmd
}

func newChunkCmd() *cobra.Command {
	var size, overlap int

	cmd := &cobra.Command{
		Use:   "chunk <file>",
		Short: "Show how a file is split into chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chunker, err := indexer.NewRecursiveChunker(size, overlap)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			chunks := chunker.SplitDocument(document.New(args[0], string(data)))
			printChunks(cmd.OutOrStdout(), chunks)
			return nil
		},
	}

	defaults := config.DefaultPipelineConfig()
	cmd.Flags().IntVar(&size, "size", defaults.ChunkSize, "Maximum chunk size in characters")
	cmd.Flags().IntVar(&overlap, "overlap", defaults.ChunkOverlap, "Characters shared by consecutive chunks")
	return cmd
}

func newOutlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outline <file.md>",
		Short: "Print the title and heading outline of a markdown file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			outline := indexer.NewOutlineParser().Parse(data, args[0])
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Title: %s\n", outline.Title)
			for _, h := range outline.Headings {
				_, _ = fmt.Fprintf(out, "%s%s\n", strings.Repeat("  ", h.Level-1), h.Text)
			}
			return nil
		},
	}
}

func printChunks(w io.Writer, chunks []document.Chunk) {
	for _, c := range chunks {
		preview := strings.ReplaceAll(c.Text, "\n", `\n`)
		if r := []rune(preview); len(r) > 60 {
			preview = string(r[:60]) + "..."
		}
		_, _ = fmt.Fprintf(w, "#%d [%d:%d] %d chars  %s\n", c.Index, c.Start, c.End(), c.Length, preview)
	}
	_, _ = fmt.Fprintf(w, "%d chunks\n", len(chunks))
}

func printAnalysis(w io.Writer, resp service.AnalyzeResponse) {
	p := func(format string, args ...any) {
		_, _ = fmt.Fprintf(w, format, args...)
	}

	p("Repository: %s\n\n", resp.RepoURL)
	p("Title:   %s\n", resp.Title)
	p("Summary: %s\n\n", resp.Summary)

	p("Suggested edits:\n")
	for i, edit := range resp.Edits {
		p("  %d. %s\n", i+1, edit)
	}

	meta := resp.Metadata
	p("\nMetadata:\n")
	if meta.Description != "" {
		p("  Description: %s\n", meta.Description)
	}
	if len(meta.Keywords) > 0 {
		p("  Keywords:    %s\n", strings.Join(meta.Keywords, ", "))
	}
	if len(meta.Topics) > 0 {
		p("  Topics:      %s\n", strings.Join(meta.Topics, ", "))
	}
	if meta.Audience != "" {
		p("  Audience:    %s\n", meta.Audience)
	}
	if len(meta.MissingSections) > 0 {
		p("  Missing:     %s\n", strings.Join(meta.MissingSections, ", "))
	}

	if len(resp.References) > 0 {
		p("\nContext used:\n")
		for _, ref := range resp.References {
			p("  %s#%d (score %.3f)\n", ref.Path, ref.ChunkIndex, ref.Score)
		}
	}

	s := resp.Stats
	p("\nIndexed %d chunks from %d files (dim %d, tokens min %d / mean %.0f / p95 %d / max %d) in %dms\n",
		s.ChunksEmbedded, s.DocsProcessed, s.Dimension,
		s.ChunkTokenStats.Min, s.ChunkTokenStats.Mean, s.ChunkTokenStats.P95, s.ChunkTokenStats.Max,
		resp.DurationMS)
}
