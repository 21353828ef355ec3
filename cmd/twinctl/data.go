package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/opensource-finance/credittwin/internal/ingest"
	"github.com/opensource-finance/credittwin/internal/storage"
	"github.com/spf13/cobra"
)

func ingestCmd() *cobra.Command {
	var (
		format  string
		mapping string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "ingest [csv]",
		Short: "Import historical loans from a CSV file",
		Long: `Import historical loans into the corpus and the neighbour index.

Formats:
  mapped    generic CSV read through a column mapping (default)
  accepted  LendingClub accepted-loans export
  rejected  LendingClub rejected-applications export
  export    a file written by "twinctl export"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			loaded, err := loadCSV(f, format, mapping, limit)
			if err != nil {
				return err
			}
			if format != "export" {
				ingest.DeriveFlags(loaded.Cases)
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.corpus.Import(cmd.Context(), loaded.Cases)
			if err != nil {
				return err
			}
			res.Skipped = loaded.Skipped
			return render(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "mapped", "Input format (mapped, accepted, rejected, export)")
	cmd.Flags().StringVarP(&mapping, "mapping", "m", "", "Column mapping file (JSON or YAML)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum rows to read for LendingClub files")

	return cmd
}

func loadCSV(r io.Reader, format, mappingPath string, limit int) (*ingest.LoadResult, error) {
	switch format {
	case "accepted":
		return ingest.LoadAccepted(r, limit)
	case "rejected":
		return ingest.LoadRejected(r, limit)
	case "export":
		return ingest.LoadExport(r)
	case "mapped", "":
		m := ingest.DefaultMapping()
		if mappingPath != "" {
			if err := decodeFile(mappingPath, &m); err != nil {
				return nil, fmt.Errorf("failed to read mapping: %w", err)
			}
		}
		return ingest.LoadMapped(r, m)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show corpus statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := e.corpus.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), stats)
		},
	}
}

func resetCmd() *cobra.Command {
	var (
		count int
		seed  int64
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Replace the corpus with synthetic loans",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			corpus := e.corpus
			if seed != 0 {
				corpus = ingest.NewService(e.repo, e.index,
					ingest.WithBatchSize(e.cfg.Index.BatchSize),
					ingest.WithSeed(seed),
				)
			}
			res, err := corpus.Reset(cmd.Context(), count)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", ingest.DefaultSyntheticCount, "Number of synthetic loans")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Generator seed (0 picks one)")

	return cmd
}

func clearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every case and drop the index collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the corpus without --yes")
			}
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.corpus.Clear(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), map[string]int{"deleted_count": n})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")

	return cmd
}

func exportCmd() *cobra.Command {
	var (
		out     string
		archive bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the corpus as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			var buf bytes.Buffer
			n, err := e.corpus.Export(cmd.Context(), &buf)
			if err != nil {
				return err
			}

			if archive {
				return archiveExport(cmd.Context(), e, &buf, n, cmd.OutOrStdout())
			}
			if out == "" || out == "-" {
				_, err = io.Copy(cmd.OutOrStdout(), &buf)
				return err
			}
			if err := os.WriteFile(out, buf.Bytes(), 0644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d records to %s\n", n, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Output file (stdout when empty)")
	cmd.Flags().BoolVar(&archive, "archive", false, "Upload to the configured archive storage instead")

	return cmd
}

func archiveExport(ctx context.Context, e *env, data io.Reader, n int, w io.Writer) error {
	store, err := storage.New(ctx, e.cfg.Storage)
	if err != nil {
		return err
	}
	key := storage.ArchiveKey(time.Now())
	location, err := store.Upload(ctx, key, data)
	if err != nil {
		return err
	}
	return render(w, map[string]any{
		"key":          key,
		"location":     location,
		"record_count": n,
	})
}
