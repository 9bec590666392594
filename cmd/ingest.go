package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"rag-portal/internal/chromemdb"
	"rag-portal/internal/parser"
	"rag-portal/internal/watcher"
)

// exportDefault is the --export value used when the flag has no path.
const exportDefault = "default"

var (
	ingestWatch   string
	ingestReindex bool
	ingestMode    string
	ingestExport  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Build the embedding index of a document",
	Long: `Parses the document, embeds its chunks and stores them in the vector
store. An existing index with the same fingerprint is reused unless
--reindex is given. With --watch every document settling in the directory
is indexed until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestWatch, "watch", "", "index documents written to this directory")
	ingestCmd.Flags().BoolVar(&ingestReindex, "reindex", false, "drop and rebuild an existing index")
	ingestCmd.Flags().StringVar(&ingestMode, "mode", "", "loader mode: page, split or shred (default rag.loader_mode)")
	ingestCmd.Flags().StringVar(&ingestExport, "export", "", "export the chromem collection; --export=path picks the file")
	ingestCmd.Flags().Lookup("export").NoOptDefVal = exportDefault
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := validateMode(ingestMode); err != nil {
		return err
	}
	ctx := cmd.Context()
	r, store, closeFn, err := openRAG(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	index := func(path string) (string, error) {
		if ingestReindex {
			return r.Reindex(ctx, path, ingestMode)
		}
		return r.Index(ctx, path, ingestMode)
	}

	if ingestWatch != "" {
		log.Info().Str("dir", ingestWatch).Msg("Watching for documents")
		return watcher.Watch(ctx, ingestWatch, parser.Extensions, func(path string) error {
			fp, err := index(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", filepath.Base(path), fp)
			return nil
		})
	}

	path, err := documentArg(args)
	if err != nil {
		return err
	}
	fp, err := index(path)
	if err != nil {
		return fmt.Errorf("index %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", filepath.Base(path), fp)

	if ingestExport != "" {
		cs, ok := store.(*chromemdb.Store)
		if !ok {
			return fmt.Errorf("export needs the %s backend", backendChromem)
		}
		dst := ingestExport
		if dst == exportDefault {
			dst = ""
		}
		written, err := cs.Export(fp, dst)
		if err != nil {
			return fmt.Errorf("export index: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %s\n", written)
	}
	return nil
}

// documentArg falls back to rag.document_path.
func documentArg(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if cfg.RAG.DocumentPath != "" {
		return cfg.RAG.DocumentPath, nil
	}
	return "", errors.New("no document given and rag.document_path is not set")
}

func validateMode(mode string) error {
	switch mode {
	case "", parser.ModePage, parser.ModeSplit, parser.ModeShred:
		return nil
	default:
		return fmt.Errorf("unknown loader mode %q", mode)
	}
}
