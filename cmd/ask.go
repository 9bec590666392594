package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rag-portal/internal/chromemdb"
	"rag-portal/internal/helper"
	"rag-portal/internal/rag"
)

var (
	askFile   string
	askMode   string
	askJSON   bool
	askImport string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question about a document",
	Long: `Indexes the document when needed, retrieves the best matching chunks
and prints the model's answer followed by the pages it was drawn from.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askFile, "file", "f", "", "document to ask about (default rag.document_path)")
	askCmd.Flags().StringVar(&askMode, "mode", "", "loader mode: page, split or shred (default rag.loader_mode)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the answer and sources as JSON")
	askCmd.Flags().StringVar(&askImport, "import", "", "import an exported chromem collection first")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	if err := validateMode(askMode); err != nil {
		return err
	}
	path, err := documentArg([]string{askFile})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	r, store, closeFn, err := openRAG(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if askImport != "" {
		cs, ok := store.(*chromemdb.Store)
		if !ok {
			return fmt.Errorf("import needs the %s backend", backendChromem)
		}
		if err := cs.Import(askImport); err != nil {
			return fmt.Errorf("import index: %w", err)
		}
	}

	resp, err := r.Query(ctx, rag.Request{
		FilePath: path,
		Question: strings.Join(args, " "),
		Mode:     askMode,
	})
	if err != nil {
		return err
	}

	if askJSON {
		helper.PrettyPrint(cmd.OutOrStdout(), resp)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), rag.FormatAnswer(resp))
	return nil
}
