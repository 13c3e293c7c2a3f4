package cli

import (
	"context"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/recall/ingest"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a .txt or .md file into a new session",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	})
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	text, err := ingest.Extract(name, content)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	res, err := a.Ingest.Ingest(cmd.Context(), name, mime.TypeByExtension(filepath.Ext(name)), text)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}
