package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage sessions in the local database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE:  runSessionsList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create an empty session",
		Args:  cobra.NoArgs,
		RunE:  runSessionsCreate,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and everything stored for it",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsDelete,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "history <session-id>",
		Short: "Print a session's chat history",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsHistory,
	})

	RootCmd.AddCommand(cmd)
}

type sessionOut struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	sessions, err := a.Sessions.List(cmd.Context())
	if err != nil {
		return err
	}
	out := make([]sessionOut, len(sessions))
	for i, s := range sessions {
		out[i] = sessionOut{ID: s.ID, Name: s.Name(), CreatedAt: s.CreatedAt.Format("2006-01-02 15:04:05")}
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func runSessionsCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	id, err := a.Sessions.Create(cmd.Context())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
	return err
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}

	if err := a.Sessions.Delete(cmd.Context(), args[0]); err != nil {
		a.Close(context.Background())
		return err
	}
	// Close waits for the background cleanup.
	if err := a.Close(context.Background()); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return err
}

func runSessionsHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	history, err := a.Sessions.History(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), history)
}
