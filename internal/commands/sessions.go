package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"bindery/internal/store"
)

func addSessions(topLevel *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and purge book sessions.",
	}

	cmd.AddCommand(newSessionsListCommand(), newSessionsPurgeCommand())
	topLevel.AddCommand(cmd)
}

func newSessionsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every book session with its article count.",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			sessions, err := store.ListSessions(cmd.Context(), db)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
				return nil
			}

			bold := color.New(color.Bold).SprintFunc()
			tbl := uitable.New()
			tbl.Separator = "  "
			tbl.AddRow(bold("ID"), bold("STATE"), bold("ARTICLES"), bold("UPDATED"))
			for _, session := range sessions {
				state := "stopped"
				if session.Enabled {
					state = "active"
				}
				tbl.AddRow(session.ID, state, strconv.Itoa(session.Articles), humanize.Time(session.UpdatedAt))
			}
			fmt.Fprintln(color.Output, tbl)
			return nil
		},
	}
}

func newSessionsPurgeCommand() *cobra.Command {
	var idleFor time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete sessions idle longer than the session TTL.",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cfg, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			ttl := idleFor
			if ttl <= 0 {
				ttl = cfg.SessionTTL
			}

			purged, err := store.DeleteSessionsIdleSince(db, time.Now().Add(-ttl))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d sessions idle for more than %s.\n", purged, ttl)
			return nil
		},
	}

	cmd.Flags().DurationVar(&idleFor, "idle-for", 0, "override the idle cutoff (defaults to session-ttl)")
	return cmd
}
