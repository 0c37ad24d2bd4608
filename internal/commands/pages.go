package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"bindery/internal/store"
	"bindery/internal/wiki"
)

func addPages(topLevel *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "pages",
		Short: "Inspect and seed the wiki page snapshot.",
	}

	cmd.AddCommand(newPagesListCommand(), newPagesImportCommand())
	topLevel.AddCommand(cmd)
}

func newPagesListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pages known to the snapshot.",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			total, err := store.CountPages(cmd.Context(), db)
			if err != nil {
				return err
			}
			pages, err := store.ListPages(cmd.Context(), db, limit)
			if err != nil {
				return err
			}

			bold := color.New(color.Bold).SprintFunc()
			tbl := uitable.New()
			tbl.Separator = "  "
			tbl.MaxColWidth = 60
			tbl.AddRow(bold("TITLE"), bold("REVISION"), bold("CATEGORIES"), bold("UPDATED"))
			for _, page := range pages {
				categories, err := store.ListPageCategories(cmd.Context(), db, page.Namespace, page.Title)
				if err != nil {
					return err
				}
				full := wiki.Page{Namespace: page.Namespace, Title: page.Title}.FullTitle()
				tbl.AddRow(full, strconv.FormatInt(page.LatestRevID, 10), strings.Join(categories, ", "), humanize.Time(page.UpdatedAt))
			}
			fmt.Fprintln(color.Output, tbl)
			if total > len(pages) {
				fmt.Fprintf(cmd.OutOrStdout(), "Showing %d of %d pages.\n", len(pages), total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of pages to show")
	return cmd
}

// pageImportRecord mirrors the upsert rows of the admin sync payload,
// so a snapshot dump can be replayed from a file.
type pageImportRecord struct {
	Namespace   int      `json:"namespace"`
	Title       string   `json:"title"`
	LatestRevID int64    `json:"latest_rev_id"`
	Categories  []string `json:"categories"`
}

func newPagesImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <json-file>",
		Short: "Seed the page snapshot from a JSON dump.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var records []pageImportRecord
			if err := json.Unmarshal(raw, &records); err != nil {
				return fmt.Errorf("decode page dump: %w", err)
			}

			db, _, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			imported := 0
			for _, record := range records {
				title := wiki.NormalizeTitle(record.Title)
				if title == "" {
					continue
				}
				categories := make([]string, 0, len(record.Categories))
				for _, category := range record.Categories {
					if normalized := wiki.NormalizeTitle(category); normalized != "" {
						categories = append(categories, normalized)
					}
				}
				err := store.UpsertPage(cmd.Context(), db, store.PageRecord{
					Namespace:   record.Namespace,
					Title:       title,
					LatestRevID: record.LatestRevID,
					Categories:  categories,
				})
				if err != nil {
					return fmt.Errorf("import %q: %w", title, err)
				}
				imported++
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d pages.\n", imported)
			return nil
		},
	}
}
