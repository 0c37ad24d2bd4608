package commands

import (
	"database/sql"
	"time"

	"github.com/spf13/cobra"

	"bindery/internal/config"
	"bindery/internal/store"
)

// New builds the bindery root command with all subcommands attached.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bindery",
		Short:         "Book creator companion service for a MediaWiki-style host.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	registerConfigFlags(cmd)
	AddCommands(cmd)
	return cmd
}

// AddCommands attaches every subcommand to the root.
func AddCommands(topLevel *cobra.Command) {
	addServe(topLevel)
	addSessions(topLevel)
	addPages(topLevel)
	addMCP(topLevel)
	addVersion(topLevel)
}

// registerConfigFlags declares one persistent flag per config key, so
// every subcommand accepts the same overrides. Defaults shown here
// match the config package; flags sit above environment and file
// values in precedence.
func registerConfigFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.String("config", "", "config file (default $HOME/.bindery.yaml)")
	flags.String("listen-addr", ":8139", "HTTP listen address")
	flags.String("db-path", "bindery.db", "path to the sqlite database")
	flags.String("templates-dir", "templates", "directory holding the HTML templates")
	flags.String("static-dir", "static", "directory holding the static assets")

	flags.String("wiki-base-url", "", "base URL of the host wiki, e.g. https://wiki.example.org")
	flags.String("article-path", "/wiki/", "pretty article path on the host wiki")
	flags.String("script-path", "/index.php", "script entry point on the host wiki")

	flags.String("book-page-path", "/book", "path the book page is served under")
	flags.String("book-page-title", "Special:Book", "wiki title that maps onto the book page")
	flags.String("help-page", "Help:Books", "wiki title of the book creator help page")
	flags.IntSlice("collectible-namespaces", []int{0}, "namespaces whose pages can be collected")
	flags.StringToString("export-formats", map[string]string{"rl": "PDF"}, "writer keys and their display labels")
	flags.StringSlice("sidebar-formats", []string{"rl"}, "writers offered as sidebar download links")
	flags.Bool("portlet-requires-login", false, "hide book creator sidebar links from anonymous visitors")
	flags.Bool("disable-sidebar-start-link", false, "omit the start link from the sidebar portlet")
	flags.Bool("suggestions-enabled", true, "enable the suggestion feed and suggest page")

	flags.String("recent-changes-feed-url", "", "RSS/Atom feed the suggestion loop polls")
	flags.String("render-service-url", "", "external render service the render command hands off to")
	flags.String("admin-token", "", "bearer token protecting the page sync endpoint")

	flags.Duration("session-ttl", 30*24*time.Hour, "idle time after which sessions are purged")
	flags.Bool("metrics", false, "expose prometheus metrics on /metrics")
}

// openDatabase loads the config from the command's flags and opens the
// sqlite store. The caller closes the returned handle.
func openDatabase(cmd *cobra.Command) (*sql.DB, *config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, cfg, nil
}
