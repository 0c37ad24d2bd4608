package commands

import (
	"fmt"
	"net"
	"strings"

	"github.com/spf13/cobra"

	"bindery/internal/mcp"
)

func addMCP(topLevel *cobra.Command) {
	var (
		transport string
		httpAddr  string
		httpPath  string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the Model Context Protocol server.",
		Long: `Launch an MCP server that exposes book sessions, the page snapshot,
and feed suggestions through the Model Context Protocol.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cfg, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			runner := mcp.Runner{
				DB:               db,
				Config:           cfg,
				Version:          version,
				HTTPListenAddr:   httpAddr,
				HTTPEndpointPath: httpPath,
				OnHTTPListening: func(addr net.Addr) {
					fmt.Fprintf(cmd.OutOrStdout(), "MCP HTTP server listening on %s%s\n", addr, httpPath)
				},
			}

			switch strings.ToLower(strings.TrimSpace(transport)) {
			case "", string(mcp.TransportStdio):
				runner.Transport = mcp.TransportStdio
			case string(mcp.TransportHTTP):
				runner.Transport = mcp.TransportHTTP
			default:
				return fmt.Errorf("unknown MCP transport %q", transport)
			}

			return runner.Do(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "transport to serve on: stdio or http")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "127.0.0.1:8149", "listen address for the http transport")
	cmd.Flags().StringVar(&httpPath, "http-path", "/mcp", "endpoint path for the http transport")

	topLevel.AddCommand(cmd)
}
