package mcp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"bindery/internal/config"
)

// Transport selects the mechanism used to expose the MCP server.
type Transport string

const (
	// TransportStdio serves MCP over stdio.
	TransportStdio Transport = "stdio"
	// TransportHTTP serves MCP via the streamable HTTP transport.
	TransportHTTP Transport = "http"
)

// Runner coordinates MCP server startup.
type Runner struct {
	DB      *sql.DB
	Config  *config.Config
	Version string

	Transport        Transport
	HTTPListenAddr   string
	HTTPEndpointPath string
	OnHTTPListening  func(net.Addr)
}

// Do builds the MCP server and serves it on the chosen transport.
func (r Runner) Do(ctx context.Context) error {
	if r.DB == nil {
		return errors.New("mcp runner requires an open store")
	}
	if r.Config == nil {
		return errors.New("mcp runner requires a config")
	}

	version := r.Version
	if version == "" {
		version = "dev"
	}

	srv := server.NewMCPServer(
		"bindery",
		version,
		server.WithToolCapabilities(false),
		server.WithInstructions("Inspect and edit wiki book sessions, look up the page snapshot, and list suggested pages."),
		server.WithRecovery(),
	)

	svc := NewService(r.DB, r.Config)
	registerTools(srv, svc)

	switch t := r.Transport; t {
	case "", TransportStdio:
		return server.ServeStdio(srv)
	case TransportHTTP:
		return r.serveHTTP(ctx, srv)
	default:
		return fmt.Errorf("unknown MCP transport %q", t)
	}
}

func (r Runner) serveHTTP(ctx context.Context, srv *server.MCPServer) error {
	handler := server.NewStreamableHTTPServer(srv)

	path := r.HTTPEndpointPath
	if path == "" {
		path = "/mcp"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	listenAddr := r.HTTPListenAddr
	if listenAddr == "" {
		listenAddr = "127.0.0.1:8149"
	}

	mux := http.NewServeMux()
	mux.Handle(path, handler)

	httpSrv := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}

	if r.OnHTTPListening != nil {
		r.OnHTTPListening(ln.Addr())
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	err = httpSrv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
