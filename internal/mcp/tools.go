package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerTools(srv *server.MCPServer, svc *Service) {
	registerShowBookTool(srv, svc)
	registerFindPageTool(srv, svc)
	registerAddArticleTool(srv, svc)
	registerSuggestPagesTool(srv, svc)
}

func registerShowBookTool(srv *server.MCPServer, svc *Service) {
	tool := mcp.NewTool(
		"show_book",
		mcp.WithDescription("Show the ordered members of a book session."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Id of the book session, as carried by the bindery_session cookie."),
		),
	)

	srv.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := request.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		book, err := svc.ShowBook(ctx, sessionID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return toJSONResult(book)
	})
}

func registerFindPageTool(srv *server.MCPServer, svc *Service) {
	tool := mcp.NewTool(
		"find_page",
		mcp.WithDescription("Look up a wiki page in the snapshot by its full title."),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Full page title, e.g. Falcon or Category:Birds."),
		),
	)

	srv.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := request.RequireString("title")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		page, err := svc.FindPage(ctx, title)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return toJSONResult(page)
	})
}

func registerAddArticleTool(srv *server.MCPServer, svc *Service) {
	tool := mcp.NewTool(
		"add_article",
		mcp.WithDescription("Add a wiki page to a book session and return the updated book."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Id of the book session to mutate."),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Full title of the page to add."),
		),
		mcp.WithNumber("revision_id",
			mcp.Description("Optional revision id to pin. Zero or the latest revision keeps the page unpinned."),
		),
	)

	srv.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			SessionID  string  `json:"session_id"`
			Title      string  `json:"title"`
			RevisionID float64 `json:"revision_id"`
		}

		if err := request.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		book, err := svc.AddArticle(ctx, args.SessionID, args.Title, int64(args.RevisionID))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return toJSONResult(book)
	})
}

func registerSuggestPagesTool(srv *server.MCPServer, svc *Service) {
	tool := mcp.NewTool(
		"suggest_pages",
		mcp.WithDescription("List recently changed pages worth adding to the book, excluding current members and banned titles."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Id of the book session the suggestions are for."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of suggestions to return, default 20."),
		),
	)

	srv.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			SessionID string  `json:"session_id"`
			Limit     float64 `json:"limit"`
		}

		if err := request.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		proposals, err := svc.SuggestPages(ctx, args.SessionID, int(args.Limit))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return toJSONResult(proposals)
	})
}

func toJSONResult(data any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return result, nil
}
