// Package server wires the HTTP surface of the book creator: the
// sidebar and notice fragments the host skin embeds, the book page
// with its command dispatch, outline import/export, and the admin
// page-snapshot sync.
package server

import (
	"context"
	"database/sql"
	"errors"
	"html/template"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"bindery/internal/collection"
	"bindery/internal/config"
	"bindery/internal/metrics"
	"bindery/internal/store"
	"bindery/internal/suggest"
	"bindery/internal/view"
	"bindery/internal/wiki"
)

const (
	cleanupInterval          = 10 * time.Minute
	maxOutlineUploadBytes    = 2 << 20
	maxAdminSyncBytes  int64 = 8 << 20
	suggestPageLimit         = 20
)

// App wires handlers, dependencies, and background loops for the HTTP
// server.
type App struct {
	db            *sql.DB
	tmpl          *template.Template
	cfg           *config.Config
	settings      view.Settings
	urls          wiki.URLBuilder
	manager       *collection.Manager
	refresher     *suggest.Refresher
	metrics       *metrics.Metrics
	staticHandler http.Handler
	refreshMu     sync.Mutex
}

// New constructs an App serving static files from cfg.StaticDir.
func New(db *sql.DB, tmpl *template.Template, cfg *config.Config) *App {
	urls := wiki.URLBuilder{
		Base:        cfg.WikiBaseURL,
		ArticlePath: cfg.ArticlePath,
		ScriptPath:  cfg.ScriptPath,
	}

	namespaces := make(map[int]bool, len(cfg.CollectibleNamespaces))
	for _, namespace := range cfg.CollectibleNamespaces {
		namespaces[namespace] = true
	}

	app := new(App)
	app.db = db
	app.tmpl = tmpl
	app.cfg = cfg
	app.settings = view.Settings{
		CollectibleNamespaces:   namespaces,
		SidebarFormats:          cfg.SidebarFormats,
		FormatLabels:            cfg.ExportFormats,
		PortletRequiresLogin:    cfg.PortletRequiresLogin,
		DisableSidebarStartLink: cfg.DisableSidebarStartLink,
		SuggestionsEnabled:      cfg.SuggestionsEnabled,
		BookPagePath:            cfg.BookPagePath,
		BookPageTitle:           cfg.BookPageTitle,
		HelpPage:                cfg.HelpPage,
		URLs:                    urls,
	}
	app.urls = urls
	app.manager = collection.NewManager(db)
	app.refresher = suggest.NewRefresher(db, cfg.RecentChangesFeedURL, cfg.WikiBaseURL)
	app.staticHandler = http.FileServer(http.Dir(cfg.StaticDir))

	if cfg.MetricsEnabled {
		app.metrics = metrics.New()
	}

	return app
}

// SetStaticFS replaces the static file system used for `/static/*`
// routes.
func (a *App) SetStaticFS(fsys fs.FS) {
	a.staticHandler = http.FileServer(http.FS(fsys))
}

// Routes builds the handler tree with the middleware chain applied.
func (a *App) Routes() http.Handler {
	mux := http.NewServeMux()

	a.registerCoreRoutes(mux)
	a.registerBookRoutes(mux)

	var handler http.Handler = mux

	return a.wrapRoutes(handler)
}

// StartBackgroundLoops starts the session cleanup and suggestion
// refresh goroutines.
func (a *App) StartBackgroundLoops() {
	go a.cleanupLoop()
	go a.refreshLoop()
}

func (a *App) registerCoreRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.Handle("GET /static/", http.StripPrefix("/static/", a.staticHandler))
	mux.HandleFunc("GET /{$}", a.handleIndex)
	mux.HandleFunc("GET /fragments/sidebar", a.handleSidebarFragment)
	mux.HandleFunc("GET /fragments/notice", a.handleNoticeFragment)
	mux.HandleFunc("POST /admin/pages", a.handleAdminPages)

	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}
}

func (a *App) registerBookRoutes(mux *http.ServeMux) {
	bookPath := a.settings.BookPagePath

	mux.HandleFunc("GET "+bookPath, a.handleBook)
	mux.HandleFunc("POST "+bookPath, a.handleBook)
	mux.HandleFunc("GET "+bookPath+"/export", a.handleExportOutline)
	mux.HandleFunc("POST "+bookPath+"/import", a.handleImportOutline)
}

func (a *App) wrapRoutes(handler http.Handler) http.Handler {
	handler = a.withRequestID(handler)
	handler = a.withRealIP(handler)
	handler = a.withSecurityHeaders(handler)
	handler = a.withSession(handler)

	return handler
}

func (*App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	_, err := w.Write([]byte("ok\n"))
	if err != nil {
		log.Printf("healthz write failed: %v", err)
	}
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, a.settings.BookPagePath, http.StatusFound)
}

func (a *App) renderTemplate(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	err := a.tmpl.ExecuteTemplate(w, name, data)
	if err != nil {
		log.Printf("template execute failed: %v", err)
		http.Error(w, "template error", http.StatusInternalServerError)

		return
	}
}

// loadSession resolves the request's session snapshot. Failures
// degrade to no session, matching the render contract where every
// error path collapses to the absent outcome.
func (a *App) loadSession(r *http.Request) *collection.Session {
	id := sessionIDFromRequest(r)
	if id == "" {
		return nil
	}

	session, err := a.manager.Load(r.Context(), id)
	if err != nil {
		slog.Error("session load failed", "session_id", id, "err", err)

		return nil
	}

	return session
}

// pageContext assembles the per-request render context for the given
// raw title, consulting the page snapshot for existence and latest
// revision. The book page is served by this app and counts as
// existing without a snapshot row.
func (a *App) pageContext(r *http.Request, rawTitle string) view.PageContext {
	full := wiki.NormalizeTitle(rawTitle)
	namespace, title := wiki.ParseFullTitle(full)
	page := wiki.Page{Namespace: namespace, Title: title}

	if full != "" && full == a.settings.BookPageTitle {
		page.Exists = true
	} else if title != "" {
		record, err := store.GetPage(r.Context(), a.db, namespace, title)
		if err == nil {
			page.Exists = true
			page.LatestRevID = record.LatestRevID
		} else if !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("page lookup failed", "title", full, "err", err)
		}
	}

	oldID := collection.NormalizeRevision(page, parseFormInt64(r, "oldid"))

	_, loggedIn := wikiUserFromRequest(r)

	return view.PageContext{
		Page:       page,
		Action:     strings.TrimSpace(r.FormValue("action")),
		OldID:      oldID,
		SubCommand: strings.TrimSpace(r.FormValue("bookcmd")),
		LoggedIn:   loggedIn,
		Printable:  isTruthyValue(r.FormValue("printable")),
	}
}

// commandPageContext is the pageContext variant for command requests,
// which identify the current page through arttitle or cattitle when
// no explicit title parameter rides along.
func (a *App) commandPageContext(r *http.Request) view.PageContext {
	raw := strings.TrimSpace(r.FormValue("title"))
	if raw == "" {
		raw = strings.TrimSpace(r.FormValue("arttitle"))
	}

	if raw == "" {
		category := strings.TrimSpace(r.FormValue("cattitle"))
		if category != "" {
			raw = wiki.NamespaceName(wiki.NamespaceCategory) + ":" + category
		}
	}

	return a.pageContext(r, raw)
}

func (a *App) commandHref(command string, args url.Values) string {
	return a.settings.CommandLink("", "", command, args).Href
}

// commandReturnTarget picks the post-command redirect: an explicit
// rooted path, a page title resolved against the host wiki, or the
// book page.
func (a *App) commandReturnTarget(r *http.Request) string {
	for _, key := range []string{"returnto", "referer", "arttitle"} {
		raw := strings.TrimSpace(r.FormValue(key))
		if raw == "" {
			continue
		}

		if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
			return raw
		}

		if raw == a.settings.BookPageTitle {
			return a.settings.BookPagePath
		}

		return a.urls.ArticleURL(raw)
	}

	return a.settings.BookPagePath
}

func (a *App) redirectAfterCommand(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, a.commandReturnTarget(r), http.StatusSeeOther)
}

func (a *App) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		a.runCleanupIteration()

		<-ticker.C
	}
}

func (a *App) runCleanupIteration() {
	cutoff := time.Now().UTC().Add(-a.cfg.SessionTTL)

	purged, err := store.DeleteSessionsIdleSince(a.db, cutoff)
	if err != nil {
		slog.Error("cleanup error", "err", err)

		return
	}

	if purged > 0 {
		slog.Info("cleanup purged idle sessions", "count", purged)
	}

	sessions, err := store.ListSessions(context.Background(), a.db)
	if err != nil {
		slog.Error("cleanup session count error", "err", err)

		return
	}

	active := 0
	for _, session := range sessions {
		if session.Enabled {
			active++
		}
	}

	a.metrics.SetActiveSessions(active)
}

func (a *App) refreshLoop() {
	ticker := time.NewTicker(suggest.RefreshLoopInterval)
	defer ticker.Stop()

	for {
		a.runRefreshIteration()

		<-ticker.C
	}
}

func (a *App) runRefreshIteration() {
	if a.refresher == nil || !a.refresher.Enabled() {
		return
	}

	a.refreshMu.Lock()
	attempted, err := a.refresher.RefreshDue(context.Background())
	a.refreshMu.Unlock()

	if err != nil {
		a.metrics.FeedRefresh("error")
		slog.Error("refresh loop error", "err", err)

		return
	}

	if attempted {
		a.metrics.FeedRefresh("ok")
	}
}

func parseFormInt64(r *http.Request, key string) int64 {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return 0
	}

	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed < 0 {
		return 0
	}

	return parsed
}

func isTruthyValue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on", "yes":
		return true
	}

	return false
}
