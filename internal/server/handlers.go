package server

import (
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bindery/internal/collection"
	"bindery/internal/outline"
	"bindery/internal/store"
	"bindery/internal/suggest"
	"bindery/internal/view"
	"bindery/internal/wiki"
)

// Response header listing the client modules the host skin must load
// alongside the returned fragment.
const moduleListHeader = "X-Bindery-Modules"

func (a *App) handleSidebarFragment(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)

		return
	}

	session := a.loadSession(r)
	pc := a.pageContext(r, r.FormValue("title"))

	portlet := view.BuildPortlet(a.settings, pc, session)
	if portlet == nil {
		a.metrics.FragmentServed("sidebar", "absent")
		w.WriteHeader(http.StatusNoContent)

		return
	}

	lastModified, ok := view.ContributeLastModified(session)
	if ok {
		w.Header().Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))

		if notModifiedSince(r, lastModified) {
			a.metrics.FragmentServed("sidebar", "not_modified")
			w.WriteHeader(http.StatusNotModified)

			return
		}
	}

	a.metrics.FragmentServed("sidebar", "ok")
	writeJSON(w, portlet)
}

func (a *App) handleNoticeFragment(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)

		return
	}

	session := a.loadSession(r)
	pc := a.pageContext(r, r.FormValue("title"))

	mode := view.NoticeMode(a.settings, pc, session)

	box := view.BuildNotice(a.settings, pc, session, mode)
	if box == nil {
		a.metrics.FragmentServed("notice", "absent")
		w.WriteHeader(http.StatusNoContent)

		return
	}

	lastModified, ok := view.ContributeLastModified(session)
	if ok {
		w.Header().Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))

		if notModifiedSince(r, lastModified) {
			a.metrics.FragmentServed("notice", "not_modified")
			w.WriteHeader(http.StatusNotModified)

			return
		}
	}

	w.Header().Set(moduleListHeader, strings.Join(box.Modules, ", "))
	a.metrics.FragmentServed("notice", "ok")
	a.renderTemplate(w, "notice_box", box)
}

// notModifiedSince reports whether If-Modified-Since covers the given
// modification time. Sub-second precision is dropped because the
// header format only carries seconds.
func notModifiedSince(r *http.Request, lastModified time.Time) bool {
	raw := r.Header.Get("If-Modified-Since")
	if raw == "" {
		return false
	}

	since, err := http.ParseTime(raw)
	if err != nil {
		return false
	}

	return !lastModified.Truncate(time.Second).After(since)
}

// handleBook serves the Book page and dispatches book commands. The
// commands arrive as plain links, so GET mutates here just like POST.
func (a *App) handleBook(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)

		return
	}

	command := strings.TrimSpace(r.FormValue("bookcmd"))

	switch command {
	case "":
		a.renderBookPage(w, r)
	case "suggest":
		a.renderSuggestPage(w, r)
	case "start":
		a.commandStart(w, r)
	case "stop_book":
		a.commandStopBook(w, r)
	case "add_article":
		a.commandAddArticle(w, r)
	case "remove_article":
		a.commandRemoveArticle(w, r)
	case "add_category":
		a.commandAddCategory(w, r)
	case "add_chapter":
		a.commandAddChapter(w, r)
	case "clear_book":
		a.commandClearBook(w, r)
	case "ban_suggestion":
		a.commandBanSuggestion(w, r)
	case "render_article":
		a.commandRenderArticle(w, r)
	default:
		a.metrics.CommandHandled("unknown", "error")
		http.Error(w, "unknown book command", http.StatusBadRequest)
	}
}

func (a *App) commandStart(w http.ResponseWriter, r *http.Request) {
	id, err := a.manager.Start(r.Context(), sessionIDFromRequest(r))
	if err != nil {
		a.metrics.CommandHandled("start", "error")
		slog.Error("start command failed", "err", err)
		http.Error(w, "start failed", http.StatusInternalServerError)

		return
	}

	a.setSessionCookie(w, id)
	a.metrics.CommandHandled("start", "ok")
	slog.Info("book creator started", "session_id", id)
	a.redirectAfterCommand(w, r)
}

func (a *App) commandStopBook(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFromRequest(r)

	err := a.manager.Stop(r.Context(), id)
	if errors.Is(err, collection.ErrNoSession) {
		a.metrics.CommandHandled("stop_book", "no_session")
		a.redirectAfterCommand(w, r)

		return
	}

	if err != nil {
		a.metrics.CommandHandled("stop_book", "error")
		slog.Error("stop command failed", "session_id", id, "err", err)
		http.Error(w, "stop failed", http.StatusInternalServerError)

		return
	}

	// The cookie stays. Restarting re-enables the same session row,
	// so a stop followed by a start keeps the id stable.
	a.metrics.CommandHandled("stop_book", "ok")
	slog.Info("book creator stopped", "session_id", id)
	a.redirectAfterCommand(w, r)
}

func (a *App) commandAddArticle(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFromRequest(r)
	pc := a.commandPageContext(r)

	if pc.Page.Title == "" {
		a.metrics.CommandHandled("add_article", "error")
		http.Error(w, "missing article title", http.StatusBadRequest)

		return
	}

	_, added, err := a.manager.AddArticle(r.Context(), id, pc.Page, pc.OldID)
	if errors.Is(err, collection.ErrNoSession) {
		a.metrics.CommandHandled("add_article", "no_session")
		http.Redirect(w, r, a.settings.BookPagePath, http.StatusSeeOther)

		return
	}

	if err != nil {
		a.metrics.CommandHandled("add_article", "error")
		slog.Error("add article failed", "session_id", id, "title", pc.Page.FullTitle(), "err", err)
		http.Error(w, "add failed", http.StatusInternalServerError)

		return
	}

	a.metrics.CommandHandled("add_article", "ok")
	slog.Info("article added", "session_id", id, "title", pc.Page.FullTitle(), "added", added)

	if isTruthyValue(r.FormValue("fragment")) {
		a.renderNoticeForCommand(w, r, view.ModeDefault)

		return
	}

	a.redirectAfterCommand(w, r)
}

func (a *App) commandRemoveArticle(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFromRequest(r)
	pc := a.commandPageContext(r)

	if pc.Page.Title == "" {
		a.metrics.CommandHandled("remove_article", "error")
		http.Error(w, "missing article title", http.StatusBadRequest)

		return
	}

	removed, err := a.manager.RemoveArticle(r.Context(), id, pc.Page, pc.OldID)
	if errors.Is(err, collection.ErrNoSession) {
		a.metrics.CommandHandled("remove_article", "no_session")
		http.Redirect(w, r, a.settings.BookPagePath, http.StatusSeeOther)

		return
	}

	if err != nil {
		a.metrics.CommandHandled("remove_article", "error")
		slog.Error("remove article failed", "session_id", id, "title", pc.Page.FullTitle(), "err", err)
		http.Error(w, "remove failed", http.StatusInternalServerError)

		return
	}

	a.metrics.CommandHandled("remove_article", "ok")
	slog.Info("article removed", "session_id", id, "title", pc.Page.FullTitle(), "removed", removed)

	if isTruthyValue(r.FormValue("fragment")) {
		// After a removal the box must offer the add link again even
		// though the page is no longer a member.
		a.renderNoticeForCommand(w, r, view.ModeAddArticle)

		return
	}

	a.redirectAfterCommand(w, r)
}

func (a *App) commandAddCategory(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFromRequest(r)

	category := wiki.NormalizeTitle(r.FormValue("cattitle"))
	if category == "" {
		a.metrics.CommandHandled("add_category", "error")
		http.Error(w, "missing category title", http.StatusBadRequest)

		return
	}

	added, err := a.manager.AddCategory(r.Context(), id, category)
	if errors.Is(err, collection.ErrNoSession) {
		a.metrics.CommandHandled("add_category", "no_session")
		http.Redirect(w, r, a.settings.BookPagePath, http.StatusSeeOther)

		return
	}

	if err != nil {
		a.metrics.CommandHandled("add_category", "error")
		slog.Error("add category failed", "session_id", id, "category", category, "err", err)
		http.Error(w, "add category failed", http.StatusInternalServerError)

		return
	}

	a.metrics.CommandHandled("add_category", "ok")
	slog.Info("category added", "session_id", id, "category", category, "added", added)

	if isTruthyValue(r.FormValue("fragment")) {
		a.renderNoticeForCommand(w, r, view.ModeAddCategory)

		return
	}

	a.redirectAfterCommand(w, r)
}

func (a *App) commandAddChapter(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFromRequest(r)

	name := strings.TrimSpace(r.FormValue("chaptername"))
	if name == "" {
		a.metrics.CommandHandled("add_chapter", "error")
		http.Error(w, "missing chapter name", http.StatusBadRequest)

		return
	}

	position, err := a.manager.AddChapter(r.Context(), id, name)
	if errors.Is(err, collection.ErrNoSession) {
		a.metrics.CommandHandled("add_chapter", "no_session")
		http.Redirect(w, r, a.settings.BookPagePath, http.StatusSeeOther)

		return
	}

	if err != nil {
		a.metrics.CommandHandled("add_chapter", "error")
		slog.Error("add chapter failed", "session_id", id, "err", err)
		http.Error(w, "add chapter failed", http.StatusInternalServerError)

		return
	}

	a.metrics.CommandHandled("add_chapter", "ok")
	slog.Info("chapter added", "session_id", id, "name", name, "position", position)
	a.redirectAfterCommand(w, r)
}

func (a *App) commandClearBook(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFromRequest(r)

	err := a.manager.Clear(r.Context(), id)
	if errors.Is(err, collection.ErrNoSession) {
		a.metrics.CommandHandled("clear_book", "no_session")
		http.Redirect(w, r, a.settings.BookPagePath, http.StatusSeeOther)

		return
	}

	if err != nil {
		a.metrics.CommandHandled("clear_book", "error")
		slog.Error("clear command failed", "session_id", id, "err", err)
		http.Error(w, "clear failed", http.StatusInternalServerError)

		return
	}

	a.metrics.CommandHandled("clear_book", "ok")
	slog.Info("book cleared", "session_id", id)
	a.redirectAfterCommand(w, r)
}

func (a *App) commandBanSuggestion(w http.ResponseWriter, r *http.Request) {
	if !a.settings.SuggestionsEnabled {
		http.Redirect(w, r, a.settings.BookPagePath, http.StatusSeeOther)

		return
	}

	id := sessionIDFromRequest(r)

	title := wiki.NormalizeTitle(r.FormValue("arttitle"))
	if title == "" {
		a.metrics.CommandHandled("ban_suggestion", "error")
		http.Error(w, "missing article title", http.StatusBadRequest)

		return
	}

	err := a.manager.Ban(r.Context(), id, title)
	if errors.Is(err, collection.ErrNoSession) {
		a.metrics.CommandHandled("ban_suggestion", "no_session")
		http.Redirect(w, r, a.settings.BookPagePath, http.StatusSeeOther)

		return
	}

	if err != nil {
		a.metrics.CommandHandled("ban_suggestion", "error")
		slog.Error("ban suggestion failed", "session_id", id, "title", title, "err", err)
		http.Error(w, "ban failed", http.StatusInternalServerError)

		return
	}

	a.metrics.CommandHandled("ban_suggestion", "ok")
	slog.Info("suggestion banned", "session_id", id, "title", title)
	http.Redirect(w, r, a.settings.BookPagePath+"?bookcmd=suggest", http.StatusSeeOther)
}

// commandRenderArticle hands the request off to the external render
// pipeline. Nothing is rendered here; the command only validates and
// forwards.
func (a *App) commandRenderArticle(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.FormValue("arttitle"))
	writer := strings.TrimSpace(r.FormValue("writer"))

	if title == "" || writer == "" {
		a.metrics.CommandHandled("render_article", "error")
		http.Error(w, "render_article needs arttitle and writer", http.StatusBadRequest)

		return
	}

	if a.cfg.RenderServiceURL == "" {
		a.metrics.CommandHandled("render_article", "error")
		http.Error(w, "no render service configured", http.StatusServiceUnavailable)

		return
	}

	a.metrics.CommandHandled("render_article", "ok")
	http.Redirect(w, r, a.cfg.RenderServiceURL+"?"+r.Form.Encode(), http.StatusSeeOther)
}

// renderNoticeForCommand answers a fragment=1 command request with
// the notice box re-rendered in the given mode, reloading the session
// so the box reflects the mutation that just happened.
func (a *App) renderNoticeForCommand(w http.ResponseWriter, r *http.Request, mode view.Mode) {
	session := a.loadSession(r)
	pc := a.commandPageContext(r)

	box := view.BuildNotice(a.settings, pc, session, mode)
	if box == nil {
		w.WriteHeader(http.StatusNoContent)

		return
	}

	w.Header().Set(moduleListHeader, strings.Join(box.Modules, ", "))
	a.renderTemplate(w, "notice_box", box)
}

func (a *App) renderBookPage(w http.ResponseWriter, r *http.Request) {
	session := a.loadSession(r)
	a.renderTemplate(w, "book", a.bookPageData(session))
}

func (a *App) renderSuggestPage(w http.ResponseWriter, r *http.Request) {
	if !a.settings.SuggestionsEnabled {
		http.Redirect(w, r, a.settings.BookPagePath, http.StatusFound)

		return
	}

	session := a.loadSession(r)
	if session == nil {
		http.Redirect(w, r, a.settings.BookPagePath, http.StatusFound)

		return
	}

	proposals, err := suggest.Propose(r.Context(), a.db, session.ID, suggestPageLimit)
	if err != nil {
		slog.Error("list proposals failed", "session_id", session.ID, "err", err)
		http.Error(w, "suggestions unavailable", http.StatusInternalServerError)

		return
	}

	a.renderTemplate(w, "suggest", a.suggestPageData(session, proposals))
}

func (a *App) handleExportOutline(w http.ResponseWriter, r *http.Request) {
	session := a.loadSession(r)
	if session == nil {
		http.Error(w, "no active book", http.StatusNotFound)

		return
	}

	items := make([]outline.Item, 0, len(session.Items))

	for _, item := range session.Items {
		items = append(items, outline.Item{
			Kind:       item.Kind,
			Title:      item.Title,
			RevisionID: item.RevisionID,
		})
	}

	filename := "bindery-book-" + time.Now().UTC().Format("20060102") + ".xml"

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	err := outline.Write(w, "", items)
	if err != nil {
		log.Printf("outline export failed: %v", err)
	}
}

func (a *App) handleImportOutline(w http.ResponseWriter, r *http.Request) {
	session := a.loadSession(r)
	if session == nil {
		http.Error(w, "no active book", http.StatusNotFound)

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxOutlineUploadBytes)

	err := r.ParseMultipartForm(maxOutlineUploadBytes)
	if err != nil {
		http.Error(w, "bad upload", http.StatusBadRequest)

		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing outline file", http.StatusBadRequest)

		return
	}

	defer func() {
		closeErr := file.Close()
		if closeErr != nil {
			log.Printf("close outline upload: %v", closeErr)
		}
	}()

	parsed, err := outline.Parse(file)
	if err != nil {
		http.Error(w, "bad outline document", http.StatusBadRequest)

		return
	}

	items := make([]collection.Item, 0, len(parsed))

	for _, item := range parsed {
		items = append(items, collection.Item{
			Kind:       item.Kind,
			Title:      item.Title,
			RevisionID: item.RevisionID,
		})
	}

	err = a.manager.Replace(r.Context(), session.ID, items)
	if err != nil {
		slog.Error("outline import failed", "session_id", session.ID, "err", err)
		http.Error(w, "import failed", http.StatusInternalServerError)

		return
	}

	slog.Info("outline imported", "session_id", session.ID, "items", len(items))
	http.Redirect(w, r, a.settings.BookPagePath, http.StatusSeeOther)
}

type adminPageUpsert struct {
	Namespace   int      `json:"namespace"`
	Title       string   `json:"title"`
	LatestRevID int64    `json:"latest_rev_id"`
	Categories  []string `json:"categories"`
}

type adminPageDelete struct {
	Namespace int    `json:"namespace"`
	Title     string `json:"title"`
}

type adminPagesPayload struct {
	Upserts []adminPageUpsert `json:"upserts"`
	Deletes []adminPageDelete `json:"deletes"`
}

// handleAdminPages applies a page-snapshot sync batch pushed by the
// host wiki. Rows are applied in order and the first failure aborts
// the batch with the prior rows already committed.
func (a *App) handleAdminPages(w http.ResponseWriter, r *http.Request) {
	if a.cfg.AdminToken == "" {
		http.Error(w, "page sync is not configured", http.StatusServiceUnavailable)

		return
	}

	if !bearerTokenMatches(r, a.cfg.AdminToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAdminSyncBytes)

	var payload adminPagesPayload

	err := json.NewDecoder(r.Body).Decode(&payload)
	if err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)

		return
	}

	upserted := 0

	for _, page := range payload.Upserts {
		title := wiki.NormalizeTitle(page.Title)
		if title == "" {
			continue
		}

		categories := make([]string, 0, len(page.Categories))

		for _, category := range page.Categories {
			normalized := wiki.NormalizeTitle(category)
			if normalized != "" {
				categories = append(categories, normalized)
			}
		}

		err = store.UpsertPage(r.Context(), a.db, store.PageRecord{
			Namespace:   page.Namespace,
			Title:       title,
			LatestRevID: page.LatestRevID,
			Categories:  categories,
		})
		if err != nil {
			slog.Error("page upsert failed", "title", title, "err", err)
			http.Error(w, "sync failed", http.StatusInternalServerError)

			return
		}

		upserted++
	}

	deleted := 0

	for _, page := range payload.Deletes {
		title := wiki.NormalizeTitle(page.Title)
		if title == "" {
			continue
		}

		err = store.DeletePage(r.Context(), a.db, page.Namespace, title)
		if err != nil {
			slog.Error("page delete failed", "title", title, "err", err)
			http.Error(w, "sync failed", http.StatusInternalServerError)

			return
		}

		deleted++
	}

	slog.Info("admin page sync", "upserted", upserted, "deleted", deleted)
	writeJSON(w, map[string]int{"upserted": upserted, "deleted": deleted})
}
