package server

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"html/template"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"bindery/internal/collection"
	"bindery/internal/config"
	"bindery/internal/store"
	"bindery/internal/testutil"
	"bindery/internal/wiki"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	db := testutil.OpenTestDB(t)
	return New(db, templateMust(), testConfig())
}

func testConfig() *config.Config {
	return &config.Config{
		WikiBaseURL:           "https://wiki.example.org",
		ArticlePath:           "/wiki/",
		ScriptPath:            "/index.php",
		BookPagePath:          "/book",
		BookPageTitle:         "Special:Book",
		HelpPage:              "Help:Books",
		CollectibleNamespaces: []int{0},
		ExportFormats:         map[string]string{"rl": "PDF"},
		SidebarFormats:        []string{"rl"},
		SuggestionsEnabled:    true,
		SessionTTL:            2 * time.Hour,
	}
}

func templateMust() *template.Template {
	return template.Must(template.ParseGlob(filepath.Join("..", "..", "templates", "*.html")))
}

func seedPage(t *testing.T, app *App, namespace int, title string, revID int64, categories ...string) {
	t.Helper()

	err := store.UpsertPage(context.Background(), app.db, store.PageRecord{
		Namespace:   namespace,
		Title:       title,
		LatestRevID: revID,
		Categories:  categories,
	})
	if err != nil {
		t.Fatalf("store.UpsertPage: %v", err)
	}
}

func startTestSession(t *testing.T, app *App) string {
	t.Helper()

	id, err := app.manager.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("manager.Start: %v", err)
	}

	return id
}

func addSessionCookie(req *http.Request, id string) {
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: id})
}

func pageForTest(namespace int, title string, revID int64) wiki.Page {
	return wiki.Page{Namespace: namespace, Title: title, Exists: true, LatestRevID: revID}
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("expected ok body, got %q", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("expected frame options header, got %q", rec.Header().Get("X-Frame-Options"))
	}
}

func TestIndexRedirectsToBookPage(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if rec.Header().Get("Location") != "/book" {
		t.Fatalf("expected redirect to /book, got %q", rec.Header().Get("Location"))
	}
}

func TestStaticFS(t *testing.T) {
	app := newTestApp(t)
	app.SetStaticFS(fstest.MapFS{
		"bindery.bookcreator.js": &fstest.MapFile{Data: []byte("// client module")},
	})

	req := httptest.NewRequest(http.MethodGet, "/static/bindery.bookcreator.js", nil)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "client module") {
		t.Fatalf("expected static body, got %q", rec.Body.String())
	}
}

func TestStartCommandSetsCookie(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/book?bookcmd=start&referer=/book", nil)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}

	var sessionID string
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			sessionID = cookie.Value
			if !cookie.HttpOnly {
				t.Fatalf("expected HttpOnly session cookie")
			}
		}
	}
	if sessionID == "" {
		t.Fatalf("expected session cookie to be set")
	}

	session, err := app.manager.Load(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("manager.Load: %v", err)
	}
	if session == nil {
		t.Fatalf("expected active session after start")
	}
}

func TestStartReusesStoppedSession(t *testing.T) {
	app := newTestApp(t)
	id := startTestSession(t, app)

	req := httptest.NewRequest(http.MethodGet, "/book?bookcmd=stop_book", nil)
	addSessionCookie(req, id)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}

	session, err := app.manager.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("manager.Load: %v", err)
	}
	if session != nil {
		t.Fatalf("expected stopped session to load as nil")
	}

	req = httptest.NewRequest(http.MethodGet, "/book?bookcmd=start", nil)
	addSessionCookie(req, id)
	rec = httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}

	var restarted string
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			restarted = cookie.Value
		}
	}
	if restarted != id {
		t.Fatalf("expected restart to keep session id %q, got %q", id, restarted)
	}
}

func TestAddAndRemoveArticleCommands(t *testing.T) {
	app := newTestApp(t)
	seedPage(t, app, 0, "Falcon", 42)
	id := startTestSession(t, app)

	req := httptest.NewRequest(http.MethodGet, "/book?bookcmd=add_article&arttitle=Falcon&oldid=0", nil)
	addSessionCookie(req, id)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}

	session, err := app.manager.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("manager.Load: %v", err)
	}
	if session.CountArticles() != 1 {
		t.Fatalf("expected 1 article, got %d", session.CountArticles())
	}
	if session.Items[0].Title != "Falcon" {
		t.Fatalf("expected Falcon, got %q", session.Items[0].Title)
	}

	req = httptest.NewRequest(http.MethodGet, "/book?bookcmd=remove_article&arttitle=Falcon&oldid=0", nil)
	addSessionCookie(req, id)
	rec = httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}

	session, err = app.manager.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("manager.Load: %v", err)
	}
	if session.CountArticles() != 0 {
		t.Fatalf("expected empty book, got %d articles", session.CountArticles())
	}
}

func TestAddArticleNormalizesExplicitLatestRevision(t *testing.T) {
	app := newTestApp(t)
	seedPage(t, app, 0, "Falcon", 42)
	id := startTestSession(t, app)

	req := httptest.NewRequest(http.MethodGet, "/book?bookcmd=add_article&arttitle=Falcon&oldid=42", nil)
	addSessionCookie(req, id)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}

	session, err := app.manager.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("manager.Load: %v", err)
	}
	if len(session.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(session.Items))
	}
	if session.Items[0].RevisionID != 0 {
		t.Fatalf("expected latest-revision member to be unpinned, got %d", session.Items[0].RevisionID)
	}
}

func TestCommandRedirectTargets(t *testing.T) {
	app := newTestApp(t)
	seedPage(t, app, 0, "Falcon", 42)
	id := startTestSession(t, app)

	req := httptest.NewRequest(http.MethodGet, "/book?bookcmd=add_article&arttitle=Falcon&returnto=%2Fwiki%2FFalcon", nil)
	addSessionCookie(req, id)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Header().Get("Location") != "/wiki/Falcon" {
		t.Fatalf("expected rooted returnto, got %q", rec.Header().Get("Location"))
	}

	req = httptest.NewRequest(http.MethodGet, "/book?bookcmd=remove_article&arttitle=Falcon", nil)
	addSessionCookie(req, id)
	rec = httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Header().Get("Location") != "https://wiki.example.org/wiki/Falcon" {
		t.Fatalf("expected article URL fallback, got %q", rec.Header().Get("Location"))
	}

	// Protocol-relative values must not escape the wiki host.
	req = httptest.NewRequest(http.MethodGet, "/book?bookcmd=clear_book&returnto=%2F%2Fevil.example", nil)
	addSessionCookie(req, id)
	rec = httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	location := rec.Header().Get("Location")
	if strings.HasPrefix(location, "//") {
		t.Fatalf("expected protocol-relative target to be rejected, got %q", location)
	}
	if !strings.HasPrefix(location, "https://wiki.example.org/") {
		t.Fatalf("expected redirect pinned to wiki host, got %q", location)
	}
}

func TestAddArticleFragmentRerender(t *testing.T) {
	app := newTestApp(t)
	seedPage(t, app, 0, "Falcon", 42)
	id := startTestSession(t, app)

	req := httptest.NewRequest(http.MethodGet, "/book?bookcmd=add_article&arttitle=Falcon&oldid=0&fragment=1", nil)
	addSessionCookie(req, id)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Remove this page from your book") {
		t.Fatalf("expected remove link after add, got %q", rec.Body.String())
	}
	if rec.Header().Get(moduleListHeader) != "bindery.bookcreator" {
		t.Fatalf("expected module header, got %q", rec.Header().Get(moduleListHeader))
	}
}

func TestRemoveArticleFragmentRerender(t *testing.T) {
	app := newTestApp(t)
	seedPage(t, app, 0, "Falcon", 42)
	id := startTestSession(t, app)

	_, _, err := app.manager.AddArticle(context.Background(), id, pageForTest(0, "Falcon", 42), 0)
	if err != nil {
		t.Fatalf("manager.AddArticle: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/book?bookcmd=remove_article&arttitle=Falcon&oldid=0&fragment=1", nil)
	addSessionCookie(req, id)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Add this page to your book") {
		t.Fatalf("expected add link after remove, got %q", rec.Body.String())
	}
}

func TestAddCategoryCommand(t *testing.T) {
	app := newTestApp(t)
	seedPage(t, app, 14, "Birds", 5)
	seedPage(t, app, 0, "Falcon", 42, "Birds")
	seedPage(t, app, 0, "Kestrel", 43, "Birds")
	id := startTestSession(t, app)

	req := httptest.NewRequest(http.MethodGet, "/book?bookcmd=add_category&cattitle=Birds", nil)
	addSessionCookie(req, id)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}

	session, err := app.manager.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("manager.Load: %v", err)
	}
	if session.CountArticles() != 2 {
		t.Fatalf("expected 2 members, got %d", session.CountArticles())
	}
}

func TestAddChapterCommand(t *testing.T) {
	app := newTestApp(t)
	id := startTestSession(t, app)

	form := url.Values{}
	form.Set("bookcmd", "add_chapter")
	form.Set("chaptername", "Birds of prey")
	form.Set("returnto", "/book")

	req := httptest.NewRequest(http.MethodPost, "/book", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	addSessionCookie(req, id)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}

	session, err := app.manager.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("manager.Load: %v", err)
	}
	if len(session.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(session.Items))
	}
	if session.Items[0].Kind != collection.KindChapter {
		t.Fatalf("expected chapter, got %q", session.Items[0].Kind)
	}
	if session.Items[0].Title != "Birds of prey" {
		t.Fatalf("expected chapter title, got %q", session.Items[0].Title)
	}
}

func TestMutatingCommandWithoutSession(t *testing.T) {
	app := newTestApp(t)
	seedPage(t, app, 0, "Falcon", 42)

	req := httptest.NewRequest(http.MethodGet, "/book?bookcmd=add_article&arttitle=Falcon", nil)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if rec.Header().Get("Location") != "/book" {
		t.Fatalf("expected redirect to book page, got %q", rec.Header().Get("Location"))
	}
}

func TestUnknownCommand(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/book?bookcmd=explode", nil)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRenderArticleCommand(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/book?bookcmd=render_article&arttitle=Falcon&writer=rl", nil)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without renderer, got %d", rec.Code)
	}

	app.cfg.RenderServiceURL = "https://render.example.org/collection"

	req = httptest.NewRequest(http.MethodGet, "/book?bookcmd=render_article&arttitle=Falcon&writer=rl", nil)
	rec = httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}

	location := rec.Header().Get("Location")
	if !strings.HasPrefix(location, "https://render.example.org/collection?") {
		t.Fatalf("expected render service redirect, got %q", location)
	}
	if !strings.Contains(location, "writer=rl") {
		t.Fatalf("expected writer to ride along, got %q", location)
	}

	req = httptest.NewRequest(http.MethodGet, "/book?bookcmd=render_article&arttitle=Falcon", nil)
	rec = httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without writer, got %d", rec.Code)
	}
}

func TestBookPageRendering(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/book", nil)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Start book creator") {
		t.Fatalf("expected start prompt without session, got %q", rec.Body.String())
	}

	seedPage(t, app, 0, "Falcon", 42)
	id := startTestSession(t, app)

	_, _, err := app.manager.AddArticle(context.Background(), id, pageForTest(0, "Falcon", 42), 0)
	if err != nil {
		t.Fatalf("manager.AddArticle: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/book", nil)
	addSessionCookie(req, id)
	rec = httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "Falcon") {
		t.Fatalf("expected member listing, got %q", body)
	}
	if !strings.Contains(body, "Your book contains 1 page.") {
		t.Fatalf("expected singular page count, got %q", body)
	}
	if !strings.Contains(body, "Stop book creator") {
		t.Fatalf("expected stop link, got %q", body)
	}
}

func TestSuggestPageRendering(t *testing.T) {
	app := newTestApp(t)
	id := startTestSession(t, app)

	_, err := store.UpsertEntries(context.Background(), app.db, []store.EntryRecord{
		{
			GUID:        "kestrel-1",
			Title:       "Kestrel",
			Link:        "https://wiki.example.org/wiki/Kestrel",
			SummaryHTML: "<p>Hovering falcon</p>",
			PublishedAt: time.Now().Add(-time.Hour).UTC(),
		},
	})
	if err != nil {
		t.Fatalf("store.UpsertEntries: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/book?bookcmd=suggest", nil)
	addSessionCookie(req, id)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "Kestrel") {
		t.Fatalf("expected proposal, got %q", body)
	}
	if !strings.Contains(body, "Hovering falcon") {
		t.Fatalf("expected proposal summary, got %q", body)
	}
	if !strings.Contains(body, "ban_suggestion") {
		t.Fatalf("expected ban action, got %q", body)
	}

	err = app.manager.Ban(context.Background(), id, "Kestrel")
	if err != nil {
		t.Fatalf("manager.Ban: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/book?bookcmd=suggest", nil)
	addSessionCookie(req, id)
	rec = httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if strings.Contains(rec.Body.String(), "Kestrel") {
		t.Fatalf("expected banned title to disappear, got %q", rec.Body.String())
	}
}

func TestSuggestPageWithoutSessionRedirects(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/book?bookcmd=suggest", nil)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if rec.Header().Get("Location") != "/book" {
		t.Fatalf("expected redirect to book page, got %q", rec.Header().Get("Location"))
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	app := newTestApp(t)
	seedPage(t, app, 0, "Falcon", 42)
	id := startTestSession(t, app)

	_, err := app.manager.AddChapter(context.Background(), id, "Birds of prey")
	if err != nil {
		t.Fatalf("manager.AddChapter: %v", err)
	}
	_, _, err = app.manager.AddArticle(context.Background(), id, pageForTest(0, "Falcon", 42), 0)
	if err != nil {
		t.Fatalf("manager.AddArticle: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/book/export", nil)
	addSessionCookie(req, id)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "application/xml") {
		t.Fatalf("expected xml content type, got %q", rec.Header().Get("Content-Type"))
	}

	exported := rec.Body.String()
	if !strings.Contains(exported, `kind="chapter"`) || !strings.Contains(exported, "Falcon") {
		t.Fatalf("expected outline entries, got %q", exported)
	}

	outlineXML := `<?xml version="1.0" encoding="UTF-8"?>
<book version="1.0">
  <head><title>Replaced</title></head>
  <body>
    <item kind="chapter" title="Owls"></item>
    <item kind="article" title="Barn owl" revision="7"></item>
  </body>
</book>`

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "book.xml")
	if err != nil {
		t.Fatalf("multipart.CreateFormFile: %v", err)
	}
	if _, err = part.Write([]byte(outlineXML)); err != nil {
		t.Fatalf("write multipart body: %v", err)
	}
	if err = writer.Close(); err != nil {
		t.Fatalf("close multipart body: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/book/import", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	addSessionCookie(req, id)
	rec = httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}

	session, err := app.manager.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("manager.Load: %v", err)
	}
	if len(session.Items) != 2 {
		t.Fatalf("expected 2 items after import, got %d", len(session.Items))
	}
	if session.Items[0].Title != "Owls" {
		t.Fatalf("expected imported chapter first, got %q", session.Items[0].Title)
	}
	if session.Items[1].RevisionID != 7 {
		t.Fatalf("expected pinned revision to survive import, got %d", session.Items[1].RevisionID)
	}
}

func TestExportWithoutSession(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/book/export", nil)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminPagesSync(t *testing.T) {
	app := newTestApp(t)

	body := `{"upserts":[{"namespace":0,"title":"Falcon","latest_rev_id":7,"categories":["Birds"]}],"deletes":[{"namespace":0,"title":"Old page"}]}`

	req := httptest.NewRequest(http.MethodPost, "/admin/pages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without admin token, got %d", rec.Code)
	}

	app.cfg.AdminToken = "sekret"
	seedPage(t, app, 0, "Old page", 1)

	req = httptest.NewRequest(http.MethodPost, "/admin/pages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/pages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer sekret")
	rec = httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"upserted":1`) {
		t.Fatalf("expected upsert count, got %q", rec.Body.String())
	}

	record, err := store.GetPage(context.Background(), app.db, 0, "Falcon")
	if err != nil {
		t.Fatalf("store.GetPage: %v", err)
	}
	if record.LatestRevID != 7 {
		t.Fatalf("expected synced revision, got %d", record.LatestRevID)
	}

	_, err = store.GetPage(context.Background(), app.db, 0, "Old page")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected deleted page to be gone, got %v", err)
	}
}

func TestMetricsRoute(t *testing.T) {
	db := testutil.OpenTestDB(t)
	cfg := testConfig()
	cfg.MetricsEnabled = true
	app := New(db, templateMust(), cfg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bindery_active_sessions") {
		t.Fatalf("expected gauge exposition, got %q", rec.Body.String())
	}
}
