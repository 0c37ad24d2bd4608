package collection_test

import (
	"context"
	"errors"
	"testing"

	"bindery/internal/collection"
	"bindery/internal/store"
	"bindery/internal/testutil"
	"bindery/internal/wiki"
)

func TestLoadDistinguishesMissingAndEmpty(t *testing.T) {
	db := testutil.OpenTestDB(t)
	manager := collection.NewManager(db)
	ctx := context.Background()

	session, err := manager.Load(ctx, "")
	if err != nil {
		t.Fatalf("Load empty id: %v", err)
	}
	if session != nil {
		t.Fatalf("expected nil session for empty id")
	}

	session, err = manager.Load(ctx, "nobody-home")
	if err != nil {
		t.Fatalf("Load unknown id: %v", err)
	}
	if session != nil {
		t.Fatalf("expected nil session for unknown id")
	}

	id, err := manager.Start(ctx, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Fatalf("expected Start to mint an id")
	}

	session, err = manager.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load started session: %v", err)
	}
	if session == nil {
		t.Fatalf("expected a session after Start")
	}
	if len(session.Items) != 0 {
		t.Fatalf("expected empty session, got %d items", len(session.Items))
	}
	if session.LastModified.IsZero() {
		t.Fatalf("expected last modified to be set")
	}
}

func TestStopClearsItemsAndHidesSession(t *testing.T) {
	db := testutil.OpenTestDB(t)
	manager := collection.NewManager(db)
	ctx := context.Background()

	id, err := manager.Start(ctx, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	page := wiki.Page{Namespace: wiki.NamespaceMain, Title: "Kestrel", Exists: true, LatestRevID: 42}
	if _, _, err := manager.AddArticle(ctx, id, page, 0); err != nil {
		t.Fatalf("AddArticle: %v", err)
	}

	if err := manager.Stop(ctx, id); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	session, err := manager.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load stopped session: %v", err)
	}
	if session != nil {
		t.Fatalf("expected stopped session to read as no session")
	}

	restarted, err := manager.Start(ctx, id)
	if err != nil {
		t.Fatalf("Start again: %v", err)
	}
	if restarted != id {
		t.Fatalf("expected restart to keep id %s, got %s", id, restarted)
	}

	session, err = manager.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load restarted session: %v", err)
	}
	if session == nil {
		t.Fatalf("expected restarted session to be active")
	}
	if len(session.Items) != 0 {
		t.Fatalf("expected stop to have discarded items, got %d", len(session.Items))
	}
}

func TestAddArticleNormalizesLatestRevision(t *testing.T) {
	db := testutil.OpenTestDB(t)
	manager := collection.NewManager(db)
	ctx := context.Background()

	id, err := manager.Start(ctx, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	page := wiki.Page{Namespace: wiki.NamespaceMain, Title: "Kestrel", Exists: true, LatestRevID: 42}

	position, added, err := manager.AddArticle(ctx, id, page, 42)
	if err != nil {
		t.Fatalf("AddArticle explicit latest: %v", err)
	}
	if !added || position != 0 {
		t.Fatalf("expected first add at position 0, got %d (added=%v)", position, added)
	}

	session, err := manager.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := session.FindArticle("Kestrel", 0); got != 0 {
		t.Fatalf("expected explicit-latest member stored at revision 0, FindArticle got %d", got)
	}
	if got := session.FindArticle("Kestrel", 42); got != -1 {
		t.Fatalf("expected no member recorded under the literal revision, got %d", got)
	}

	_, added, err = manager.AddArticle(ctx, id, page, 0)
	if err != nil {
		t.Fatalf("AddArticle current: %v", err)
	}
	if added {
		t.Fatalf("expected current-revision add to collide with normalized member")
	}

	_, added, err = manager.AddArticle(ctx, id, page, 41)
	if err != nil {
		t.Fatalf("AddArticle old revision: %v", err)
	}
	if !added {
		t.Fatalf("expected older revision to be a distinct member")
	}
}

func TestRemoveArticleMatchesNormalizedRevision(t *testing.T) {
	db := testutil.OpenTestDB(t)
	manager := collection.NewManager(db)
	ctx := context.Background()

	id, err := manager.Start(ctx, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	page := wiki.Page{Namespace: wiki.NamespaceMain, Title: "Kestrel", Exists: true, LatestRevID: 42}
	if _, _, err := manager.AddArticle(ctx, id, page, 42); err != nil {
		t.Fatalf("AddArticle: %v", err)
	}

	removed, err := manager.RemoveArticle(ctx, id, page, 0)
	if err != nil {
		t.Fatalf("RemoveArticle: %v", err)
	}
	if !removed {
		t.Fatalf("expected normalized member to be removed by revision 0")
	}

	session, err := manager.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if session.CountArticles() != 0 {
		t.Fatalf("expected empty session, got %d articles", session.CountArticles())
	}
}

func TestAddCategorySkipsExistingMembers(t *testing.T) {
	db := testutil.OpenTestDB(t)
	manager := collection.NewManager(db)
	ctx := context.Background()

	seed := []store.PageRecord{
		{Namespace: wiki.NamespaceMain, Title: "Kestrel", LatestRevID: 1, Categories: []string{"Falcons"}},
		{Namespace: wiki.NamespaceMain, Title: "Merlin", LatestRevID: 2, Categories: []string{"Falcons"}},
		{Namespace: wiki.NamespaceMain, Title: "Osprey", LatestRevID: 3, Categories: []string{"Hawks"}},
	}
	for _, record := range seed {
		if err := store.UpsertPage(ctx, db, record); err != nil {
			t.Fatalf("UpsertPage %s: %v", record.Title, err)
		}
	}

	id, err := manager.Start(ctx, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	kestrel := wiki.Page{Namespace: wiki.NamespaceMain, Title: "Kestrel", Exists: true, LatestRevID: 1}
	if _, _, err := manager.AddArticle(ctx, id, kestrel, 0); err != nil {
		t.Fatalf("AddArticle: %v", err)
	}

	added, err := manager.AddCategory(ctx, id, "Falcons")
	if err != nil {
		t.Fatalf("AddCategory: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected 1 new member from category, got %d", added)
	}

	session, err := manager.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if session.CountArticles() != 2 {
		t.Fatalf("expected 2 articles, got %d", session.CountArticles())
	}
	if session.FindArticle("Merlin", 0) == -1 {
		t.Fatalf("expected Merlin to join from the category")
	}
	if session.FindArticle("Osprey", 0) != -1 {
		t.Fatalf("expected Osprey to stay out")
	}
}

func TestCountArticlesIgnoresChapters(t *testing.T) {
	db := testutil.OpenTestDB(t)
	manager := collection.NewManager(db)
	ctx := context.Background()

	id, err := manager.Start(ctx, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := manager.AddChapter(ctx, id, "Falcons"); err != nil {
		t.Fatalf("AddChapter: %v", err)
	}

	page := wiki.Page{Namespace: wiki.NamespaceMain, Title: "Kestrel", Exists: true, LatestRevID: 1}
	if _, _, err := manager.AddArticle(ctx, id, page, 0); err != nil {
		t.Fatalf("AddArticle: %v", err)
	}

	session, err := manager.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if session.CountArticles() != 1 {
		t.Fatalf("expected 1 article, got %d", session.CountArticles())
	}
	if session.FindArticle("Falcons", 0) != -1 {
		t.Fatalf("expected chapter heading to be invisible to FindArticle")
	}
}

func TestMutationsRequireActiveSession(t *testing.T) {
	db := testutil.OpenTestDB(t)
	manager := collection.NewManager(db)
	ctx := context.Background()

	page := wiki.Page{Namespace: wiki.NamespaceMain, Title: "Kestrel", Exists: true, LatestRevID: 1}

	cases := []struct {
		name string
		op   func() error
	}{
		{"add article", func() error {
			_, _, err := manager.AddArticle(ctx, "ghost", page, 0)
			return err
		}},
		{"remove article", func() error {
			_, err := manager.RemoveArticle(ctx, "ghost", page, 0)
			return err
		}},
		{"add category", func() error {
			_, err := manager.AddCategory(ctx, "ghost", "Falcons")
			return err
		}},
		{"add chapter", func() error {
			_, err := manager.AddChapter(ctx, "ghost", "Falcons")
			return err
		}},
		{"clear", func() error { return manager.Clear(ctx, "ghost") }},
		{"stop", func() error { return manager.Stop(ctx, "ghost") }},
		{"ban", func() error { return manager.Ban(ctx, "ghost", "Kestrel") }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.op()
			if !errors.Is(err, collection.ErrNoSession) {
				t.Fatalf("expected ErrNoSession, got %v", err)
			}
		})
	}
}
