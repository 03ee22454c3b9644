package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/kuzamarket/internal/model"
	"github.com/hitoshi/kuzamarket/internal/search"
)

func TestBuildSearchQuery_EmptyPlanSelectsAllNewestFirst(t *testing.T) {
	query, args := buildSearchQuery(search.Plan{})

	if strings.Contains(query, "WHERE") {
		t.Errorf("query should have no WHERE clause: %s", query)
	}
	if !strings.HasSuffix(query, "ORDER BY i.created_at DESC, i.id DESC") {
		t.Errorf("query should order by newest first: %s", query)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want none", args)
	}
}

func TestBuildSearchQuery_AllFilters(t *testing.T) {
	plan := search.Plan{
		Term:          "50%_off",
		Categories:    []string{"electronics"},
		Location:      "Hostel",
		HasPriceRange: true,
		PriceMin:      10,
		PriceMax:      500,
		ExcludeOwner:  "u1",
		Order:         search.OrderPriceAsc,
		Limit:         8,
	}
	query, args := buildSearchQuery(plan)

	for _, want := range []string{
		`i.title ILIKE '%' || $1 || '%'`,
		"i.category = ANY($2)",
		`i.location ILIKE '%' || $3 || '%'`,
		"i.price >= $4",
		"i.price <= $5",
		"i.user_id <> $6",
		"ORDER BY i.price ASC, i.created_at DESC, i.id DESC",
		"LIMIT $7",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q:\n%s", want, query)
		}
	}
	if len(args) != 7 {
		t.Fatalf("len(args) = %d, want 7", len(args))
	}
	if args[0] != `50\%\_off` {
		t.Errorf("term arg = %v, want escaped pattern", args[0])
	}
	if args[6] != 8 {
		t.Errorf("limit arg = %v, want 8", args[6])
	}
}

func TestBuildSearchQuery_OwnerOnly(t *testing.T) {
	query, args := buildSearchQuery(search.Plan{OwnerID: "u1"})
	if !strings.Contains(query, "WHERE i.user_id = $1") {
		t.Errorf("query = %s", query)
	}
	if diff := cmp.Diff([]interface{}{"u1"}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestOrderClause_MatchesPlanTieBreak(t *testing.T) {
	tests := []struct {
		order search.Order
		want  string
	}{
		{search.OrderDateDesc, "i.created_at DESC, i.id DESC"},
		{search.OrderDateAsc, "i.created_at ASC, i.id ASC"},
		{search.OrderPriceAsc, "i.price ASC, i.created_at DESC, i.id DESC"},
		{search.OrderPriceDesc, "i.price DESC, i.created_at DESC, i.id DESC"},
	}
	for _, tt := range tests {
		if got := orderClause(tt.order); got != tt.want {
			t.Errorf("orderClause(%v) = %q, want %q", tt.order, got, tt.want)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	tests := map[string]string{
		"lamp":       "lamp",
		"100%":       `100\%`,
		"a_b":        `a\_b`,
		`back\slash`: `back\\slash`,
	}
	for in, want := range tests {
		if got := escapeLike(in); got != want {
			t.Errorf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNullFilter(t *testing.T) {
	if nullFilter("all").Valid {
		t.Error("all should be stored as NULL")
	}
	if nullFilter("").Valid {
		t.Error("empty should be stored as NULL")
	}
	if v := nullFilter("books"); !v.Valid || v.String != "books" {
		t.Errorf("nullFilter(books) = %+v", v)
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"0b7e4bd2-2c4a-4c4f-9f3e-6f1d3f0a9c11", true},
		{"abc", false},
		{"", false},
		{"0b7e4bd2-2c4a-4c4f-9f3e-6f1d3f0a9c1z", false},
		{"urn:uuid:0b7e4bd2-2c4a-4c4f-9f3e-6f1d3f0a9c11", false},
		{"{0b7e4bd2-2c4a-4c4f-9f3e-6f1d3f0a9c11}", false},
	}
	for _, tt := range tests {
		if got := validID(tt.id); got != tt.want {
			t.Errorf("validID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

// 形式外のIDはDBに触れずに「該当なし」になる。dbがnilなのでクエリを発行すればpanicする。
func TestMalformedIDsAreNotFound(t *testing.T) {
	ctx := context.Background()
	const id = "abc"

	items := NewPostgresItemRepo(nil)
	if it, err := items.FindByID(ctx, id); it != nil || err != nil {
		t.Errorf("items.FindByID = %v, %v", it, err)
	}
	if found, err := items.Delete(ctx, id); found || err != nil {
		t.Errorf("items.Delete = %v, %v", found, err)
	}

	profiles := NewPostgresProfileRepo(nil)
	if p, err := profiles.FindByID(ctx, id); p != nil || err != nil {
		t.Errorf("profiles.FindByID = %v, %v", p, err)
	}
	if p, err := profiles.Update(ctx, &model.Profile{ID: id}); p != nil || err != nil {
		t.Errorf("profiles.Update = %v, %v", p, err)
	}

	users := NewPostgresUserRepo(nil)
	if u, err := users.FindByID(ctx, id); u != nil || err != nil {
		t.Errorf("users.FindByID = %v, %v", u, err)
	}

	saved := NewPostgresSavedItemRepo(nil)
	userID := "0b7e4bd2-2c4a-4c4f-9f3e-6f1d3f0a9c11"
	if err := saved.AddSaved(ctx, userID, id); model.KindOf(err) != model.KindNotFound {
		t.Errorf("saved.AddSaved kind = %v", model.KindOf(err))
	}
	if err := saved.RemoveSaved(ctx, userID, id); err != nil {
		t.Errorf("saved.RemoveSaved = %v", err)
	}
	if n, err := saved.DeleteByItem(ctx, id); n != 0 || err != nil {
		t.Errorf("saved.DeleteByItem = %d, %v", n, err)
	}
}
