package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s := NewStore(filepath.Join(t.TempDir(), "memory.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(id, source string, created time.Time) Record {
	return Record{
		ID:         id,
		SourceText: source,
		TargetText: "hola mundo",
		Score:      1.25,
		AvgLogProb: -0.625,
		TokenCount: 2,
		Finished:   true,
		Model:      "toy.rtb",
		CreatedAt:  created,
	}
}

func TestPutLookupRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := testRecord(NewID(), "hello world", time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC))
	if err := s.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Lookup(ctx, "hello world")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatal("Lookup missed a stored source text")
	}
	if got.ID != want.ID || got.TargetText != want.TargetText {
		t.Errorf("round trip: got id=%s target=%q", got.ID, got.TargetText)
	}
	if got.Score != want.Score || got.AvgLogProb != want.AvgLogProb {
		t.Errorf("scores: got (%v, %v), want (%v, %v)", got.Score, got.AvgLogProb, want.Score, want.AvgLogProb)
	}
	if got.TokenCount != want.TokenCount || !got.Finished || got.Model != want.Model {
		t.Errorf("metadata mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}

	byID, ok, err := s.Get(ctx, want.ID)
	if err != nil || !ok {
		t.Fatalf("Get by id: ok=%v err=%v", ok, err)
	}
	if byID.SourceText != "hello world" {
		t.Errorf("Get returned source %q", byID.SourceText)
	}
}

func TestLookupMissing(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Lookup(context.Background(), "never seen")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatal("Lookup reported a record that was never stored")
	}
	if _, ok, err := s.Get(context.Background(), "tm_nope"); err != nil || ok {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}
}

func TestPutUpsertsBySourceText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testRecord("tm_first", "hello world", time.Now().UTC())
	if err := s.Put(ctx, first); err != nil {
		t.Fatalf("Put: %v", err)
	}

	second := testRecord("tm_second", "hello world", time.Now().UTC())
	second.TargetText = "bonjour le monde"
	second.Score = 2.5
	if err := s.Put(ctx, second); err != nil {
		t.Fatalf("Put replacement: %v", err)
	}

	got, ok, err := s.Lookup(ctx, "hello world")
	if err != nil || !ok {
		t.Fatalf("Lookup after replacement: ok=%v err=%v", ok, err)
	}
	if got.TargetText != "bonjour le monde" || got.Score != 2.5 {
		t.Errorf("replacement not applied: %+v", got)
	}
	if got.ID != "tm_first" {
		t.Errorf("replacement changed id to %s, want tm_first", got.ID)
	}
	if _, ok, _ := s.Get(ctx, "tm_second"); ok {
		t.Error("losing id tm_second should not exist")
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d after upsert, want 1", n)
	}
}

func TestPutGeneratesMissingID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("", "auto id input", time.Now().UTC())
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := s.Lookup(ctx, "auto id input")
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
	if !strings.HasPrefix(got.ID, "tm_") {
		t.Errorf("generated id = %q, want tm_ prefix", got.ID)
	}
}

func TestPutRequiresSourceText(t *testing.T) {
	s := newTestStore(t)

	err := s.Put(context.Background(), Record{TargetText: "y"})
	if err == nil {
		t.Fatal("Put accepted a record without source text")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord(NewID(), "delete me", time.Now().UTC())
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err := s.Delete(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !ok {
		t.Fatal("Delete reported existing record as missing")
	}
	if _, ok, _ := s.Lookup(ctx, "delete me"); ok {
		t.Fatal("record still present after Delete")
	}

	ok, err = s.Delete(ctx, rec.ID)
	if err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if ok {
		t.Fatal("Delete reported a missing record as deleted")
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	ids := []string{"tm_a", "tm_b", "tm_c", "tm_d"}
	for i, id := range ids {
		rec := testRecord(id, "input "+id, base.Add(time.Duration(i)*time.Minute))
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}

	got, err := s.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d records, want 3", len(got))
	}
	wantOrder := []string{"tm_d", "tm_c", "tm_b"}
	for i, want := range wantOrder {
		if got[i].ID != want {
			t.Errorf("Recent[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Fatalf("Count on empty store = %d", n)
	}
	for i := 0; i < 5; i++ {
		rec := testRecord(NewID(), "input "+string(rune('a'+i)), time.Now().UTC())
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	n, err = s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 5 {
		t.Errorf("Count = %d, want 5", n)
	}
}

func TestUninitializedStore(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "memory.db"))

	if err := s.Put(context.Background(), testRecord("tm_x", "x", time.Now())); err == nil {
		t.Fatal("Put on uninitialized store succeeded")
	}
	if _, _, err := s.Lookup(context.Background(), "x"); err == nil {
		t.Fatal("Lookup on uninitialized store succeeded")
	}
}

func TestInitTwiceIsNoOp(t *testing.T) {
	s := newTestStore(t)

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestNewIDPrefix(t *testing.T) {
	id := NewID()
	if !strings.HasPrefix(id, "tm_") {
		t.Errorf("NewID() = %q, want tm_ prefix", id)
	}
	if id == NewID() {
		t.Error("NewID returned the same id twice")
	}
}
