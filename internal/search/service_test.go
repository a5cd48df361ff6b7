package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"homeboard/internal/backend"
)

type fakeNotes struct {
	notes   backend.NoteList
	listErr error
	nextID  int
}

func (f *fakeNotes) Notes(context.Context) (backend.NoteList, error) {
	return f.notes, f.listErr
}

func (f *fakeNotes) CreateNote(_ context.Context, content, author string) (*backend.Note, error) {
	f.nextID++
	note := backend.Note{ID: "n" + string(rune('0'+f.nextID)), Content: content, Author: author}
	f.notes = append(f.notes, note)
	return &note, nil
}

func (f *fakeNotes) UpdateNote(_ context.Context, note backend.Note) (*backend.Note, error) {
	return &note, nil
}

func (f *fakeNotes) DeleteNote(context.Context, string) error { return nil }

type fakeIndex struct {
	mu        sync.Mutex
	healthy   bool
	searchErr error
	hits      []Result
	indexed   []NoteRecord
	deleted   []string
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) Search(Query) ([]Result, int, error) {
	if f.searchErr != nil {
		return nil, 0, f.searchErr
	}
	return f.hits, len(f.hits), nil
}

func (f *fakeIndex) IndexNote(n NoteRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, n)
	return nil
}

func (f *fakeIndex) IndexNotes(notes []NoteRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, notes...)
	return nil
}

func (f *fakeIndex) DeleteNote(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func sampleNotes() backend.NoteList {
	return backend.NoteList{
		{ID: "n1", Content: "Acheter du PAIN", Author: "Famille", Date: "2026-10-01"},
		{ID: "n2", Content: "Rendez-vous dentiste", Author: "Léa", Date: "2026-10-03"},
		{ID: "n3", Content: "pain au chocolat pour dimanche", Author: "Léa", Date: "2026-10-05"},
	}
}

func TestSearchFallsBackToScan(t *testing.T) {
	svc := NewService(&fakeNotes{notes: sampleNotes()}, nil)

	resp := svc.Search(context.Background(), Query{Text: "pain"})
	if resp.Source != "scan" || resp.Total != 2 {
		t.Fatalf("Search() = %+v", resp)
	}
	if resp.Results[0].ID != "n3" || resp.Results[1].ID != "n1" {
		t.Fatalf("results order = %+v, want newest first", resp.Results)
	}

	resp = svc.Search(context.Background(), Query{Text: "pain", Author: "léa"})
	if resp.Total != 1 || resp.Results[0].ID != "n3" {
		t.Fatalf("author-filtered Search() = %+v", resp)
	}

	resp = svc.Search(context.Background(), Query{Text: "   "})
	if resp.Total != 0 || resp.Results == nil {
		t.Fatalf("blank Search() = %+v", resp)
	}
}

func TestSearchUsesHealthyIndex(t *testing.T) {
	index := &fakeIndex{healthy: true, hits: []Result{{ID: "n9", Snippet: "<mark>pain</mark>"}}}
	svc := NewService(&fakeNotes{notes: sampleNotes()}, index)

	resp := svc.Search(context.Background(), Query{Text: "pain"})
	if resp.Source != "meilisearch" || len(resp.Results) != 1 || resp.Results[0].ID != "n9" {
		t.Fatalf("Search() = %+v", resp)
	}

	index.searchErr = errors.New("timeout")
	resp = svc.Search(context.Background(), Query{Text: "pain"})
	if resp.Source != "scan" || resp.Total != 2 {
		t.Fatalf("Search() after index error = %+v", resp)
	}
}

func TestSearchScanLimit(t *testing.T) {
	svc := NewService(&fakeNotes{notes: sampleNotes()}, &fakeIndex{healthy: false})
	resp := svc.Search(context.Background(), Query{Text: "e", Limit: 1})
	if len(resp.Results) != 1 || resp.Total != 3 {
		t.Fatalf("Search() = %+v", resp)
	}
}

func TestSearchScanBackendError(t *testing.T) {
	svc := NewService(&fakeNotes{listErr: errors.New("502")}, nil)
	resp := svc.Search(context.Background(), Query{Text: "pain"})
	if resp.Results == nil || resp.Total != 0 {
		t.Fatalf("Search() = %+v", resp)
	}
}

func TestMutationsMirrorIntoIndex(t *testing.T) {
	index := &fakeIndex{healthy: true}
	svc := NewService(&fakeNotes{}, index)
	ctx := context.Background()

	note, err := svc.Create(ctx, "Arroser les plantes", "Famille")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.Update(ctx, backend.Note{ID: note.ID, Content: "Arroser les tomates"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := svc.Delete(ctx, note.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	svc.Wait()

	if len(index.indexed) != 2 || len(index.deleted) != 1 || index.deleted[0] != note.ID {
		t.Fatalf("indexed = %+v deleted = %v", index.indexed, index.deleted)
	}
	if _, err := svc.Create(ctx, "  ", ""); err == nil {
		t.Fatal("Create() expected error for empty content")
	}
}

func TestMutationsSkipUnhealthyIndex(t *testing.T) {
	index := &fakeIndex{healthy: false}
	svc := NewService(&fakeNotes{}, index)
	if _, err := svc.Create(context.Background(), "x", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	svc.Wait()
	if len(index.indexed) != 0 {
		t.Fatalf("indexed = %+v, want none", index.indexed)
	}
}

func TestReindex(t *testing.T) {
	index := &fakeIndex{healthy: true}
	svc := NewService(&fakeNotes{notes: sampleNotes()}, index)
	svc.Reindex(context.Background())
	if len(index.indexed) != 3 {
		t.Fatalf("indexed = %+v", index.indexed)
	}
}
