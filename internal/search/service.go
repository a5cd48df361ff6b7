package search

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"homeboard/internal/backend"
)

// NotesClient is the backend notes surface.
type NotesClient interface {
	Notes(ctx context.Context) (backend.NoteList, error)
	CreateNote(ctx context.Context, content, author string) (*backend.Note, error)
	UpdateNote(ctx context.Context, note backend.Note) (*backend.Note, error)
	DeleteNote(ctx context.Context, id string) error
}

// Service owns notes CRUD against the backend and mirrors every change
// into the index. Search falls back to scanning the backend list.
type Service struct {
	notes NotesClient
	index Index

	mirrors sync.WaitGroup
}

// NewService creates a notes service. index may be nil if Meilisearch is not configured.
func NewService(notes NotesClient, index Index) *Service {
	return &Service{notes: notes, index: index}
}

func (s *Service) List(ctx context.Context) (backend.NoteList, error) {
	notes, err := s.notes.Notes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	if notes == nil {
		notes = backend.NoteList{}
	}
	return notes, nil
}

func (s *Service) Create(ctx context.Context, content, author string) (*backend.Note, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("create note: empty content")
	}
	note, err := s.notes.CreateNote(ctx, content, author)
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	s.mirrorIndex(*note)
	return note, nil
}

func (s *Service) Update(ctx context.Context, note backend.Note) (*backend.Note, error) {
	if strings.TrimSpace(note.ID) == "" {
		return nil, fmt.Errorf("update note: empty id")
	}
	updated, err := s.notes.UpdateNote(ctx, note)
	if err != nil {
		return nil, fmt.Errorf("update note %s: %w", note.ID, err)
	}
	s.mirrorIndex(*updated)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.notes.DeleteNote(ctx, id); err != nil {
		return fmt.Errorf("delete note %s: %w", id, err)
	}
	s.mirror("delete note "+id, func() error { return s.index.DeleteNote(id) })
	return nil
}

// Search uses the index when healthy, otherwise scans the backend list.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "meilisearch"}
		}
		log.Printf("search: meilisearch error, falling back to scan: %v", err)
	}

	notes, err := s.notes.Notes(ctx)
	if err != nil {
		log.Printf("search: scan notes: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Source: "scan"}
	}
	results := scan(notes, q)
	total := len(results)
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return Response{Results: results, Total: total, Query: q.Text, Source: "scan"}
}

// Reindex pushes every backend note into the index.
func (s *Service) Reindex(ctx context.Context) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	notes, err := s.notes.Notes(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	records := make([]NoteRecord, 0, len(notes))
	for _, n := range notes {
		records = append(records, record(n))
	}
	if err := s.index.IndexNotes(records); err != nil {
		log.Printf("search: reindex notes: %v", err)
	}
}

// Wait blocks until in-flight index mirrors finish.
func (s *Service) Wait() {
	s.mirrors.Wait()
}

func (s *Service) mirrorIndex(note backend.Note) {
	s.mirror("index note "+note.ID, func() error { return s.index.IndexNote(record(note)) })
}

func (s *Service) mirror(what string, fn func() error) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	s.mirrors.Add(1)
	go func() {
		defer s.mirrors.Done()
		if err := fn(); err != nil {
			log.Printf("search: %s: %v", what, err)
		}
	}()
}

func record(n backend.Note) NoteRecord {
	return NoteRecord{ID: n.ID, Content: n.Content, Author: n.Author, Date: n.Date}
}

// scan matches notes whose content contains the query, case-insensitively.
// Newest notes come first.
func scan(notes backend.NoteList, q Query) []Result {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return []Result{}
	}
	results := []Result{}
	for _, n := range notes {
		if q.Author != "" && !strings.EqualFold(n.Author, q.Author) {
			continue
		}
		if !strings.Contains(strings.ToLower(n.Content), needle) {
			continue
		}
		results = append(results, Result{ID: n.ID, Author: n.Author, Date: n.Date, Snippet: n.Content})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Date > results[j].Date })
	return results
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
