package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"homeboard/internal/backend"
)

const MaxUploadBytes = 20 << 20

var (
	ErrNoPending = errors.New("no pending event to confirm")
	ErrTooLarge  = errors.New("document too large")
	ErrEmpty     = errors.New("document is empty")
)

type Client interface {
	UploadDocument(ctx context.Context, filename string, content io.Reader) (*backend.DocumentUpload, error)
	UploadMenu(ctx context.Context, filename string, content io.Reader) (backend.MealPlan, error)
	UploadReceipt(ctx context.Context, filename string, content io.Reader) (*backend.Expense, error)
	CreateEvent(ctx context.Context, draft backend.EventDraft) error
}

// Refresher reloads dashboard data after a side effect.
type Refresher interface {
	RefreshSilently(ctx context.Context)
}

// Archiver keeps a copy of an uploaded document; it is optional.
type Archiver interface {
	Archive(ctx context.Context, filename string, content []byte) (string, error)
}

// ExpenseInvalidator drops cached expense lists.
type ExpenseInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Result describes what an upload produced.
type Result struct {
	Upload     *backend.DocumentUpload `json:"upload,omitempty"`
	Pending    *backend.EventDraft     `json:"pending_event,omitempty"`
	Applied    *backend.AppliedEffect  `json:"applied,omitempty"`
	ArchiveKey string                  `json:"archive_key,omitempty"`
}

type Flow struct {
	client    Client
	refresher Refresher
	archive   Archiver
	expenses  ExpenseInvalidator
	now       func() time.Time

	mu      sync.Mutex
	pending *backend.EventDraft
}

// NewFlow builds the intake flow. archive and expenses may be nil.
func NewFlow(client Client, refresher Refresher, archive Archiver, expenses ExpenseInvalidator) *Flow {
	return &Flow{client: client, refresher: refresher, archive: archive, expenses: expenses, now: time.Now}
}

func (f *Flow) Pending() *backend.EventDraft {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		return nil
	}
	draft := *f.pending
	return &draft
}

// Submit uploads a document for classification. A proposed event is held
// until Confirm or Cancel; an effect the backend already applied triggers a
// silent refresh. Any earlier pending event is discarded.
func (f *Flow) Submit(ctx context.Context, filename string, content io.Reader) (*Result, error) {
	f.setPending(nil)

	data, err := readUpload(content)
	if err != nil {
		return nil, err
	}
	upload, err := f.client.UploadDocument(ctx, filename, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("upload document: %w", err)
	}
	result := &Result{Upload: upload, ArchiveKey: f.archiveCopy(ctx, filename, data)}

	analysis := upload.Analysis
	switch {
	case analysis.Applied != nil:
		result.Applied = analysis.Applied
		f.afterEffect(ctx, analysis.Applied.Kind)
	case analysis.ProposedEvent != nil:
		draft := *analysis.ProposedEvent
		result.Pending = &draft
	case strings.TrimSpace(analysis.Date) != "":
		result.Pending = f.eventFromAnalysis(analysis)
	}
	if result.Pending != nil {
		f.setPending(result.Pending)
	}
	return result, nil
}

// Confirm creates the pending event, with edits applied, and refreshes.
func (f *Flow) Confirm(ctx context.Context, edit func(*backend.EventDraft)) (backend.EventDraft, error) {
	draft := f.Pending()
	if draft == nil {
		return backend.EventDraft{}, ErrNoPending
	}
	if edit != nil {
		edit(draft)
	}
	if err := draft.Validate(); err != nil {
		return backend.EventDraft{}, err
	}
	if err := f.client.CreateEvent(ctx, *draft); err != nil {
		return backend.EventDraft{}, fmt.Errorf("create event: %w", err)
	}
	f.setPending(nil)
	f.refresh(ctx)
	return *draft, nil
}

// Cancel drops the pending event without any request.
func (f *Flow) Cancel() {
	f.setPending(nil)
}

// UploadMenu replaces the meal plan from a menu document.
func (f *Flow) UploadMenu(ctx context.Context, filename string, content io.Reader) (backend.MealPlan, error) {
	data, err := readUpload(content)
	if err != nil {
		return nil, err
	}
	plan, err := f.client.UploadMenu(ctx, filename, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("upload menu: %w", err)
	}
	f.archiveCopy(ctx, filename, data)
	f.afterEffect(ctx, backend.EffectMealPlan)
	return plan, nil
}

// UploadReceipt records an expense from a receipt.
func (f *Flow) UploadReceipt(ctx context.Context, filename string, content io.Reader) (*backend.Expense, error) {
	data, err := readUpload(content)
	if err != nil {
		return nil, err
	}
	expense, err := f.client.UploadReceipt(ctx, filename, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("upload receipt: %w", err)
	}
	f.archiveCopy(ctx, filename, data)
	f.afterEffect(ctx, backend.EffectExpense)
	return expense, nil
}

func (f *Flow) afterEffect(ctx context.Context, kind backend.EffectKind) {
	if kind == backend.EffectExpense && f.expenses != nil {
		if err := f.expenses.Invalidate(ctx); err != nil {
			log.Printf("intake: invalidate expenses: %v", err)
		}
	}
	f.refresh(ctx)
}

func (f *Flow) refresh(ctx context.Context) {
	if f.refresher != nil {
		f.refresher.RefreshSilently(ctx)
	}
}

func (f *Flow) archiveCopy(ctx context.Context, filename string, data []byte) string {
	if f.archive == nil {
		return ""
	}
	key, err := f.archive.Archive(ctx, filename, data)
	if err != nil {
		log.Printf("intake: archive %s: %v", filename, err)
		return ""
	}
	return key
}

func (f *Flow) setPending(draft *backend.EventDraft) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if draft == nil {
		f.pending = nil
		return
	}
	copied := *draft
	f.pending = &copied
}

// eventFromAnalysis proposes a 09:00 event on the analysed date. Dates come
// as DD/MM/YYYY or YYYY-MM-DD; anything else starts now.
func (f *Flow) eventFromAnalysis(analysis backend.Analysis) *backend.EventDraft {
	start := f.now()
	date := strings.TrimSpace(analysis.Date)
	for _, layout := range []string{"02/01/2006", "2006-01-02"} {
		if day, err := time.ParseInLocation(layout, date, time.Local); err == nil {
			start = time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, time.Local)
			break
		}
	}

	description := analysis.Summary
	if len(analysis.ActionItems) > 0 {
		description += "\n\n" + strings.Join(analysis.ActionItems, "\n")
	}
	title := analysis.Title
	if strings.TrimSpace(title) == "" {
		title = "Document"
	}
	return &backend.EventDraft{
		Summary:     title,
		Description: description,
		Start:       start.Format(time.RFC3339),
	}
}

func readUpload(content io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(content, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return data, nil
}
