package search

// Result is a single note hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Author  string `json:"author"`
	Date    string `json:"date,omitempty"`
	Snippet string `json:"snippet"`
}

// Query describes a notes search.
type Query struct {
	Text   string
	Author string // empty = any author
	Limit  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	// Source is "meilisearch" or "scan".
	Source string `json:"source"`
}

// Index is the full-text side of note search.
type Index interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexNote(n NoteRecord) error
	IndexNotes(notes []NoteRecord) error
	DeleteNote(id string) error
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Author  string `json:"author"`
	Date    string `json:"date"`
}

const defaultLimit = 20
