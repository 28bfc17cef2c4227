package models

import "time"

// Document is one ingested PDF. Its identity is the MD5 of the raw
// upload, so re-uploading the same bytes addresses the same document.
type Document struct {
	ID         string
	Filename   string
	UploadedAt time.Time
	Pages      []Page
	Status     JobStatus
	Summary    string
}

// Page is a single rendered page of a document. Text stays empty
// until recognition completes (or permanently, if recognition failed).
type Page struct {
	DocumentID string
	Index      int
	ImagePath  string
	ImageMD5   string
	Image      []byte
	Text       string
	Chunks     []Chunk
	Err        error
}

// Chunk is the unit of embedding and retrieval: one bounded span of a
// page's recognized text.
type Chunk struct {
	DocumentID string
	PageIndex  int
	Index      int
	Content    string
	Embedding  []float32
	Metadata   map[string]interface{}
}

// Reference points a query answer back at the retrieved content.
type Reference struct {
	DocumentID string
	PageIndex  int
	ChunkIndex int
	ImageMD5   string
	Content    string
	Score      float32
}

// QueryResult is the outcome of one Ask call. NoMatch is set when the
// store returned nothing relevant; that is a valid answer, not an error.
type QueryResult struct {
	Question           string
	TranslatedQuestion string
	Answer             string
	References         []Reference
	NoMatch            bool
}
