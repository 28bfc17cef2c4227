package splitter

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"

	"github.com/visdoc/visdoc/internal/models"
	"github.com/visdoc/visdoc/internal/types"
)

// Splitter renders an uploaded PDF into one PNG per page. Page images
// are stored under <result_path>/documents/<doc md5>/<image md5>.png
// so re-ingesting the same bytes lands in the same directory.
type Splitter struct {
	config types.SplitterConfig
}

func NewWithConfig(config types.SplitterConfig) *Splitter {
	if config.ResultPath == "" {
		config.ResultPath = "./data/results"
	}
	if config.DPI == 0 {
		config.DPI = 200
	}
	if config.MaxFileSize == 0 {
		config.MaxFileSize = 50 << 20
	}

	return &Splitter{config: config}
}

// DocumentID returns the content hash that identifies a document.
func DocumentID(pdf []byte) string {
	sum := md5.Sum(pdf)
	return hex.EncodeToString(sum[:])
}

func (s *Splitter) documentDir(docID string) string {
	return filepath.Join(s.config.ResultPath, "documents", docID)
}

// Split renders every page of the PDF in order. Corrupt input, zero
// pages, and oversized files all map to models.ErrInvalidDocument.
func (s *Splitter) Split(ctx context.Context, pdf []byte, docID string) ([]models.Page, error) {
	if int64(len(pdf)) > s.config.MaxFileSize {
		return nil, fmt.Errorf("%w: file size %d exceeds limit %d",
			models.ErrInvalidDocument, len(pdf), s.config.MaxFileSize)
	}

	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidDocument, err)
	}
	defer doc.Close()

	total := doc.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("%w: document has no pages", models.ErrInvalidDocument)
	}

	dir := s.documentDir(docID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document directory: %v", err)
	}

	pages := make([]models.Page, 0, total)
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := doc.ImageDPI(i, float64(s.config.DPI))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to render page %d: %v",
				models.ErrInvalidDocument, i, err)
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %v", i, err)
		}

		data := buf.Bytes()
		sum := md5.Sum(data)
		imgMD5 := hex.EncodeToString(sum[:])
		imgPath := filepath.Join(dir, imgMD5+".png")

		if err := os.WriteFile(imgPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to save page %d: %v", i, err)
		}

		pages = append(pages, models.Page{
			DocumentID: docID,
			Index:      i,
			ImagePath:  imgPath,
			ImageMD5:   imgMD5,
			Image:      data,
		})
	}

	if err := s.writeMetadata(docID, pages); err != nil {
		return nil, err
	}

	return pages, nil
}

// LoadImage reads a stored page image back from disk. The query
// pipeline uses this to hand retrieved pages to the vision model.
func (s *Splitter) LoadImage(docID, imageMD5 string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.documentDir(docID), imageMD5+".png"))
}

type metadata struct {
	MD5        string   `json:"md5"`
	TotalPages int      `json:"total_pages"`
	SavedFiles []string `json:"saved_files"`
	Directory  string   `json:"directory"`
}

func (s *Splitter) writeMetadata(docID string, pages []models.Page) error {
	dir := s.documentDir(docID)

	files := make([]string, len(pages))
	for i, p := range pages {
		files[i] = p.ImagePath
	}

	data, err := json.MarshalIndent(metadata{
		MD5:        docID,
		TotalPages: len(pages),
		SavedFiles: files,
		Directory:  dir,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %v", err)
	}

	return nil
}
