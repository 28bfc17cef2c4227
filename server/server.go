package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/visdoc/visdoc/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Ingestor is the slice of the ingestion pipeline the server needs.
type Ingestor interface {
	Ingest(ctx context.Context, pdf []byte, filename string) (*models.Document, error)
	Job(id string) (models.JobSnapshot, bool)
	JobForDocument(docID string) (models.JobSnapshot, bool)
}

// Asker is the slice of the query pipeline the server needs.
type Asker interface {
	Ask(ctx context.Context, question string, userImage []byte) (*models.QueryResult, error)
}

type Config struct {
	Port   string
	Prefix string
}

type Server struct {
	config Config
	ingest Ingestor
	query  Asker
}

func New(config Config, ingest Ingestor, query Asker) *Server {
	if config.Port == "" {
		config.Port = "8000"
	}
	if config.Prefix == "" {
		config.Prefix = "/api/v1"
	}

	return &Server{
		config: config,
		ingest: ingest,
		query:  query,
	}
}

// Handler builds the route table. Exposed separately so tests can use
// httptest against it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+s.config.Prefix+"/pdf/split", s.handleUpload)
	mux.HandleFunc("GET "+s.config.Prefix+"/pdf/jobs/{id}", s.handleJob)
	mux.HandleFunc("GET "+s.config.Prefix+"/pdf/documents/{id}/status", s.handleDocumentStatus)
	mux.HandleFunc("POST "+s.config.Prefix+"/query/ask", s.handleAsk)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)

	return withCORS(mux)
}

func (s *Server) ListenAndServe() error {
	log.Printf("Starting server on port %s", s.config.Port)
	return http.ListenAndServe(":"+s.config.Port, s.Handler())
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": msg,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"msg":    "success",
		"status": "running",
	})
}

// handleUpload accepts a PDF, responds immediately, and runs the
// ingestion pipeline in the background. Progress is polled through
// the jobs endpoint.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file upload")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "please upload a PDF file")
		return
	}

	pdfBytes, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read upload: %v", err))
		return
	}

	filename := header.Filename
	log.Printf("Received PDF %s (%d bytes)", filename, len(pdfBytes))

	go func() {
		// Detached from the request context: the upload response has
		// already been sent when ingestion runs.
		doc, err := s.ingest.Ingest(context.Background(), pdfBytes, filename)
		if err != nil {
			log.Printf("Ingestion of %s failed: %v", filename, err)
			return
		}
		log.Printf("Ingestion of %s finished with status %s", filename, doc.Status)
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"message": "file received, processing in background",
		"data": map[string]interface{}{
			"filename":  filename,
			"file_size": len(pdfBytes),
		},
	})
}

type jobResponse struct {
	ID             string `json:"id"`
	DocumentID     string `json:"document_id"`
	Filename       string `json:"filename"`
	Stage          string `json:"stage"`
	Status         string `json:"status"`
	TotalPages     int    `json:"total_pages"`
	PagesProcessed int    `json:"pages_processed"`
	PagesFailed    int    `json:"pages_failed"`
	Error          string `json:"error,omitempty"`
}

func jobToResponse(snap models.JobSnapshot) jobResponse {
	resp := jobResponse{
		ID:             snap.ID,
		DocumentID:     snap.DocumentID,
		Filename:       snap.Filename,
		Stage:          snap.Stage.String(),
		Status:         string(snap.Status),
		TotalPages:     snap.TotalPages,
		PagesProcessed: snap.PagesProcessed,
		PagesFailed:    snap.PagesFailed,
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	return resp
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.ingest.Job(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(snap))
}

func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.ingest.JobForDocument(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(snap))
}

type askRequest struct {
	Question    string `json:"question"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

type referenceResponse struct {
	DocumentID string  `json:"document_id"`
	PageIndex  int     `json:"page_index"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
}

type askResponse struct {
	Success            bool                `json:"success"`
	Message            string              `json:"message"`
	OriginalQuestion   string              `json:"original_question,omitempty"`
	TranslatedQuestion string              `json:"translated_question,omitempty"`
	Answer             string              `json:"answer,omitempty"`
	NoMatch            bool                `json:"no_match,omitempty"`
	References         []referenceResponse `json:"references,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question cannot be empty")
		return
	}

	var userImage []byte
	if req.ImageBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid image_base64")
			return
		}
		userImage = decoded
	}

	result, err := s.query.Ask(r.Context(), req.Question, userImage)
	if err != nil {
		log.Printf("Query failed: %v", err)
		writeJSON(w, http.StatusBadGateway, askResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	if result.NoMatch {
		writeJSON(w, http.StatusOK, askResponse{
			Success:            true,
			Message:            "no relevant content found",
			OriginalQuestion:   result.Question,
			TranslatedQuestion: result.TranslatedQuestion,
			NoMatch:            true,
		})
		return
	}

	refs := make([]referenceResponse, 0, len(result.References))
	for _, ref := range result.References {
		refs = append(refs, referenceResponse{
			DocumentID: ref.DocumentID,
			PageIndex:  ref.PageIndex,
			ChunkIndex: ref.ChunkIndex,
			Score:      ref.Score,
		})
	}

	writeJSON(w, http.StatusOK, askResponse{
		Success:            true,
		Message:            "query processed",
		OriginalQuestion:   result.Question,
		TranslatedQuestion: result.TranslatedQuestion,
		Answer:             result.Answer,
		References:         refs,
	})
}

// Message is the WebSocket chat frame.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			continue
		}

		s.handleChatMessage(conn, msg)
	}
}

func (s *Server) handleChatMessage(conn *websocket.Conn, msg Message) {
	question := strings.TrimSpace(msg.Content)
	if question == "" {
		s.sendMessage(conn, "error", "question cannot be empty")
		return
	}

	s.sendMessage(conn, "status", "processing question")

	result, err := s.query.Ask(context.Background(), question, nil)
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("query failed: %v", err))
		return
	}

	if result.NoMatch {
		s.sendMessage(conn, "response", "no relevant content found")
		return
	}

	s.sendMessage(conn, "response", result.Answer)
	for _, ref := range result.References {
		s.sendMessage(conn, "reference", fmt.Sprintf("%s page %d", ref.DocumentID, ref.PageIndex))
	}
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType string, content string) {
	msg := Message{
		Type:    msgType,
		Content: content,
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}
