package app

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/receipto/receipto/internal/extract"
	"github.com/receipto/receipto/internal/receipt"
	"github.com/receipto/receipto/internal/regression"
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes a JSON error body with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleListReceipts returns a list of all receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, receipts)
}

// handleUploadImage accepts a receipt image plus its request metadata and
// runs the extraction pipeline on it
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	// Max 50MB to handle high-resolution phone photos
	maxFormSize := int64(50 << 20)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if err.Error() == "http: no such file" {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > maxFormSize {
		jsonError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		ext := strings.ToLower(filepath.Ext(header.Filename))
		switch ext {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		default:
			contentType = "application/octet-stream"
		}
	}
	// HEIC/HEIF MIME types are preserved so image conversion can detect them
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	rec, err := s.service.ProcessImage(r.Context(), ProcessRequest{
		Filename:     header.Filename,
		Data:         data,
		ContentType:  contentType,
		ReceiptStyle: r.FormValue("receiptStyle"),
		EmailAddress: r.FormValue("emailAddress"),
		SheetFormat:  r.FormValue("sheetFormat"),
		Version:      r.FormValue("version"),
	})
	if err != nil {
		slog.Error("Error processing image", "filename", header.Filename, "error", err)
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		corsError(w, "Image address required", http.StatusBadRequest)
		return
	}
	rec, err := s.service.GetReceipt(address)
	if err != nil {
		corsError(w, "Receipt not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleGetReceiptImage returns the stored image for a receipt
func (s *Server) handleGetReceiptImage(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		corsError(w, "Image address required", http.StatusBadRequest)
		return
	}
	data, contentType, err := s.service.GetReceiptImage(address)
	if err != nil {
		corsError(w, "Image not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		corsError(w, "Image address required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteReceipt(address); err != nil {
		corsError(w, "Error deleting receipt", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handlePromoteReceipt copies an extracted receipt into the expected baseline
func (s *Server) handlePromoteReceipt(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		corsError(w, "Image address required", http.StatusBadRequest)
		return
	}
	rec, err := s.service.PromoteReceipt(address)
	if err != nil {
		if errors.Is(err, receipt.ErrNotFound) {
			corsError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		slog.Error("Error promoting receipt", "imageAddress", address, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// handleListReadFailures returns the images whose latest extraction failed
func (s *Server) handleListReadFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := s.service.ListReadFailures()
	if err != nil {
		slog.Error("Error listing read failures", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, failures)
}

// handleRunRegression replays the stored corpus under a ruleset version.
// Query params: version (defaults to the latest ruleset), concurrency.
func (s *Server) handleRunRegression(w http.ResponseWriter, r *http.Request) {
	version := r.URL.Query().Get("version")

	var opts []regression.Option
	if c := r.URL.Query().Get("concurrency"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil {
			jsonError(w, "concurrency must be an integer", http.StatusBadRequest)
			return
		}
		opts = append(opts, regression.WithConcurrency(n))
	}

	report, err := s.service.RunRegression(version, opts...)
	if err != nil {
		var unknown *extract.UnknownVersionError
		if errors.As(err, &unknown) {
			jsonError(w, unknown.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("Error running regression", "version", version, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// handleGetExpected returns the expected receipt for an image
func (s *Server) handleGetExpected(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		corsError(w, "Image address required", http.StatusBadRequest)
		return
	}
	rec, err := s.service.GetExpected(address)
	if err != nil {
		corsError(w, "Expected receipt not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleListExpected returns all expected receipts
func (s *Server) handleListExpected(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListExpected()
	if err != nil {
		slog.Error("Error listing expected receipts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, receipts)
}

// handleSaveExpected stores a hand-checked expected receipt. The image
// address in the path wins over whatever the body carries.
func (s *Server) handleSaveExpected(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		corsError(w, "Image address required", http.StatusBadRequest)
		return
	}

	var rec receipt.Receipt
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	rec.ImageAddress = address

	if err := s.service.SaveExpected(&rec); err != nil {
		slog.Error("Error saving expected receipt", "imageAddress", address, "error", err)
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, &rec)
}

// handleDownloadExpected copies every receipt without a baseline into the
// expected bucket
func (s *Server) handleDownloadExpected(w http.ResponseWriter, r *http.Request) {
	downloaded, err := s.service.DownloadReceiptsToExpected()
	if err != nil {
		slog.Error("Error downloading receipts to expected", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"downloaded": downloaded,
		"count":      len(downloaded),
	})
}

// handleOverwriteExpected replaces the baselines of the listed images with
// a re-extraction under the requested ruleset version. The body is a JSON
// array of image addresses; the version comes from the query string.
func (s *Server) handleOverwriteExpected(w http.ResponseWriter, r *http.Request) {
	version := r.URL.Query().Get("version")

	var imageAddresses []string
	if err := json.NewDecoder(r.Body).Decode(&imageAddresses); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(imageAddresses) == 0 {
		corsError(w, "Image addresses required", http.StatusBadRequest)
		return
	}

	if err := s.service.OverwriteExpected(version, imageAddresses); err != nil {
		var unknown *extract.UnknownVersionError
		if errors.As(err, &unknown) {
			jsonError(w, unknown.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, receipt.ErrNotFound) {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		slog.Error("Error overwriting expected receipts", "version", version, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"overwritten": imageAddresses,
		"count":       len(imageAddresses),
	})
}

// handleUpdateVersion re-extracts the whole corpus under a ruleset version
// and updates the stored receipts and read statuses
func (s *Server) handleUpdateVersion(w http.ResponseWriter, r *http.Request) {
	version := r.URL.Query().Get("version")

	report, err := s.service.UpdateVersion(r.Context(), version)
	if err != nil {
		var unknown *extract.UnknownVersionError
		if errors.As(err, &unknown) {
			jsonError(w, unknown.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("Error updating ruleset version", "version", version, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// handleDeleteExpected removes the expected receipt for an image
func (s *Server) handleDeleteExpected(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if address == "" {
		corsError(w, "Image address required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteExpected(address); err != nil {
		corsError(w, "Error deleting expected receipt", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListVersions returns the registered ruleset versions
func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"versions": s.service.Versions(),
		"default":  extract.DefaultVersion,
	})
}
