package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

type upload struct {
	name string
	data []byte
}

// readUpload reads the multipart "file" field, capped at maxBytes.
func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (upload, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return upload{}, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return upload{}, http.StatusBadRequest, fmt.Errorf("file is required: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return upload{}, http.StatusInternalServerError, fmt.Errorf("failed to read file")
	}
	if int64(len(data)) > maxBytes {
		return upload{}, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds max size (%d bytes)", maxBytes)
	}
	return upload{name: sanitizeFilename(header.Filename), data: data}, 0, nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
