package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDecodeSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		json.NewEncoder(w).Encode(apiError{Error: "file too large", Kind: "admission_rejected"})
	}))
	defer srv.Close()
	serverURL = srv.URL

	err := getJSON("/api/tasks", nil)
	if err == nil {
		t.Fatal("Expected an error, got nil")
	}
	if !strings.Contains(err.Error(), "file too large") || !strings.Contains(err.Error(), "413") {
		t.Errorf("Expected message and status in error, got %q", err.Error())
	}
}

func TestUploadFilesSendsFieldsAndFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	os.WriteFile(a, []byte("hello"), 0o644)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Expected multipart body, got %v", err)
		}
		if got := r.FormValue("intent"); got != "style" {
			t.Errorf("Expected intent style, got %q", got)
		}
		if _, ok := r.MultipartForm.Value["category"]; ok {
			t.Error("Expected empty fields to be omitted")
		}
		fh := r.MultipartForm.File["file"]
		if len(fh) != 1 || fh[0].Filename != "a.txt" {
			t.Errorf("Expected one file a.txt, got %v", fh)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(taskRef{TaskID: "t1", Status: "queued", Filename: "a.txt"})
	}))
	defer srv.Close()
	serverURL = srv.URL

	var ref taskRef
	o := submitOptions{Intent: "style"}
	if err := uploadFiles("/api/process", "file", []string{a}, o.formFields(), &ref); err != nil {
		t.Fatalf("uploadFiles failed: %v", err)
	}
	if ref.TaskID != "t1" {
		t.Errorf("Expected task id t1, got %q", ref.TaskID)
	}
}

func TestCollectFilesSkipsHiddenAndDirs(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b.pdf"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644)
	os.Mkdir(filepath.Join(dir, "sub"), 0o755)

	files, err := collectFiles([]string{dir})
	if err != nil {
		t.Fatalf("collectFiles failed: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "a.txt" || filepath.Base(files[1]) != "b.pdf" {
		t.Errorf("Expected [a.txt b.pdf], got %v", files)
	}
}
