package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// apiError is the error body returned by the control plane.
type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type taskRef struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Filename string `json:"filename"`
}

func endpoint(path string) string {
	return strings.TrimRight(serverURL, "/") + path
}

// decode reads a JSON response, turning non-2xx statuses into errors.
func decode(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e apiError
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			if e.Kind != "" {
				return fmt.Errorf("%s (%s, status %d)", e.Error, e.Kind, resp.StatusCode)
			}
			return fmt.Errorf("%s (status %d)", e.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error creating JSON payload: %w", err)
	}
	resp, err := http.Post(endpoint(path), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func getJSON(path string, out interface{}) error {
	resp, err := http.Get(endpoint(path))
	if err != nil {
		return err
	}
	return decode(resp, out)
}

// uploadFiles sends files as one multipart request under the given field name.
func uploadFiles(path, field string, files []string, fields map[string]string, out interface{}) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeParts(mw, field, files, fields)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()
	resp, err := http.Post(endpoint(path), mw.FormDataContentType(), pr)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func writeParts(mw *multipart.Writer, field string, files []string, fields map[string]string) error {
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	for _, f := range files {
		if err := copyFile(mw, field, f); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(mw *multipart.Writer, field, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(out))
}
