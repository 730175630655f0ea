package cmd

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// submitOptions mirrors the per-task options accepted by the server.
type submitOptions struct {
	Intent       string `json:"intent,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
	DocType      string `json:"doc_type,omitempty"`
	AutoExport   bool   `json:"auto_export,omitempty"`
	ExportFormat string `json:"export_format,omitempty"`
	Category     string `json:"category,omitempty"`
}

func (o submitOptions) formFields() map[string]string {
	return map[string]string{
		"intent":        o.Intent,
		"output_format": o.OutputFormat,
		"doc_type":      o.DocType,
		"auto_export":   strconv.FormatBool(o.AutoExport),
		"export_format": o.ExportFormat,
		"category":      o.Category,
	}
}

var (
	opts       submitOptions
	watchAfter bool
	listStatus string
	listLimit  int
	exportCat  string
	exportFmt  string
)

var submitCmd = &cobra.Command{
	Use:   "submit [file-or-url]",
	Short: "Submit a file or a URL for processing",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var ref taskRef
		target := args[0]
		var err error
		if isURL(target) {
			err = postJSON("/api/process/url", urlPayload{URL: target, submitOptions: opts}, &ref)
		} else {
			err = uploadFiles("/api/process", "file", []string{target}, opts.formFields(), &ref)
		}
		if err != nil {
			log.Fatalf("Error submitting task: %v", err)
		}
		fmt.Printf("Task submitted successfully!\nTask ID: %s\n", ref.TaskID)
		if watchAfter {
			watchTask(ref.TaskID)
			return
		}
		fmt.Printf("To watch progress, run: deepdistill-cli watch %s\n", ref.TaskID)
	},
}

type urlPayload struct {
	URL string `json:"url"`
	submitOptions
}

type localPayload struct {
	Path string `json:"path"`
	submitOptions
}

var localCmd = &cobra.Command{
	Use:   "local [server-path]",
	Short: "Process a file that already sits on the server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var ref taskRef
		if err := postJSON("/api/process/local", localPayload{Path: args[0], submitOptions: opts}, &ref); err != nil {
			log.Fatalf("Error submitting task: %v", err)
		}
		fmt.Printf("Task submitted successfully!\nTask ID: %s\n", ref.TaskID)
		if watchAfter {
			watchTask(ref.TaskID)
		}
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [dir-or-files...]",
	Short: "Submit several files in one request",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		files, err := collectFiles(args)
		if err != nil {
			log.Fatalf("Error reading input: %v", err)
		}
		if len(files) == 0 {
			log.Fatal("No files to submit")
		}
		var resp struct {
			Tasks []taskRef `json:"tasks"`
		}
		if err := uploadFiles("/api/process/batch", "files", files, opts.formFields(), &resp); err != nil {
			log.Fatalf("Error submitting batch: %v", err)
		}
		for _, t := range resp.Tasks {
			fmt.Printf("%s\t%s\n", t.TaskID, t.Filename)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show the current state of a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var task map[string]interface{}
		if err := getJSON("/api/tasks/"+url.PathEscape(args[0]), &task); err != nil {
			log.Fatalf("Error fetching task: %v", err)
		}
		printJSON(task)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent tasks",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		q := url.Values{}
		if listStatus != "" {
			q.Set("status", listStatus)
		}
		if listLimit > 0 {
			q.Set("limit", strconv.Itoa(listLimit))
		}
		path := "/api/tasks"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		var tasks []struct {
			ID        string `json:"id"`
			Filename  string `json:"filename"`
			Status    string `json:"status"`
			Progress  int    `json:"progress"`
			StepLabel string `json:"step_label"`
		}
		if err := getJSON(path, &tasks); err != nil {
			log.Fatalf("Error listing tasks: %v", err)
		}
		for _, t := range tasks {
			fmt.Printf("%s\t%-10s\t%3d%%\t%s\t%s\n", t.ID, t.Status, t.Progress, t.StepLabel, t.Filename)
		}
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [task-id]",
	Short: "Export the result of a completed task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var receipt map[string]interface{}
		payload := map[string]string{"category": exportCat, "format": exportFmt}
		if err := postJSON("/api/tasks/"+url.PathEscape(args[0])+"/export", payload, &receipt); err != nil {
			log.Fatalf("Error exporting task: %v", err)
		}
		printJSON(receipt)
	},
}

func init() {
	for _, c := range []*cobra.Command{submitCmd, localCmd, batchCmd} {
		c.Flags().StringVar(&opts.Intent, "intent", "", "analysis intent: content or style")
		c.Flags().StringVar(&opts.OutputFormat, "output-format", "", "rendered output: markdown or json")
		c.Flags().StringVar(&opts.DocType, "doc-type", "", "exported documents: doc, skill or both")
		c.Flags().BoolVar(&opts.AutoExport, "auto-export", false, "export the result when processing finishes")
		c.Flags().StringVar(&opts.ExportFormat, "export-format", "", "export file format: doc, word or excel")
		c.Flags().StringVar(&opts.Category, "category", "", "export category, inferred when empty")
	}
	submitCmd.Flags().BoolVarP(&watchAfter, "watch", "w", false, "follow progress after submitting")
	localCmd.Flags().BoolVarP(&watchAfter, "watch", "w", false, "follow progress after submitting")
	listCmd.Flags().StringVar(&listStatus, "status", "", "only show tasks in this status")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of tasks")
	exportCmd.Flags().StringVar(&exportCat, "category", "", "export category")
	exportCmd.Flags().StringVar(&exportFmt, "format", "", "export file format")

	rootCmd.AddCommand(submitCmd, localCmd, batchCmd, statusCmd, listCmd, exportCmd)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// collectFiles expands directories one level deep, skipping hidden entries.
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, a := range args {
		info, err := os.Stat(a)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, a)
			continue
		}
		entries, err := os.ReadDir(a)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			files = append(files, filepath.Join(a, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
