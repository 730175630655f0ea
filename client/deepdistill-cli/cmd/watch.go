package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

type taskEvent struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	StepLabel string `json:"step_label"`
	Terminal  bool   `json:"terminal"`
	Task      struct {
		Error        *string         `json:"error"`
		ExportResult json.RawMessage `json:"export_result"`
	} `json:"task"`
}

var watchCmd = &cobra.Command{
	Use:   "watch [task-id]",
	Short: "Follow the progress of a task until it finishes",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		watchTask(args[0])
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func watchTask(taskID string) {
	resp, err := http.Get(endpoint("/api/tasks/" + url.PathEscape(taskID) + "/events"))
	if err != nil {
		log.Fatalf("Error connecting to event stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		if err := decode(resp, nil); err != nil {
			log.Fatalf("Error opening event stream: %v", err)
		}
	}
	defer resp.Body.Close()

	// text/event-stream: "event:" and "data:" lines, blank line ends an event.
	var name string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if name == "error" {
				log.Fatalf("Server reported an error: %s", data)
			}
			var ev taskEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				log.Printf("Error decoding event: %v. Raw message: %s", err, data)
				continue
			}
			fmt.Printf("[%3d%%] %-10s %s\n", ev.Progress, ev.Status, ev.StepLabel)
			if ev.Terminal {
				finish(ev)
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read: %v", err)
	}
}

func finish(ev taskEvent) {
	if ev.Task.Error != nil {
		fmt.Printf("Task failed: %s\n", *ev.Task.Error)
		return
	}
	fmt.Printf("Task completed. Run: deepdistill-cli status %s\n", ev.TaskID)
	if len(ev.Task.ExportResult) > 0 && string(ev.Task.ExportResult) != "null" {
		fmt.Printf("Export: %s\n", ev.Task.ExportResult)
	}
}
