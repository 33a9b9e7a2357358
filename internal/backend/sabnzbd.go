package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SABnzbdClient talks to the SABnzbd JSON API.
type SABnzbdClient struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

// NewSABnzbdClient creates a SABnzbd backend.
func NewSABnzbdClient(name, baseURL, apiKey string, log *slog.Logger) *SABnzbdClient {
	if log == nil {
		log = slog.Default()
	}
	return &SABnzbdClient{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		log:     log.With("component", "sabnzbd"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the registry key for this backend.
func (c *SABnzbdClient) Name() string { return c.name }

// Progress reports percent complete for a queued or finished NZB.
func (c *SABnzbdClient) Progress(ctx context.Context, taskID string) (int, bool, error) {
	slot, inQueue, err := c.findSlot(ctx, taskID)
	if err != nil {
		return -1, false, err
	}
	if inQueue {
		return int(parseFloat(slot.Percentage)), false, nil
	}
	if slot.Status == "Failed" {
		return 100, false, fmt.Errorf("%w: %s", ErrTaskFailed, slot.FailMessage)
	}
	return 100, true, nil
}

// TaskName returns the NZB's display name.
func (c *SABnzbdClient) TaskName(ctx context.Context, taskID string) (string, error) {
	slot, _, err := c.findSlot(ctx, taskID)
	if err != nil {
		return "", err
	}
	return slot.SlotName, nil
}

// SaveFolder returns the completed download's storage directory.
// Queued tasks have no storage path yet.
func (c *SABnzbdClient) SaveFolder(ctx context.Context, taskID string) (string, error) {
	slot, inQueue, err := c.findSlot(ctx, taskID)
	if err != nil {
		return "", err
	}
	if inQueue || slot.Storage == "" {
		return "", fmt.Errorf("save folder %s: %w", taskID, ErrTaskNotFound)
	}
	return slot.Storage, nil
}

// Files is unsupported: SABnzbd does not expose per-file listings, the
// payload is inspected on disk after completion instead.
func (c *SABnzbdClient) Files(ctx context.Context, taskID string) ([]TaskFile, error) {
	return nil, ErrNotSupported
}

// Delete removes the NZB from the queue or history.
func (c *SABnzbdClient) Delete(ctx context.Context, taskID string, removeData bool) error {
	c.log.Debug("deleting nzb", "nzo_id", taskID, "remove_data", removeData)

	for _, mode := range []string{"queue", "history"} {
		params := url.Values{
			"apikey":    {c.apiKey},
			"output":    {"json"},
			"mode":      {mode},
			"name":      {"delete"},
			"value":     {taskID},
			"del_files": {boolParam(removeData)},
		}
		var resp struct {
			Status bool `json:"status"`
		}
		if err := c.doRequest(ctx, mode+"/delete", params, &resp); err != nil {
			return err
		}
		if resp.Status {
			return nil
		}
	}
	// Not in queue or history, nothing to delete.
	return nil
}

// slot is one entry from the queue or history listing.
type slot struct {
	NzoID       string `json:"nzo_id"`
	SlotName    string `json:"filename"`
	Status      string `json:"status"`
	Percentage  string `json:"percentage"`
	Storage     string `json:"storage"`
	FailMessage string `json:"fail_message"`
}

type queueResponse struct {
	Queue struct {
		Slots []slot `json:"slots"`
	} `json:"queue"`
}

type historyResponse struct {
	History struct {
		Slots []historySlot `json:"slots"`
	} `json:"history"`
}

type historySlot struct {
	NzoID       string `json:"nzo_id"`
	HistoryName string `json:"name"`
	Status      string `json:"status"`
	Storage     string `json:"storage"`
	FailMessage string `json:"fail_message"`
}

// findSlot looks a task up in the queue first, then the history.
func (c *SABnzbdClient) findSlot(ctx context.Context, taskID string) (*slot, bool, error) {
	params := url.Values{
		"apikey": {c.apiKey},
		"output": {"json"},
		"mode":   {"queue"},
	}
	var qr queueResponse
	if err := c.doRequest(ctx, "queue", params, &qr); err != nil {
		return nil, false, err
	}
	for i := range qr.Queue.Slots {
		if qr.Queue.Slots[i].NzoID == taskID {
			return &qr.Queue.Slots[i], true, nil
		}
	}

	params.Set("mode", "history")
	var hr historyResponse
	if err := c.doRequest(ctx, "history", params, &hr); err != nil {
		return nil, false, err
	}
	for _, h := range hr.History.Slots {
		if h.NzoID == taskID {
			return &slot{
				NzoID:       h.NzoID,
				SlotName:    h.HistoryName,
				Status:      h.Status,
				Percentage:  "100",
				Storage:     h.Storage,
				FailMessage: h.FailMessage,
			}, false, nil
		}
	}
	return nil, false, fmt.Errorf("nzo %s: %w", taskID, ErrTaskNotFound)
}

// doRequest performs an HTTP request to the SABnzbd API.
func (c *SABnzbdClient) doRequest(ctx context.Context, mode string, params url.Values, result any) error {
	start := time.Now()
	reqURL := c.baseURL + "/api?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("api request failed", "mode", mode, "error", err)
		return ErrClientUnavailable
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		c.log.Debug("api unexpected status", "mode", mode, "status", resp.StatusCode)
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	c.log.Debug("api request complete", "mode", mode, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// parseFloat parses a string to float64, returning 0 on error.
func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
