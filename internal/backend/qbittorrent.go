package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// QBittorrentClient talks to the qBittorrent Web API v2.
type QBittorrentClient struct {
	name       string
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	log        *slog.Logger
	loggedIn   bool
}

// NewQBittorrentClient creates a qBittorrent backend.
func NewQBittorrentClient(name, baseURL, username, password string, log *slog.Logger) *QBittorrentClient {
	if log == nil {
		log = slog.Default()
	}
	jar, _ := cookiejar.New(nil)
	return &QBittorrentClient{
		name:     name,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		username: username,
		password: password,
		log:      log.With("component", "qbittorrent"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
	}
}

// Name returns the registry key for this backend.
func (c *QBittorrentClient) Name() string { return c.name }

// finished torrent states per the Web API docs.
var qbFinishedStates = map[string]bool{
	"uploading":  true,
	"stalledUP":  true,
	"pausedUP":   true,
	"stoppedUP":  true,
	"queuedUP":   true,
	"forcedUP":   true,
	"checkingUP": true,
}

// Progress reports percent complete and whether the torrent finished.
func (c *QBittorrentClient) Progress(ctx context.Context, taskID string) (int, bool, error) {
	t, err := c.torrentInfo(ctx, taskID)
	if err != nil {
		return -1, false, err
	}
	if t.State == "error" || t.State == "missingFiles" {
		return int(t.Progress * 100), false, fmt.Errorf("%w: state %s", ErrTaskFailed, t.State)
	}
	return int(t.Progress * 100), qbFinishedStates[t.State], nil
}

// TaskName returns the torrent's current display name.
func (c *QBittorrentClient) TaskName(ctx context.Context, taskID string) (string, error) {
	t, err := c.torrentInfo(ctx, taskID)
	if err != nil {
		return "", err
	}
	return t.TorrentName, nil
}

// SaveFolder returns the torrent's save path.
func (c *QBittorrentClient) SaveFolder(ctx context.Context, taskID string) (string, error) {
	t, err := c.torrentInfo(ctx, taskID)
	if err != nil {
		return "", err
	}
	return t.SavePath, nil
}

// Files lists the torrent's payload files relative to the save folder.
func (c *QBittorrentClient) Files(ctx context.Context, taskID string) ([]TaskFile, error) {
	params := url.Values{"hash": {taskID}}
	var resp []struct {
		FileName string `json:"name"`
		Size     int64  `json:"size"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "torrents/files", params, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("files %s: %w", taskID, ErrTaskNotFound)
	}
	files := make([]TaskFile, 0, len(resp))
	for _, f := range resp {
		files = append(files, TaskFile{Path: f.FileName, Size: f.Size})
	}
	return files, nil
}

// Delete removes the torrent, and its data when removeData is set.
func (c *QBittorrentClient) Delete(ctx context.Context, taskID string, removeData bool) error {
	c.log.Debug("deleting torrent", "hash", taskID, "remove_data", removeData)

	params := url.Values{
		"hashes":      {taskID},
		"deleteFiles": {fmt.Sprintf("%t", removeData)},
	}
	return c.doRequest(ctx, http.MethodPost, "torrents/delete", params, nil)
}

type qbTorrent struct {
	Hash        string  `json:"hash"`
	TorrentName string  `json:"name"`
	State       string  `json:"state"`
	Progress    float64 `json:"progress"` // 0.0-1.0
	SavePath    string  `json:"save_path"`
}

func (c *QBittorrentClient) torrentInfo(ctx context.Context, hash string) (*qbTorrent, error) {
	params := url.Values{"hashes": {strings.ToLower(hash)}}
	var torrents []qbTorrent
	if err := c.doRequest(ctx, http.MethodGet, "torrents/info", params, &torrents); err != nil {
		return nil, err
	}
	if len(torrents) == 0 {
		return nil, fmt.Errorf("torrent %s: %w", hash, ErrTaskNotFound)
	}
	return &torrents[0], nil
}

// login authenticates and stores the session cookie in the jar.
func (c *QBittorrentClient) login(ctx context.Context) error {
	form := url.Values{
		"username": {c.username},
		"password": {c.password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("login request failed", "error", err)
		return ErrClientUnavailable
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusForbidden {
		return ErrInvalidAPIKey
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login unexpected status: %d", resp.StatusCode)
	}
	c.loggedIn = true
	return nil
}

// doRequest performs an API request, logging in on the first call and
// retrying once after a 403 when the session expired.
func (c *QBittorrentClient) doRequest(ctx context.Context, method, endpoint string, params url.Values, result any) error {
	if !c.loggedIn {
		if err := c.login(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	resp, err := c.send(ctx, method, endpoint, params)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusForbidden {
		_ = resp.Body.Close()
		if err := c.login(ctx); err != nil {
			return err
		}
		resp, err = c.send(ctx, method, endpoint, params)
		if err != nil {
			return err
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrTaskNotFound
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Debug("api unexpected status", "endpoint", endpoint, "status", resp.StatusCode)
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	c.log.Debug("api request complete", "endpoint", endpoint, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (c *QBittorrentClient) send(ctx context.Context, method, endpoint string, params url.Values) (*http.Response, error) {
	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method,
			c.baseURL+"/api/v2/"+endpoint, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method,
			c.baseURL+"/api/v2/"+endpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("api request failed", "endpoint", endpoint, "error", err)
		return nil, ErrClientUnavailable
	}
	return resp, nil
}
