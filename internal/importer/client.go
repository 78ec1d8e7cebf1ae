package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"importdeck/config"
	"importdeck/internal/models"
	"importdeck/pkg/logger"
)

const (
	RequestTimeoutSec = 30
	UploadTimeoutSec  = 3600 // large CSV uploads can run long; context still cancels early
	UserAgent         = "Importdeck/1.0 (Import Job Tracker)"
)

// Client consumes the import backend's HTTP interface. The backend owns all
// job and product state; this client only observes and issues commands.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	uploadClient *http.Client
	log          logger.Logger
}

func NewClient(cfg config.Config) *Client {
	log := logger.New("importerClient")

	transport := &http.Transport{
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
		MaxConnsPerHost: 10,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.ImportAPIURL, "/"),
		httpClient: &http.Client{
			Timeout:   RequestTimeoutSec * time.Second,
			Transport: transport,
		},
		uploadClient: &http.Client{
			Timeout:   UploadTimeoutSec * time.Second,
			Transport: transport,
		},
		log: log,
	}
}

type uploadResponse struct {
	JobID int64 `json:"job_id"`
}

type jobsEnvelope struct {
	Jobs []json.RawMessage `json:"jobs"`
}

// ListJobs fetches the recent-jobs snapshot. The endpoint historically served
// both a bare array and a {"jobs": [...]} envelope, so both are accepted. A
// record that fails to decode is dropped individually; it never fails the
// batch.
func (c *Client) ListJobs(ctx context.Context, limit int) ([]models.ImportJob, error) {
	log := c.log.Function("ListJobs")

	url := fmt.Sprintf("%s/import-jobs?limit=%d", c.baseURL, limit)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	raw, err := decodeJobList(body)
	if err != nil {
		return nil, log.Err("failed to decode job list payload", err)
	}

	jobs := make([]models.ImportJob, 0, len(raw))
	for _, record := range raw {
		var job models.ImportJob
		if err := json.Unmarshal(record, &job); err != nil {
			log.Warn("Dropping undecodable job record", "error", err)
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

func decodeJobList(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var envelope jobsEnvelope
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	return envelope.Jobs, nil
}

// UploadCSV submits a file as multipart form data and returns the new job id.
func (c *Client) UploadCSV(ctx context.Context, filename string, file io.Reader) (int64, error) {
	log := c.log.Function("UploadCSV")

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return 0, log.Err("failed to create multipart field", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return 0, log.Err("failed to copy upload body", err, "filename", filename)
	}
	if err := writer.Close(); err != nil {
		return 0, log.Err("failed to finalize multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload-csv", &buf)
	if err != nil {
		return 0, log.Err("failed to build upload request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return 0, log.Err("upload request failed", err, "filename", filename)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, log.Err(
			"upload rejected by server",
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, readErrorDetail(resp.Body)),
			"filename", filename,
		)
	}

	var result uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, log.Err("failed to decode upload response", err)
	}

	log.Info("Upload accepted", "filename", filename, "jobID", result.JobID)
	return result.JobID, nil
}

// DeleteJob asks the server to delete a job; the server cancels it first if it
// is still running.
func (c *Client) DeleteJob(ctx context.Context, id int64) error {
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("%s/import-jobs/%d", c.baseURL, id))
}

// RetryJob asks the server to restart processing for a failed job.
func (c *Client) RetryJob(ctx context.Context, id int64) error {
	return c.send(ctx, http.MethodPost, fmt.Sprintf("%s/import-jobs/%d/retry", c.baseURL, id))
}

// FetchStats retrieves the server-computed aggregate counters.
func (c *Client) FetchStats(ctx context.Context) (models.Stats, error) {
	log := c.log.Function("FetchStats")

	body, err := c.get(ctx, c.baseURL+"/stats")
	if err != nil {
		return models.Stats{}, err
	}

	var stats models.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return models.Stats{}, log.Err("failed to decode stats payload", err)
	}

	return stats, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	log := c.log.Function("get")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, log.Err("failed to build request", err, "url", url)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, log.Err("request failed", err, "url", url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, log.Err(
			"unexpected response status",
			fmt.Errorf("status %d", resp.StatusCode),
			"url", url,
		)
	}

	return io.ReadAll(resp.Body)
}

func (c *Client) send(ctx context.Context, method, url string) error {
	log := c.log.Function("send")

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return log.Err("failed to build request", err, "method", method, "url", url)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return log.Err("request failed", err, "method", method, "url", url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return log.Err(
			"command rejected by server",
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, readErrorDetail(resp.Body)),
			"method", method,
			"url", url,
		)
	}

	return nil
}

func readErrorDetail(body io.Reader) string {
	detail, err := io.ReadAll(io.LimitReader(body, 512))
	if err != nil || len(detail) == 0 {
		return "no detail"
	}
	return string(bytes.TrimSpace(detail))
}
