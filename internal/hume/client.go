package hume

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/MimeLyc/vibetracker/internal/errs"
	"github.com/MimeLyc/vibetracker/pkg/log"
	"golang.org/x/time/rate"
)

// modelSelection asks the batch API for facial expression predictions only.
const modelSelection = `{"models":{"face":{}}}`

// Client talks to the batch expression-measurement API.
// Safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates a client for the given configuration.
//
// Example:
//
//	client, err := hume.NewClient(&hume.Config{APIURL: hume.DefaultAPIURL, Timeout: 30})
//	job, err := client.Submit(ctx, frames, hume.Credentials{APIKey: key})
//	predictions, err := client.Poll(ctx, job, hume.PollOptions{Interval: time.Second, MaxAttempts: 60})
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	limit := rate.Inf
	burst := config.Burst
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}

	return &Client{
		config:  config,
		baseURL: strings.TrimRight(config.APIURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// CreateJobURL returns the endpoint batch jobs are posted to.
func (c *Client) CreateJobURL() string {
	return c.baseURL + "/batch/jobs"
}

func (c *Client) predictionsURL(jobID string) string {
	return c.baseURL + "/batch/jobs/" + url.PathEscape(jobID) + "/predictions"
}

// Submit packages all frames into one multipart request and starts a remote job.
// A non-success response fails with an errs.Submission error carrying the body.
func (c *Client) Submit(ctx context.Context, frames []Frame, creds Credentials) (Job, error) {
	if len(frames) == 0 {
		return Job{}, errs.New(errs.Submission, "no frames to submit")
	}
	if err := creds.Validate(); err != nil {
		return Job{}, errs.Wrap(err, errs.Config, "invalid credentials")
	}

	body, contentType, err := buildJobForm(frames)
	if err != nil {
		return Job{}, errs.Wrap(err, errs.Submission, "failed to build multipart body")
	}

	status, respBody, err := c.do(ctx, http.MethodPost, c.CreateJobURL(), body, contentType, creds)
	if err != nil {
		return Job{}, errs.Wrap(err, errs.Submission, "failed to create job")
	}
	if status < 200 || status >= 300 {
		return Job{}, errs.Newf(errs.Submission, "failed to create job: status %d: %s", status, string(respBody)).
			WithContext("status", status)
	}

	var created struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return Job{}, errs.Wrap(err, errs.Submission, "failed to parse create job response: "+string(respBody))
	}
	if created.JobID == "" {
		return Job{}, errs.New(errs.Submission, "create job response has no job_id: "+string(respBody))
	}

	log.Info("Created remote job %s with %d frames", created.JobID, len(frames))
	return Job{ID: created.JobID, SubmittedAt: time.Now()}, nil
}

// Poll waits opts.Interval before every attempt and returns the predictions of
// the first successful fetch. Missing or failed jobs end polling immediately
// with errs.JobFailed; after opts.MaxAttempts transient failures it returns
// errs.PollTimeout. Cancelling ctx aborts the wait.
func (c *Client) Poll(ctx context.Context, job Job, creds Credentials, opts PollOptions) ([]Prediction, error) {
	opts = opts.withDefaults()
	opts.notify(StateSubmitted, 0)

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		opts.notify(StatePolling, attempt)
		predictions, err := c.fetchPredictions(ctx, job.ID, creds)
		if err == nil {
			opts.notify(StateSucceeded, attempt)
			return predictions, nil
		}
		if errs.IsType(err, errs.JobFailed) {
			opts.notify(StateFailed, attempt)
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		log.Debug("Job %s not ready (attempt %d/%d): %v", job.ID, attempt, opts.MaxAttempts, err)
	}

	opts.notify(StateTimedOut, opts.MaxAttempts)
	return nil, errs.Wrap(lastErr, errs.PollTimeout,
		fmt.Sprintf("job %s not ready after %d attempts", job.ID, opts.MaxAttempts)).
		WithContext("job_id", job.ID)
}

// fetchPredictions performs one poll attempt.
func (c *Client) fetchPredictions(ctx context.Context, jobID string, creds Credentials) ([]Prediction, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.predictionsURL(jobID), nil, "", creds)
	if err != nil {
		return nil, errs.Wrap(err, errs.Network, "failed to fetch predictions")
	}

	switch {
	case status >= 200 && status < 300:
		var raw []sourcePredictions
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, errs.Wrap(err, errs.Network, "failed to parse predictions")
		}
		return toPredictions(raw), nil
	case status == http.StatusNotFound:
		return nil, errs.Newf(errs.JobFailed, "job %s not found: %s", jobID, string(body))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, errs.Newf(errs.JobFailed, "not authorized to read job %s: status %d: %s", jobID, status, string(body))
	}

	if failed, message := reportsFailure(body); failed {
		return nil, errs.Newf(errs.JobFailed, "job %s failed: %s", jobID, message)
	}
	return nil, errs.Newf(errs.Network, "predictions not available: status %d: %s", status, string(body)).
		WithContext("status", status)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string, creds Credentials) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range creds.Headers() {
		req.Header.Set(key, value)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return 0, nil, fmt.Errorf("request timed out: %w", err)
		}
		return 0, nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func buildJobForm(frames []Frame) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	if err := w.WriteField("json", modelSelection); err != nil {
		return nil, "", err
	}

	for i, f := range frames {
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("frame-%d", i)
		}
		mediaType := f.MediaType
		if mediaType == "" {
			mediaType = "application/octet-stream"
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
		header.Set("Content-Type", mediaType)
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func reportsFailure(body []byte) (bool, string) {
	var state jobStateBody
	if err := json.Unmarshal(body, &state); err != nil {
		return false, ""
	}
	if state.State != nil && strings.EqualFold(state.State.Status, "FAILED") {
		return true, state.State.Message
	}
	if strings.EqualFold(state.Status, "FAILED") {
		return true, state.Message
	}
	return false, ""
}

func toPredictions(raw []sourcePredictions) []Prediction {
	ret := make([]Prediction, 0, len(raw))
	for _, src := range raw {
		p := Prediction{Source: src.Source.Filename}
		if src.Results != nil {
			for _, file := range src.Results.Predictions {
				if p.Source == "" {
					p.Source = file.File
				}
				if file.Models.Face == nil {
					continue
				}
				for _, group := range file.Models.Face.GroupedPredictions {
					for _, face := range group.Predictions {
						p.Faces = append(p.Faces, Face{Emotions: face.Emotions})
					}
				}
			}
			for _, e := range src.Results.Errors {
				log.Warn("Prediction error for %s: %s", e.File, e.Message)
			}
		}
		if src.Error != "" {
			log.Warn("Prediction error for %s: %s", p.Source, src.Error)
		}
		ret = append(ret, p)
	}
	return ret
}
