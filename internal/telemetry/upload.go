package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	// DefaultChunkSize is the number of NDJSON lines sent per request.
	DefaultChunkSize = 500
	// DefaultRequestTimeout bounds every upload request.
	DefaultRequestTimeout = 5 * time.Second

	maxUploadAttempts = 3
)

// UploaderOptions configures an Uploader.
type UploaderOptions struct {
	Endpoint  string
	Client    *http.Client
	ChunkSize int
	Logger    zerolog.Logger
	// NewBackOff returns the retry policy for one chunk.
	NewBackOff func() backoff.BackOff
}

// Uploader posts session logs to the collector endpoint.
type Uploader struct {
	endpoint   string
	client     *http.Client
	chunkSize  int
	newBackOff func() backoff.BackOff
	logger     zerolog.Logger
}

// NewUploader creates an Uploader.
func NewUploader(opts UploaderOptions) *Uploader {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	newBackOff := opts.NewBackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxElapsedTime = 10 * time.Second
			return backoff.WithMaxRetries(bo, maxUploadAttempts-1)
		}
	}
	return &Uploader{
		endpoint:   strings.TrimSpace(opts.Endpoint),
		client:     client,
		chunkSize:  chunkSize,
		newBackOff: newBackOff,
		logger:     opts.Logger.With().Str("component", "telemetry").Logger(),
	}
}

// UploadFile sends path in chunks of NDJSON lines and removes it. Invalid
// lines are skipped and failed chunks are logged, not returned.
func (u *Uploader) UploadFile(ctx context.Context, path string) error {
	if u.endpoint == "" {
		return errors.New("no telemetry endpoint configured")
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening session log: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	chunk := make([][]byte, 0, u.chunkSize)
	sent, failed := 0, 0
	flush := func() {
		if len(chunk) == 0 {
			return
		}
		if err := u.sendChunk(ctx, chunk); err != nil {
			failed++
			u.logger.Error().Err(err).Int("lines", len(chunk)).Msg("failed to send log chunk")
		} else {
			sent++
		}
		chunk = chunk[:0]
	}

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			u.logger.Warn().Str("line", string(line)).Msg("skipping invalid JSON line")
			continue
		}
		chunk = append(chunk, bytes.Clone(line))
		if len(chunk) >= u.chunkSize {
			flush()
		}
	}
	flush()
	scanErr := scanner.Err()
	_ = file.Close()
	if scanErr != nil {
		return fmt.Errorf("reading session log: %w", scanErr)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing uploaded session log: %w", err)
	}
	u.logger.Info().Str("path", path).Int("chunks", sent).Int("failed_chunks", failed).Msg("uploaded session log")
	return nil
}

func (u *Uploader) sendChunk(ctx context.Context, lines [][]byte) error {
	body := append(bytes.Join(lines, []byte("\n")), '\n')
	return backoff.Retry(func() error {
		err := u.post(ctx, body)
		var permanent *rejectedError
		if errors.As(err, &permanent) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(u.newBackOff(), ctx))
}

// rejectedError is a response that retrying will not fix.
type rejectedError struct {
	msg string
}

func (e *rejectedError) Error() string { return e.msg }

func (u *Uploader) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(body))
	if err != nil {
		return &rejectedError{msg: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting log chunk: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	text := strings.TrimSpace(string(raw))

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("log upload failed: %d %s", resp.StatusCode, text)
	case resp.StatusCode != http.StatusOK:
		return &rejectedError{msg: fmt.Sprintf("log upload failed: %d %s", resp.StatusCode, text)}
	case text == "":
		return &rejectedError{msg: "empty response received from server"}
	}
	return checkUploadResponse(text)
}

func checkUploadResponse(text string) error {
	var parsed struct {
		Errors bool `json:"errors"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		switch strings.ToLower(text) {
		case "ok", "success", "accepted":
			return nil
		}
		return &rejectedError{msg: fmt.Sprintf("invalid JSON response: %.200s", text)}
	}
	if parsed.Errors {
		return &rejectedError{msg: fmt.Sprintf("log upload contained errors: %.200s", text)}
	}
	return nil
}
