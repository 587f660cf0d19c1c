package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HTTPUploader performs direct PUTs to pre-authorized slot URIs.
type HTTPUploader struct {
	client *http.Client
	log    zerolog.Logger
}

// NewHTTPUploader creates an uploader with a bounded request timeout so a
// stalled PUT cannot wedge the queue.
func NewHTTPUploader(log zerolog.Logger) *HTTPUploader {
	return &HTTPUploader{
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log.With().Str("component", "evidence_uploader").Logger(),
	}
}

// Upload PUTs the image blob to the slot URI. A 2xx response succeeds;
// 429 and 5xx return retryable errors; any other status is fatal.
func (u *HTTPUploader) Upload(ctx context.Context, uri string, blob []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, bytes.NewReader(blob))
	if err != nil {
		return &FatalUploadError{Status: 0}
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload transport: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("upload rejected: status %d", resp.StatusCode)
	default:
		return &FatalUploadError{Status: resp.StatusCode}
	}
}

// HTTPAllocator requests pre-authorized slots from the external allocator
// service.
type HTTPAllocator struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewHTTPAllocator creates an allocator client for the given base URL.
func NewHTTPAllocator(baseURL string, log zerolog.Logger) *HTTPAllocator {
	return &HTTPAllocator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("component", "slot_allocator").Logger(),
	}
}

type allocateRequest struct {
	ExamID string `json:"exam_id"`
	Stream string `json:"stream"`
	Count  int    `json:"count"`
}

type allocateResponse struct {
	Slots []string `json:"slots"`
}

// RequestSlots asks the allocator for count additional slots.
func (a *HTTPAllocator) RequestSlots(ctx context.Context, examID uuid.UUID, stream StreamType, count int) ([]string, error) {
	body, err := json.Marshal(allocateRequest{
		ExamID: examID.String(),
		Stream: string(stream),
		Count:  count,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/slots", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("allocator transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("allocator status %d", resp.StatusCode)
	}

	var out allocateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Slots, nil
}
