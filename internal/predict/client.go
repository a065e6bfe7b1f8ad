package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/audiolibrelab/chordwatch/internal/audio"
	"github.com/audiolibrelab/chordwatch/internal/config"
	"github.com/audiolibrelab/chordwatch/internal/wav"
)

// DefaultFailureMessage is shown when the service fails without saying why
const DefaultFailureMessage = "Failed to analyze audio"

// ErrMalformedResponse means a 2xx response carried no usable prediction
var ErrMalformedResponse = errors.New("malformed response from server")

// ServerError is a failure reported by the prediction service
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("prediction service returned %d: %s", e.StatusCode, e.Message)
}

// TransportError wraps network failures reaching the service
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to reach prediction service: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Response is the JSON body returned by the service
type Response struct {
	Prediction string `json:"prediction,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Client uploads clips to the prediction endpoint
type Client struct {
	url        string
	fileField  string
	fileName   string
	httpClient *http.Client
}

// New creates a client from the predictor settings
func New(cfg *config.Config) *Client {
	return &Client{
		url:        cfg.PredictURL(),
		fileField:  cfg.Predictor.FileField,
		fileName:   cfg.Predictor.FileName,
		httpClient: &http.Client{Timeout: cfg.PredictorTimeout()},
	}
}

// URL returns the endpoint the client posts to
func (c *Client) URL() string {
	return c.url
}

// Classify encodes the clip as WAV and returns the predicted chord label
func (c *Client) Classify(ctx context.Context, clip *audio.Clip) (string, error) {
	data, err := wav.Bytes(clip.Samples, clip.SampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode clip: %w", err)
	}
	return c.Predict(ctx, bytes.NewReader(data), clip.ID)
}

// Predict uploads WAV data as multipart form data. correlationID may be empty.
func (c *Client) Predict(ctx context.Context, r io.Reader, correlationID string) (string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile(c.fileField, c.fileName)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("failed to write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}

	slog.Debug("Sending clip to prediction service", "url", c.url, "bytes", body.Len(), "correlation_id", correlationID)
	sent := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	var out Response
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)

	slog.Debug("Prediction response received", "status", resp.StatusCode, "latency_ms", time.Since(sent).Milliseconds(), "correlation_id", correlationID)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := DefaultFailureMessage
		if decodeErr == nil && out.Error != "" {
			msg = out.Error
		}
		return "", &ServerError{StatusCode: resp.StatusCode, Message: msg}
	}

	if decodeErr != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, decodeErr)
	}
	if out.Prediction == "" {
		if out.Error != "" {
			return "", &ServerError{StatusCode: resp.StatusCode, Message: out.Error}
		}
		return "", fmt.Errorf("%w: missing prediction field", ErrMalformedResponse)
	}

	return out.Prediction, nil
}
