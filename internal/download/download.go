// Package download fetches remote archives to local temporary files.
//
// Responses are checked before anything is kept on disk: a non-2xx status,
// a transport failure or a body that looks like an error page instead of an
// archive fails with fault.DownloadFailed and leaves no file behind. There
// is no overall timeout; a transfer runs until the server closes the
// connection or the caller cancels ctx.
package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"devstack/internal/fault"
	"devstack/internal/progress"
	"devstack/pkg/logging"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const subsystem = "Download"

// MinPayloadSize is the smallest body accepted as an archive.
const MinPayloadSize = 100

// errorBodyLimit bounds how much of an error response is quoted in messages.
const errorBodyLimit = 512

// suspiciousPrefixes mark bodies that are error pages rather than archives.
var suspiciousPrefixes = [][]byte{
	[]byte("<!DOCTYPE"),
	[]byte("<html"),
	[]byte("<?xml"),
	[]byte(`{"error"`),
}

// Client downloads URLs with retries on transient failures.
type Client struct {
	http    *retryablehttp.Client
	tempDir string
}

// Option configures a Client.
type Option func(*Client)

// WithRetryMax sets how many times a failed request is retried.
func WithRetryMax(n int) Option {
	return func(c *Client) { c.http.RetryMax = n }
}

// WithTempDir places downloaded files in dir instead of the system default.
func WithTempDir(dir string) Option {
	return func(c *Client) { c.tempDir = dir }
}

// NewClient returns a Client using a pooled transport and no request timeout.
func NewClient(opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.HTTPClient.Timeout = 0
	rc.RetryMax = 3
	rc.Logger = leveledLogger{}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{http: rc}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads url into a new temporary file and returns its path. The
// caller owns the file and must remove it.
func (c *Client) Fetch(ctx context.Context, url string, report progress.Func) (string, error) {
	progress.Report(report, fmt.Sprintf("Downloading %s", url))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fault.Wrap(fault.DownloadFailed, "download", url, err, "invalid download request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fault.Wrap(fault.DownloadFailed, "download", url, err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return "", fault.New(fault.DownloadFailed, "download", "server returned %s for %s: %s",
			resp.Status, url, bytes.TrimSpace(body))
	}

	// Sniff the head of the body before creating the destination file.
	head := make([]byte, MinPayloadSize)
	n, err := io.ReadFull(resp.Body, head)
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return "", fault.New(fault.DownloadFailed, "download", "payload from %s is only %d bytes", url, n)
	case err != nil:
		return "", fault.Wrap(fault.DownloadFailed, "download", url, err, "reading response")
	}
	if err := checkPayload(head); err != nil {
		return "", fault.Wrap(fault.DownloadFailed, "download", url, err, "rejected payload")
	}

	f, err := os.CreateTemp(c.tempDir, "devstack-download-*")
	if err != nil {
		return "", fault.Wrap(fault.DownloadFailed, "download", url, err, "creating temp file")
	}
	path := f.Name()

	written, err := io.Copy(f, io.MultiReader(bytes.NewReader(head), resp.Body))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fault.Wrap(fault.DownloadFailed, "download", url, err, "transfer interrupted")
	}

	logging.Debug(subsystem, "Downloaded %s (%d bytes) to %s", url, written, path)
	progress.Report(report, fmt.Sprintf("Downloaded %d bytes", written))
	return path, nil
}

// checkPayload applies the content-sniffing heuristic to the first bytes of
// a body.
func checkPayload(head []byte) error {
	if len(head) < MinPayloadSize {
		return fmt.Errorf("payload is only %d bytes", len(head))
	}
	trimmed := bytes.TrimLeft(head, " \t\r\n")
	for _, prefix := range suspiciousPrefixes {
		if len(trimmed) >= len(prefix) && bytes.EqualFold(trimmed[:len(prefix)], prefix) {
			return fmt.Errorf("payload looks like an error page (starts with %q)", prefix)
		}
	}
	return nil
}

// leveledLogger routes retryablehttp's logging into pkg/logging.
type leveledLogger struct{}

var _ retryablehttp.LeveledLogger = leveledLogger{}

func (leveledLogger) Error(msg string, kv ...interface{}) {
	logging.Error(subsystem, fmt.Errorf("%s", msg), "%v", kv)
}

func (leveledLogger) Info(msg string, kv ...interface{}) {
	logging.Debug(subsystem, "%s %v", msg, kv)
}

func (leveledLogger) Debug(msg string, kv ...interface{}) {
	logging.Debug(subsystem, "%s %v", msg, kv)
}

func (leveledLogger) Warn(msg string, kv ...interface{}) {
	logging.Warn(subsystem, "%s %v", msg, kv)
}
