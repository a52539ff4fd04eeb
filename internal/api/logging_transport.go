package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	"go-arcenciel-browser/internal/helpers"

	log "github.com/sirupsen/logrus"
)

var (
	openTransports   []*LoggingTransport
	openTransportsMu sync.Mutex
)

// LoggingTransport dumps every catalog request and response to a log file.
// JSON bodies are logged in full; other bodies (model files, thumbnails) are
// left untouched.
type LoggingTransport struct {
	Transport http.RoundTripper
	file      *os.File
	writer    *bufio.Writer
	mu        sync.Mutex
}

// NewLoggingTransport wraps transport and appends to logFilePath.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	safePath := helpers.SanitizePath(logFilePath)
	// #nosec G304
	f, err := os.OpenFile(safePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", safePath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	lt := &LoggingTransport{Transport: transport, file: f, writer: bufio.NewWriter(f)}

	openTransportsMu.Lock()
	openTransports = append(openTransports, lt)
	openTransportsMu.Unlock()
	log.Debugf("API request logging enabled, writing to %s", safePath)
	return lt, nil
}

// RoundTrip implements http.RoundTripper.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	if dump, err := httputil.DumpRequestOut(req, false); err == nil {
		t.write(fmt.Sprintf("--- Request (%s) ---\n%s", start.Format(time.RFC3339), dump))
	}

	resp, err := t.Transport.RoundTrip(req)
	elapsed := time.Since(start)

	if err != nil {
		t.write(fmt.Sprintf("--- Response Error (%v) ---\n%s", elapsed, err))
		return resp, err
	}

	contentType := resp.Header.Get("Content-Type")
	head, _ := httputil.DumpResponse(resp, false)
	if !strings.HasPrefix(contentType, "application/json") {
		t.write(fmt.Sprintf("--- Response (%v, %s) ---\n%s(body not logged)", elapsed, contentType, head))
		return resp, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if readErr != nil {
		t.write(fmt.Sprintf("--- Response (%v) ---\n%s(body read failed: %v)", elapsed, head, readErr))
		return resp, nil
	}
	t.write(fmt.Sprintf("--- Response (%v) ---\n%s%s", elapsed, head, body))
	return resp, nil
}

func (t *LoggingTransport) write(entry string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.writer.WriteString(entry + "\n\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
		return
	}
	if err := t.writer.Flush(); err != nil {
		log.WithError(err).Error("Failed to flush API log")
	}
}

// Close flushes and closes the log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writer.Flush(); err != nil {
		t.file.Close()
		return fmt.Errorf("failed to flush API log buffer: %w", err)
	}
	return t.file.Close()
}

// CloseAllLoggingTransports closes every transport opened by this process.
func CloseAllLoggingTransports() {
	openTransportsMu.Lock()
	defer openTransportsMu.Unlock()
	for _, t := range openTransports {
		if err := t.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing API log %s: %v\n", t.file.Name(), err)
		}
	}
	openTransports = nil
}
