// Command smoke probes a running portal instance and exits non-zero when any
// critical endpoint misbehaves. Used by deploy pipelines as a post-release
// gate.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type probe struct {
	Method     string
	Path       string
	WantStatus int
}

var probes = []probe{
	{http.MethodGet, "/health", http.StatusOK},
	{http.MethodGet, "/ready", http.StatusOK},
	{http.MethodGet, "/api/v1/announcements", http.StatusOK},
	// protected routes must refuse anonymous callers
	{http.MethodGet, "/metrics", http.StatusUnauthorized},
	{http.MethodGet, "/api/v1/profiles/me", http.StatusUnauthorized},
	{http.MethodGet, "/api/v1/change-requests", http.StatusUnauthorized},
	{http.MethodGet, "/api/v1/fees/quotes", http.StatusUnauthorized},
}

func main() {
	var (
		base    string
		timeout time.Duration
	)
	flag.StringVar(&base, "base", "http://localhost:8080", "portal base URL")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	client := &http.Client{Timeout: timeout}
	failures := 0

	for _, p := range probes {
		status, latency, err := run(client, base, p)
		if err != nil {
			failures++
			fmt.Printf("[FAIL] %s %s: %v\n", p.Method, p.Path, err)
			continue
		}
		if status != p.WantStatus {
			failures++
			fmt.Printf("[FAIL] %s %s: status %d, want %d (%s)\n", p.Method, p.Path, status, p.WantStatus, latency)
			continue
		}
		fmt.Printf("[ OK ] %s %s: %d (%s)\n", p.Method, p.Path, status, latency)
	}

	if failures > 0 {
		fmt.Printf("%d probe(s) failed\n", failures)
		os.Exit(1)
	}
	fmt.Println("all probes passed")
}

func run(client *http.Client, base string, p probe) (int, time.Duration, error) {
	url := strings.TrimRight(base, "/") + p.Path
	req, err := http.NewRequest(p.Method, url, nil)
	if err != nil {
		return 0, 0, err
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	latency := time.Since(start)
	if p.Path == "/ready" && resp.StatusCode == http.StatusOK {
		if err := checkReadyBody(resp.Body); err != nil {
			return resp.StatusCode, latency, err
		}
	}
	return resp.StatusCode, latency, nil
}

func checkReadyBody(body io.Reader) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read ready body: %w", err)
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode ready body: %w", err)
	}
	if payload.Status != "ready" {
		return fmt.Errorf("unexpected ready status %q", payload.Status)
	}
	return nil
}
