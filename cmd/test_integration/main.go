package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

func main() {
	baseURL := os.Getenv("CROSSCHECK_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	engagementID := os.Getenv("ENGAGEMENT_ID")
	if engagementID == "" {
		engagementID = uuid.NewString()
	}

	// Give a freshly started server time to bind.
	time.Sleep(2 * time.Second)

	fmt.Println("Starting smoke test for engagement", engagementID)
	prefix := "/api/v1/engagements/" + engagementID

	steps := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"Health", http.MethodGet, "/healthz", nil},
		{"Seed term", http.MethodPost, prefix + "/seed-terms", map[string]string{"term": "Approve Invoice", "domain": "AP"}},
		{"Detect", http.MethodPost, prefix + "/conflicts/detect", nil},
		{"Classify", http.MethodPost, prefix + "/conflicts/classify", nil},
		{"List", http.MethodGet, prefix + "/conflicts?min_severity=0", nil},
		{"Report", http.MethodGet, prefix + "/reports/disagreement", nil},
		{"Shelf requests", http.MethodGet, prefix + "/shelf-requests", nil},
		{"Metrics", http.MethodGet, "/metrics", nil},
	}

	for i, step := range steps {
		fmt.Printf("%d. %s...\n", i+1, step.name)
		if err := sendRequest(baseURL, step.method, step.path, step.body); err != nil {
			fmt.Fprintf(os.Stderr, "FAILED: %s: %v\n", step.name, err)
			os.Exit(1)
		}
		fmt.Printf("PASSED: %s\n", step.name)
	}
}

func sendRequest(baseURL, method, endpoint string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, out)
	}
	if len(out) > 200 {
		out = append(out[:200], "..."...)
	}
	fmt.Printf("   %d %s\n", resp.StatusCode, out)
	return nil
}
