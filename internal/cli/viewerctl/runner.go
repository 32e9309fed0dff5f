package viewerctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	HTTPClient   *http.Client
	Stdout       io.Writer
	Stderr       io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("viewerctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "parquet-viewer API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 10*time.Second), "HTTP timeout (e.g. 10s)")
	pollInterval := fs.Duration("poll-interval", durationOr(defaults.PollInterval, 200*time.Millisecond), "query status poll interval")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	base := strings.TrimRight(*baseURL, "/")
	command := strings.TrimSpace(fs.Arg(0))
	method := ""
	path := ""
	var body []byte
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "sources":
		method, path = http.MethodGet, "/v1/sources"
	case "source":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "source requires a table name")
			return 2
		}
		method, path = http.MethodGet, "/v1/sources/"+url.PathEscape(fs.Arg(1))
	case "source-metrics":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "source-metrics requires a table name")
			return 2
		}
		method, path = http.MethodGet, "/v1/sources/"+url.PathEscape(fs.Arg(1))+"/metrics"
	case "open":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "open requires a file URL")
			return 2
		}
		payload := map[string]string{"url": fs.Arg(1)}
		if fs.NArg() > 2 {
			payload["name"] = fs.Arg(2)
		}
		body, _ = json.Marshal(payload)
		method, path = http.MethodPost, "/v1/sources"
	case "drop":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "drop requires a table name")
			return 2
		}
		method, path = http.MethodDelete, "/v1/sources/"+url.PathEscape(fs.Arg(1))
	case "query":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "query requires a SQL string")
			return 2
		}
		return runQuery(ctx, client, base, *apiKey, fs.Arg(1), *pollInterval, stdout, stderr)
	case "translate":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "translate requires a prompt")
			return 2
		}
		body, _ = json.Marshal(map[string]string{"prompt": fs.Arg(1)})
		method, path = http.MethodPost, "/v1/query/translate"
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	code, responseBody, err := doRequest(ctx, client, method, base+path, *apiKey, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

// runQuery submits SQL and polls the query resource until it reaches a
// terminal state, then prints the final status.
func runQuery(ctx context.Context, client *http.Client, base, apiKey, sql string, pollInterval time.Duration, stdout, stderr io.Writer) int {
	payload, _ := json.Marshal(map[string]string{"sql": sql})
	code, responseBody, err := doRequest(ctx, client, http.MethodPost, base+"/v1/query", apiKey, payload)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	var status struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(responseBody, &status); err != nil || status.ID == "" {
		_, _ = fmt.Fprintf(stderr, "unexpected submit response: %s\n", strings.TrimSpace(string(responseBody)))
		return 1
	}

	for !terminalState(status.State) {
		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintf(stderr, "request failed: %v\n", ctx.Err())
			return 1
		case <-time.After(pollInterval):
		}
		code, responseBody, err = doRequest(ctx, client, http.MethodGet, base+"/v1/query/"+url.PathEscape(status.ID), apiKey, nil)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
			return 1
		}
		if code >= 400 {
			_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
			return 1
		}
		if err := json.Unmarshal(responseBody, &status); err != nil {
			_, _ = fmt.Fprintf(stderr, "unexpected status response: %s\n", strings.TrimSpace(string(responseBody)))
			return 1
		}
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
	} else if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	if status.State != "completed" {
		return 1
	}
	return 0
}

func terminalState(state string) bool {
	switch state {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: viewerctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                  GET /v1/health")
	_, _ = fmt.Fprintln(w, "  sources                 GET /v1/sources")
	_, _ = fmt.Fprintln(w, "  source NAME             GET /v1/sources/{name}")
	_, _ = fmt.Fprintln(w, "  source-metrics NAME     GET /v1/sources/{name}/metrics")
	_, _ = fmt.Fprintln(w, "  open URL [NAME]         POST /v1/sources")
	_, _ = fmt.Fprintln(w, "  drop NAME               DELETE /v1/sources/{name}")
	_, _ = fmt.Fprintln(w, "  query SQL               POST /v1/query, poll until done")
	_, _ = fmt.Fprintln(w, "  translate PROMPT        POST /v1/query/translate")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
