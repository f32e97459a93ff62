package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// HTTPCompleter calls a self-hosted completion service at POST {baseURL}/complete
type HTTPCompleter struct {
	baseURL string
	c       *http.Client
}

type completeReq struct {
	Task        Task    `json:"task"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	JSON        bool    `json:"json"`
	Temperature float32 `json:"temperature"`
}

type completeResp struct {
	Text string `json:"text"`
}

// NewHTTPCompleter creates a completer for baseURL. Per-call deadlines come
// from the caller's context; the client timeout is only a backstop.
func NewHTTPCompleter(baseURL string, timeout time.Duration) *HTTPCompleter {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCompleter{
		baseURL: strings.TrimRight(baseURL, "/"),
		c:       &http.Client{Transport: tr, Timeout: timeout},
	}
}

// Complete implements Completer
func (h *HTTPCompleter) Complete(ctx context.Context, prompt Prompt) (string, error) {
	b, err := json.Marshal(completeReq{
		Task:        prompt.Task,
		System:      prompt.System,
		Prompt:      prompt.User,
		JSON:        prompt.JSON,
		Temperature: prompt.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("complete marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/complete", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.c.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		const maxErr = 4096
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErr))
		return "", fmt.Errorf("complete %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out completeResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("complete decode: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
