// Package gateway содержит HTTP-адаптеры внешних платёжных шлюзов.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

// ErrInvalidSignature возвращается, если подпись вебхука не прошла проверку.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// httpClient инкапсулирует общий для шлюзов обмен JSON с авторизацией по секретному ключу.
type httpClient struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

func newHTTPClient(baseURL, secretKey string, timeout time.Duration) httpClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return httpClient{
		baseURL:   base,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// doJSON выполняет запрос и декодирует ответ в out. Любая ошибка оборачивается в ErrExternalGateway.
func (c httpClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: client not configured", model.ErrExternalGateway)
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: do request: %v", model.ErrExternalGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: unexpected status %d: %s", model.ErrExternalGateway, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", model.ErrExternalGateway, err)
	}
	return nil
}
