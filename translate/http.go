package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrBody = 2048

// HTTPTranslator sends paragraph requests to a configured JSON endpoint.
// The wire shape is deliberately small so any translation backend can be
// fronted by a thin shim.
type HTTPTranslator struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPTranslator creates a translator for the given endpoint. A nil
// client gets a default with a sane timeout.
func NewHTTPTranslator(endpoint, apiKey string, client *http.Client) *HTTPTranslator {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTranslator{
		endpoint: strings.TrimSuffix(strings.TrimSpace(endpoint), "/"),
		apiKey:   apiKey,
		client:   client,
	}
}

type wireRequest struct {
	Text       string `json:"text"`
	Context    string `json:"context,omitempty"`
	SourceLang string `json:"source_lang,omitempty"`
	TargetLang string `json:"target_lang"`
}

type wireResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Translate implements Translator over HTTP.
func (t *HTTPTranslator) Translate(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(wireRequest{
		Text:       req.Text,
		Context:    req.Context,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
	})
	if err != nil {
		return "", fmt.Errorf("unable to marshal translation request: %w", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("unable to build translation request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(hreq)
	if err != nil {
		return "", fmt.Errorf("translation request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("unable to read translation response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := respBody
		if len(snippet) > maxErrBody {
			snippet = snippet[:maxErrBody]
		}
		return "", fmt.Errorf("translation endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out wireResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("unable to decode translation response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("translation endpoint: %s", out.Error)
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", fmt.Errorf("translation endpoint returned no text")
	}
	return out.Text, nil
}
