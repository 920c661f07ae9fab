package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pavelanni/answergrader/internal/scoring"
)

const defaultHFBaseURL = "https://api-inference.huggingface.co/pipeline/feature-extraction"

// HuggingFace calls a feature-extraction endpoint. Encoder models such as
// IndoBERT return one hidden state per token; those are mean-pooled into a
// single sentence vector.
type HuggingFace struct {
	url    string
	apiKey string
	http   *http.Client
}

// NewHuggingFace creates a client for modelName. If baseURL is empty the
// hosted inference API is used; otherwise baseURL is the full endpoint of a
// self-hosted text-embeddings server.
func NewHuggingFace(baseURL, apiKey, modelName string, httpClient *http.Client) *HuggingFace {
	url := strings.TrimRight(baseURL, "/")
	if url == "" {
		url = defaultHFBaseURL + "/" + modelName
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HuggingFace{url: url, apiKey: apiKey, http: httpClient}
}

func (h *HuggingFace) Name() string { return ProviderHuggingFace }

func (h *HuggingFace) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]any{
		"inputs":  text,
		"options": map[string]bool{"wait_for_model": true},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feature extraction: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feature extraction: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	return decodeFeatures(raw)
}

// decodeFeatures accepts a pooled vector [d], token states [t][d], or a
// batch of one [1][t][d].
func decodeFeatures(raw []byte) ([]float32, error) {
	var pooled []float32
	if err := json.Unmarshal(raw, &pooled); err == nil {
		if len(pooled) == 0 {
			return nil, fmt.Errorf("empty feature vector")
		}
		return pooled, nil
	}

	var tokens [][]float32
	if err := json.Unmarshal(raw, &tokens); err == nil {
		return scoring.MeanPool(tokens)
	}

	var batch [][][]float32
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	if len(batch) != 1 {
		return nil, fmt.Errorf("expected one sequence, got %d", len(batch))
	}
	return scoring.MeanPool(batch[0])
}
