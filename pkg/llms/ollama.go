// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kadirpekel/postmortem/pkg/config"
)

const defaultOllamaHost = "http://localhost:11434"

// OllamaProvider implements Provider for a local Ollama server.
// Useful for running the generator without any API key.
type OllamaProvider struct {
	cfg    config.LLMConfig
	host   string
	client *http.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

// NewOllamaProvider creates an Ollama provider from config.
func NewOllamaProvider(cfg config.LLMConfig) (*OllamaProvider, error) {
	host := defaultOllamaHost
	if cfg.BaseURL != "" {
		host = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = "llama3.1"
	}
	cfg.Model = model
	return &OllamaProvider{
		cfg:    cfg,
		host:   host,
		client: &http.Client{Timeout: timeoutFor(cfg)},
	}, nil
}

// ModelName returns the configured model name.
func (p *OllamaProvider) ModelName() string {
	return p.cfg.Model
}

// Generate calls the chat endpoint in non-streaming mode.
func (p *OllamaProvider) Generate(ctx context.Context, system, prompt string) (string, int, error) {
	messages := []ollamaMessage{}
	if system != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: system})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: prompt})

	request := ollamaRequest{
		Model:    p.cfg.Model,
		Messages: messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: p.cfg.Temperature,
			NumPredict:  p.cfg.MaxTokens,
		},
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutFor(p.cfg))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, wrapTimeout(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, wrapTimeout(err)
	}

	var response ollamaResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return "", 0, fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if response.Error != "" {
		return "", 0, fmt.Errorf("ollama error: %s", response.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	tokens := response.PromptEvalCount + response.EvalCount
	return strings.TrimSpace(response.Message.Content), tokens, nil
}

var _ Provider = (*OllamaProvider)(nil)
