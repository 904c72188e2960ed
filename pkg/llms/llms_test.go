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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/postmortem/pkg/config"
)

func TestNewSelectsProviderByType(t *testing.T) {
	p, err := New(config.LLMConfig{Type: "openai", APIKey: "key", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, p)

	p, err = New(config.LLMConfig{Type: "anthropic", APIKey: "key", Model: "claude-sonnet-4-20250514"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicProvider{}, p)

	p, err = New(config.LLMConfig{Type: "ollama", Model: "llama3"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaProvider{}, p)

	// Empty type falls back to local ollama.
	p, err = New(config.LLMConfig{Model: "llama3"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaProvider{}, p)

	_, err = New(config.LLMConfig{Type: "gemini"})
	assert.Error(t, err)
}

func TestNewOpenAIProviderRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIProvider(config.LLMConfig{Model: "gpt-4o"})
	assert.Error(t, err)
}

func TestOpenAIGenerate(t *testing.T) {
	var gotAuth string
	var gotReq openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "  generated text  "}}],
			"usage": {"total_tokens": 42}
		}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.LLMConfig{
		APIKey:      "sk-test",
		Model:       "gpt-4o",
		BaseURL:     srv.URL,
		Temperature: 0.3,
		MaxTokens:   512,
	})
	require.NoError(t, err)

	text, tokens, err := p.Generate(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)
	assert.Equal(t, "generated text", text)
	assert.Equal(t, 42, tokens)
	assert.Equal(t, "Bearer sk-test", gotAuth)

	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
	assert.Equal(t, "gpt-4o", gotReq.Model)
	assert.Equal(t, 512, gotReq.MaxTokens)
}

func TestOpenAIGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limit exceeded", "type": "rate_limit"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.LLMConfig{APIKey: "sk-test", Model: "gpt-4o", BaseURL: srv.URL})
	require.NoError(t, err)

	_, _, err = p.Generate(context.Background(), "", "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestOpenAIGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.LLMConfig{APIKey: "sk-test", Model: "gpt-4o", BaseURL: srv.URL, Timeout: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, _, err = p.Generate(ctx, "", "prompt")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWrapTimeout(t *testing.T) {
	assert.ErrorIs(t, wrapTimeout(context.DeadlineExceeded), ErrTimeout)

	plain := errors.New("connection refused")
	assert.Equal(t, plain, wrapTimeout(plain))
	assert.NoError(t, wrapTimeout(nil))
}

func TestTimeoutFor(t *testing.T) {
	assert.Equal(t, 30*time.Second, timeoutFor(config.LLMConfig{Timeout: 30}))
	assert.Equal(t, 2*time.Minute, timeoutFor(config.LLMConfig{}))
}
