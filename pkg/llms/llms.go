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

// Package llms provides language model providers used by the
// postmortem agents. Providers are plain HTTP clients; the choice of
// provider is constructor-injected from configuration so nothing in
// this package holds process-wide state.
package llms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/postmortem/pkg/config"
)

// Provider generates text from a system instruction and a user prompt.
// Implementations must honor ctx cancellation and deadlines; a timeout
// is a generation failure, never a silent empty result.
type Provider interface {
	// Generate returns the generated text and total tokens used.
	Generate(ctx context.Context, system, prompt string) (string, int, error)

	// ModelName returns the model name.
	ModelName() string
}

// ErrTimeout marks generation calls that exceeded their deadline.
var ErrTimeout = errors.New("generation timed out")

// New creates a provider from configuration.
func New(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "ollama", "":
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown LLM provider type: %q", cfg.Type)
	}
}

// timeoutFor derives a call deadline from the config, defaulting to
// two minutes.
func timeoutFor(cfg config.LLMConfig) time.Duration {
	if cfg.Timeout > 0 {
		return time.Duration(cfg.Timeout) * time.Second
	}
	return 2 * time.Minute
}

// wrapTimeout converts deadline errors to ErrTimeout, preserving the
// original cause.
func wrapTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
