// Package translate wraps an Ark chat model as the translation
// collaborator. Failures never escape: the caller always gets a string.
package translate

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/lingolab/pairchat/backend/internal/config"
)

// Sentinel is delivered to the receiver when the provider fails; the
// original message is still recorded.
const Sentinel = "Translation unavailable."

var languageNames = map[string]string{
	"english": "English",
	"chinese": "Chinese",
	"spanish": "Spanish",
}

// languageName maps a declared language to the name used in the prompt.
// Unknown declarations fall back to English, mirroring the intake UI.
func languageName(code string) string {
	if name, ok := languageNames[strings.ToLower(strings.TrimSpace(code))]; ok {
		return name
	}
	return "English"
}

// Service runs translation turns through a compiled eino chain.
type Service struct {
	chain compose.Runnable[map[string]any, *schema.Message]
	model string
}

// New compiles the translation chain against the configured Ark model.
func New(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("You are a professional translator. Translate the user's message from {source} to {target}. Reply with only the translated text, nothing else."),
		schema.UserMessage("{text}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile translation chain: %w", err)
	}

	return &Service{chain: runnable, model: cfg.Model}, nil
}

// Model names the backing model, recorded with every conversation.
func (s *Service) Model() string { return s.model }

// Translate converts text between the two declared languages. Identical
// source and target (after mapping) is an identity pass, any text
// included; provider errors degrade to the sentinel.
func (s *Service) Translate(ctx context.Context, text, source, target string) string {
	src, dst := languageName(source), languageName(target)
	if src == dst || text == "" {
		return text
	}

	out, err := s.chain.Invoke(ctx, map[string]any{
		"source": src,
		"target": dst,
		"text":   text,
	})
	if err != nil {
		log.Printf("[translate] %s->%s failed: %v", src, dst, err)
		return Sentinel
	}

	result := strings.TrimSpace(out.Content)
	if result == "" {
		log.Printf("[translate] %s->%s returned empty output", src, dst)
		return Sentinel
	}
	return result
}

// Identity passes text through unchanged. It stands in for the model
// when Ark credentials are not configured.
type Identity struct{}

// NewIdentity returns the pass-through translator.
func NewIdentity() Identity { return Identity{} }

// Model implements the same surface as Service for conversation records.
func (Identity) Model() string { return "identity" }

// Translate returns the input unchanged.
func (Identity) Translate(_ context.Context, text, _, _ string) string { return text }
