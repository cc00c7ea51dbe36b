package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedMockProvider is a mock provider that returns a pre-defined sequence
// of responses. Useful for testing multi-turn interactions and retry paths:
// a nil entry in Errs means "succeed with the matching response".
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []*ChatResponse
	Errs      []error
	// CallCount tracks how many times Chat has been called.
	CallCount int
}

// NewScriptedMockProvider creates a provider that answers with the given text
// contents in order.
func NewScriptedMockProvider(contents ...string) *ScriptedMockProvider {
	s := &ScriptedMockProvider{}
	for _, content := range contents {
		s.Responses = append(s.Responses, &ChatResponse{
			Content: content,
			Usage:   Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
		})
	}
	return s
}

// Chat pops the next scripted response or error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++

	if len(s.Errs) > 0 {
		err := s.Errs[0]
		s.Errs = s.Errs[1:]
		if err != nil {
			return nil, err
		}
	}

	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	resp := s.Responses[0]
	s.Responses = s.Responses[1:]
	return resp, nil
}

// AddResponse appends a full response to the queue.
func (s *ScriptedMockProvider) AddResponse(resp *ChatResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, resp)
}

// AddError appends an error to the queue. Errors are consumed before
// responses, so interleave nils to script "fail, fail, succeed" sequences.
func (s *ScriptedMockProvider) AddError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errs = append(s.Errs, err)
}
