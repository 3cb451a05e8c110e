package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FakeClient returns scripted responses for offline use and tests. Prompts
// are matched by substring against the scripted keys; unmatched prompts get
// a canned echo response.
type FakeClient struct {
	mu        sync.Mutex
	responses map[string]string
	calls     int
	failWith  error
}

func NewFakeClient() *FakeClient {
	return &FakeClient{responses: make(map[string]string)}
}

// Script registers a response for any prompt containing the given fragment.
func (f *FakeClient) Script(promptFragment, response string) *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[promptFragment] = response
	return f
}

// FailWith makes every call return err.
func (f *FakeClient) FailWith(err error) *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
	return f
}

// Calls returns how many generate calls were made.
func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	return f.lookup(prompt)
}

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	out, err := f.lookup(prompt)
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(out)
	if !json.Valid(raw) {
		return nil, ErrInvalidJSON
	}
	return raw, nil
}

func (f *FakeClient) lookup(prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil {
		return "", f.failWith
	}
	// Fragments are tried in sorted order so overlapping scripts pick the
	// same response on every run.
	fragments := make([]string, 0, len(f.responses))
	for fragment := range f.responses {
		fragments = append(fragments, fragment)
	}
	sort.Strings(fragments)
	for _, fragment := range fragments {
		if fragment != "" && strings.Contains(prompt, fragment) {
			return f.responses[fragment], nil
		}
	}
	return fmt.Sprintf("fake response (%d bytes in)", len(prompt)), nil
}
