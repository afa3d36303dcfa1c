package resilience

import (
	"context"

	"github.com/MrWong99/voxlabel/pkg/provider/llm"
)

// LLM is an [llm.Provider] that fails over across a [Group] of providers.
type LLM struct {
	group *Group[llm.Provider]
}

var _ llm.Provider = (*LLM)(nil)

// NewLLM returns a failover provider with primary tried first.
func NewLLM(primaryName string, primary llm.Provider, cfg BreakerConfig) *LLM {
	return &LLM{group: NewGroup(primaryName, primary, cfg)}
}

// AddFallback appends a provider tried after all earlier ones.
func (f *LLM) AddFallback(name string, p llm.Provider) {
	f.group.Add(name, p)
}

// Complete returns the first successful completion.
func (f *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens uses the primary's tokenizer. It does not trip breakers.
func (f *LLM) CountTokens(messages []llm.Message) (int, error) {
	return f.group.Primary().CountTokens(messages)
}

// Capabilities reports the smallest known limits across all providers.
func (f *LLM) Capabilities() llm.Capabilities {
	caps := f.group.Primary().Capabilities()
	for _, m := range f.group.members[1:] {
		c := m.value.Capabilities()
		if c.ContextWindow > 0 && (caps.ContextWindow == 0 || c.ContextWindow < caps.ContextWindow) {
			caps.ContextWindow = c.ContextWindow
		}
		if c.MaxOutputTokens > 0 && (caps.MaxOutputTokens == 0 || c.MaxOutputTokens < caps.MaxOutputTokens) {
			caps.MaxOutputTokens = c.MaxOutputTokens
		}
	}
	return caps
}

// States reports each provider's breaker state keyed by name.
func (f *LLM) States() map[string]State {
	return f.group.States()
}
