package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxlabel/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxlabel/pkg/provider/llm/mock"
)

func testLLM(primary llm.Provider, fallbacks ...llm.Provider) (*LLM, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	f := NewLLM("primary", primary, BreakerConfig{MaxFailures: 2, Cooldown: time.Minute, Now: clk.Now})
	for i, p := range fallbacks {
		f.AddFallback("fallback"+string(rune('1'+i)), p)
	}
	return f, clk
}

func TestLLM_Complete(t *testing.T) {
	t.Parallel()

	t.Run("primary serves", func(t *testing.T) {
		t.Parallel()
		primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "a"}}
		backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "b"}}
		f, _ := testLLM(primary, backup)

		resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
		if err != nil || resp.Content != "a" {
			t.Fatalf("Complete = %+v, %v", resp, err)
		}
		if len(backup.Calls()) != 0 {
			t.Fatalf("backup calls = %d, want 0", len(backup.Calls()))
		}
	})

	t.Run("fails over", func(t *testing.T) {
		t.Parallel()
		primary := &llmmock.Provider{CompleteErr: errTest}
		backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "b"}}
		f, _ := testLLM(primary, backup)

		resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
		if err != nil || resp.Content != "b" {
			t.Fatalf("Complete = %+v, %v", resp, err)
		}
	})

	t.Run("skips open primary", func(t *testing.T) {
		t.Parallel()
		primary := &llmmock.Provider{CompleteErr: errTest}
		backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "b"}}
		f, clk := testLLM(primary, backup)

		for i := 0; i < 3; i++ {
			if _, err := f.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
				t.Fatalf("Complete %d: %v", i, err)
			}
		}
		if got := len(primary.Calls()); got != 2 {
			t.Fatalf("primary calls = %d, want 2", got)
		}
		if s := f.States()["primary"]; s != Open {
			t.Fatalf("primary state = %v, want open", s)
		}

		clk.Advance(time.Minute)
		primary.CompleteErr = nil
		primary.CompleteResponse = &llm.CompletionResponse{Content: "a"}
		resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
		if err != nil || resp.Content != "a" {
			t.Fatalf("Complete after cooldown = %+v, %v", resp, err)
		}
		if s := f.States()["primary"]; s != Closed {
			t.Fatalf("primary state = %v, want closed", s)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		t.Parallel()
		f, _ := testLLM(&llmmock.Provider{CompleteErr: errTest}, &llmmock.Provider{CompleteErr: errors.New("quota")})

		_, err := f.Complete(context.Background(), llm.CompletionRequest{})
		if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
			t.Fatalf("Complete: err = %v, want ErrAllFailed wrapping errTest", err)
		}
		if !strings.Contains(err.Error(), "fallback1: quota") {
			t.Fatalf("Complete: err = %q, want per-provider detail", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		primary := &llmmock.Provider{}
		f, _ := testLLM(primary)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := f.Complete(ctx, llm.CompletionRequest{}); !errors.Is(err, context.Canceled) {
			t.Fatalf("Complete: err = %v, want context.Canceled", err)
		}
		if len(primary.Calls()) != 0 {
			t.Fatal("Complete called the provider after cancellation")
		}
	})
}

func TestLLM_CapabilitiesAndTokens(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{TokenCount: 42, ModelCapabilities: llm.Capabilities{ContextWindow: 128000, MaxOutputTokens: 4096}}
	small := &llmmock.Provider{ModelCapabilities: llm.Capabilities{ContextWindow: 8192}}
	f, _ := testLLM(primary, small)

	caps := f.Capabilities()
	if caps.ContextWindow != 8192 || caps.MaxOutputTokens != 4096 {
		t.Fatalf("Capabilities = %+v, want {8192 4096}", caps)
	}
	if n, err := f.CountTokens(nil); err != nil || n != 42 {
		t.Fatalf("CountTokens = %d, %v, want 42", n, err)
	}
}
