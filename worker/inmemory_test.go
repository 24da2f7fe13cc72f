package worker

import (
	"context"
	"testing"
)

func TestInMemoryPrimitiveRunsEchoResponder(t *testing.T) {
	p := NewInMemoryPrimitive(nil)
	ctx := context.Background()

	h, err := p.Create(ctx, Config{Model: "test-model"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	res, err := p.Run(ctx, h, Message{Instructions: "summarize", Input: map[string]any{"text": "hello"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Text == "" {
		t.Fatal("expected non-empty echoed text")
	}

	if err := p.Destroy(ctx, h); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, err := p.Run(ctx, h, Message{}); err == nil {
		t.Fatal("expected error running a destroyed handle")
	}
}

func TestInMemoryPrimitiveCustomResponder(t *testing.T) {
	p := NewInMemoryPrimitive(func(cfg Config, msg Message) (Result, error) {
		return Result{Text: "canned:" + cfg.Model}, nil
	})
	ctx := context.Background()
	h, err := p.Create(ctx, Config{Model: "m1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	res, err := p.Run(ctx, h, Message{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Text != "canned:m1" {
		t.Fatalf("unexpected text %q", res.Text)
	}
}
