package session

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestUpdateStream_PullOrder(t *testing.T) {
	s := NewUpdateStream(8)

	go func() {
		ctx := context.Background()
		s.Send(ctx, Update{Kind: UpdateMessageChunk, Text: "one"})
		s.Send(ctx, Update{Kind: UpdateMessageChunk, Text: "two"})
		s.Send(ctx, Update{Kind: UpdateTurnEnd, StopReason: "end_turn"})
		s.Finish(nil)
	}()

	ctx := context.Background()
	first, err := s.Next(ctx)
	if err != nil || first.Text != "one" {
		t.Fatalf("expected first chunk, got %+v err=%v", first, err)
	}
	second, err := s.Next(ctx)
	if err != nil || second.Text != "two" {
		t.Fatalf("expected second chunk, got %+v err=%v", second, err)
	}
	end, err := s.Next(ctx)
	if err != nil || end.Kind != UpdateTurnEnd {
		t.Fatalf("expected turn end, got %+v err=%v", end, err)
	}

	if _, err := s.Next(ctx); err != io.EOF {
		t.Errorf("expected io.EOF after terminal update, got %v", err)
	}
	// EOF is sticky.
	if _, err := s.Next(ctx); err != io.EOF {
		t.Errorf("expected io.EOF to repeat, got %v", err)
	}
}

func TestUpdateStream_FinishWithError(t *testing.T) {
	s := NewUpdateStream(1)
	protocolErr := errors.New("protocol violation")

	s.Send(context.Background(), Update{Kind: UpdateMessageChunk, Text: "partial"})
	s.Finish(protocolErr)

	ctx := context.Background()
	if u, err := s.Next(ctx); err != nil || u.Text != "partial" {
		t.Fatalf("buffered update should precede the error, got %+v err=%v", u, err)
	}
	if _, err := s.Next(ctx); !errors.Is(err, protocolErr) {
		t.Errorf("expected production error, got %v", err)
	}
}

func TestUpdateStream_CloseStopsProducer(t *testing.T) {
	s := NewUpdateStream(0)

	producerStopped := make(chan struct{})
	go func() {
		defer close(producerStopped)
		ctx := context.Background()
		for i := 0; ; i++ {
			if !s.Send(ctx, Update{Kind: UpdateMessageChunk}) {
				return
			}
		}
	}()

	// Pull one update, then abandon the stream.
	if _, err := s.Next(context.Background()); err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	s.Close()

	select {
	case <-producerStopped:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not observe stream close")
	}

	// Close is idempotent.
	s.Close()
}

func TestUpdateStream_NextRespectsContext(t *testing.T) {
	s := NewUpdateStream(0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := s.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestUpdateStream_SendAfterFinishedConsumer(t *testing.T) {
	s := NewUpdateStream(0)
	s.Close()

	if s.Send(context.Background(), Update{Kind: UpdateMessageChunk}) {
		t.Error("Send must report false after consumer close")
	}
}

func TestUpdateStream_Drain(t *testing.T) {
	s := NewUpdateStream(4)
	ctx := context.Background()

	s.Send(ctx, Update{Kind: UpdateMessageChunk, Text: "a"})
	s.Send(ctx, Update{Kind: UpdateToolCallStart, ToolCall: &ToolCallUpdate{ID: "t1", Status: ToolCallPending}})
	s.Send(ctx, Update{Kind: UpdateTurnEnd, StopReason: "end_turn"})
	s.Finish(nil)

	updates, err := s.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if len(updates) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(updates))
	}
	if updates[2].Kind != UpdateTurnEnd {
		t.Errorf("expected final turn_end, got %s", updates[2].Kind)
	}
}
