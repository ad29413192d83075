package tabs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func countingSubmitter(ack Ack, err error, calls *int32) Submitter {
	return SubmitterFunc(func(ctx context.Context, s Submission) (Ack, error) {
		atomic.AddInt32(calls, 1)
		return ack, err
	})
}

func TestSubmitValidationSkipsRemote(t *testing.T) {
	ctx := context.Background()
	var calls int32
	m := newTestManager(t, Config{}, nil, countingSubmitter(Ack{Status: StatusSuccess}, nil, &calls))
	id, _ := m.CreateDraftTab(ctx)

	var verr *ValidationError
	if _, err := m.SubmitDraft(ctx, id, "", "hello"); !errors.As(err, &verr) || !verr.Has(FieldAuthor) || verr.Has(FieldContent) {
		t.Fatalf("expected author missing, got %v", err)
	}
	if _, err := m.SubmitDraft(ctx, id, "Alice", ""); !errors.As(err, &verr) || !verr.Has(FieldContent) || verr.Has(FieldAuthor) {
		t.Fatalf("expected content missing, got %v", err)
	}
	if _, err := m.SubmitDraft(ctx, id, " ", " "); !errors.As(err, &verr) || len(verr.Missing) != 2 {
		t.Fatalf("expected both fields missing, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("remote must not be contacted, got %d calls", calls)
	}
}

func TestSubmitSuccess(t *testing.T) {
	ctx := context.Background()
	var got Submission
	sub := SubmitterFunc(func(ctx context.Context, s Submission) (Ack, error) {
		got = s
		return Ack{Status: "success"}, nil
	})
	m := newTestManager(t, Config{}, nil, sub)
	id, _ := m.CreateDraftTab(ctx)

	var finished []Event
	m.Subscribe(func(ev Event) {
		if ev.Type == EventSubmitFinished {
			finished = append(finished, ev)
		}
	})
	ack, err := m.SubmitDraft(ctx, id, " Alice ", " hello ")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ack.Status != StatusSuccess {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if got.AuthorName != "Alice" || got.Content != "hello" {
		t.Fatalf("expected trimmed submission, got %+v", got)
	}
	if len(finished) != 1 || finished[0].Outcome != "success" {
		t.Fatalf("unexpected finish events %+v", finished)
	}
	pane, _ := m.Pane(id)
	if pane.Content != " hello " {
		t.Fatalf("success must not clear the pane, got %+v", pane)
	}
}

func TestSubmitRemoteRejected(t *testing.T) {
	ctx := context.Background()
	var calls int32
	m := newTestManager(t, Config{}, nil, countingSubmitter(Ack{Status: "error", Data: "bad token"}, nil, &calls))
	id, _ := m.CreateDraftTab(ctx)

	_, err := m.SubmitDraft(ctx, id, "Alice", "hello")
	var rerr *RemoteRejectedError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RemoteRejectedError, got %v", err)
	}
	if rerr.Message != "bad token" {
		t.Fatalf("unexpected message %q", rerr.Message)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
	if Outcome(err) != "rejected" {
		t.Fatalf("unexpected outcome %q", Outcome(err))
	}
}

func TestSubmitTransportError(t *testing.T) {
	ctx := context.Background()
	var calls int32
	boom := errors.New("connection refused")
	m := newTestManager(t, Config{}, nil, countingSubmitter(Ack{}, boom, &calls))
	id, _ := m.CreateDraftTab(ctx)

	_, err := m.SubmitDraft(ctx, id, "Alice", "hello")
	var terr *TransportError
	if !errors.As(err, &terr) || !errors.Is(err, boom) {
		t.Fatalf("expected TransportError wrapping cause, got %v", err)
	}
	if m.Busy(id) {
		t.Fatalf("busy flag must be released")
	}
	pane, _ := m.Pane(id)
	if pane.Author != "Alice" || pane.Content != "hello" {
		t.Fatalf("failure must keep the pane, got %+v", pane)
	}
}

func TestSubmitWithoutSubmitter(t *testing.T) {
	m := newTestManager(t, Config{}, nil, nil)
	id, _ := m.CreateDraftTab(context.Background())
	_, err := m.SubmitDraft(context.Background(), id, "Alice", "hello")
	if !errors.Is(err, ErrNoSubmitter) {
		t.Fatalf("expected ErrNoSubmitter, got %v", err)
	}
}

func TestSubmitTimeout(t *testing.T) {
	hang := SubmitterFunc(func(ctx context.Context, s Submission) (Ack, error) {
		time.Sleep(2 * time.Second)
		return Ack{Status: StatusSuccess}, nil
	})
	m := newTestManager(t, Config{SubmitTimeout: 20 * time.Millisecond}, nil, hang)
	id, _ := m.CreateDraftTab(context.Background())

	start := time.Now()
	_, err := m.SubmitDraft(context.Background(), id, "Alice", "hello")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("submit did not honour the deadline")
	}
	if m.Busy(id) {
		t.Fatalf("busy flag must be released after timeout")
	}
}

func TestSubmitCancelledByCaller(t *testing.T) {
	sub := SubmitterFunc(func(ctx context.Context, s Submission) (Ack, error) {
		<-ctx.Done()
		return Ack{}, ctx.Err()
	})
	m := newTestManager(t, Config{}, nil, sub)
	id, _ := m.CreateDraftTab(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	_, err := m.SubmitDraft(ctx, id, "Alice", "hello")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestConcurrentSubmitRejected(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls int32
	sub := SubmitterFunc(func(ctx context.Context, s Submission) (Ack, error) {
		atomic.AddInt32(&calls, 1)
		close(entered)
		<-release
		return Ack{Status: StatusSuccess}, nil
	})
	m := newTestManager(t, Config{}, nil, sub)
	id, _ := m.CreateDraftTab(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := m.SubmitDraft(context.Background(), id, "Alice", "hello")
		done <- err
	}()
	<-entered
	if !m.Busy(id) {
		t.Fatalf("expected tab busy while in flight")
	}
	if _, err := m.SubmitDraft(context.Background(), id, "Alice", "hello"); !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("expected ErrSubmitInFlight, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one remote call, got %d", calls)
	}
}

func TestSubmitOnPermanentTab(t *testing.T) {
	m := newTestManager(t, Config{}, nil, nil)
	if _, err := m.SubmitDraft(context.Background(), "about", "Alice", "hello"); !errors.Is(err, ErrNotDraft) {
		t.Fatalf("expected ErrNotDraft, got %v", err)
	}
}
