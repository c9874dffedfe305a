package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestMulti_JoinsErrors(t *testing.T) {
	var calls int
	ok := NotifierFunc(func(context.Context, Event) error { calls++; return nil })
	boom := errors.New("smtp down")
	failing := NotifierFunc(func(context.Context, Event) error { calls++; return boom })

	err := Multi{ok, failing, ok}.Notify(context.Background(), Event{Type: EventApprovalNeeded})
	if !errors.Is(err, boom) {
		t.Errorf("Notify() error = %v, want %v", err, boom)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDispatch_SwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var got Event
	n := NotifierFunc(func(_ context.Context, ev Event) error {
		got = ev
		return errors.New("webhook timeout")
	})

	Dispatch(context.Background(), n, logger, Event{Type: EventEscalated, ItemID: "item-1"})

	if got.Timestamp.IsZero() {
		t.Error("Dispatch() did not stamp the event")
	}
	if !strings.Contains(buf.String(), "notification failed") {
		t.Errorf("log = %q, want failure logged", buf.String())
	}
}

func TestDispatch_NilNotifier(t *testing.T) {
	Dispatch(context.Background(), nil, nil, Event{Type: EventApprovalNeeded})
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := n.Notify(context.Background(), Event{Type: EventConsensusReached, OrgID: "acme", ItemID: "item-7"})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	for _, want := range []string{`"event":"consensus_reached"`, `"item_id":"item-7"`, `"component":"notify"`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log %s missing %s", buf.String(), want)
		}
	}
}
