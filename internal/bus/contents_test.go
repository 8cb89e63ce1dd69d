package bus

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gobflow/workflow-manager/internal/envelope"
)

func TestLoadOfflineContentsResolvesFileReference(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.json")
	want := []byte(`{"rows":[1,2,3]}`)
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	ref, err := json.Marshal(envelope.ContentsRef{ContentsRef: path})
	if err != nil {
		t.Fatalf("failed to marshal ref: %v", err)
	}

	b := &Bus{}
	msg := &envelope.Envelope{Contents: ref}
	if err := b.loadOfflineContents(msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(msg.Contents) != string(want) {
		t.Fatalf("expected contents resolved from file, got %s", msg.Contents)
	}
}

func TestLoadOfflineContentsLeavesInlineContentsAlone(t *testing.T) {
	b := &Bus{}
	msg := &envelope.Envelope{Contents: json.RawMessage(`{"foo":"bar"}`)}
	if err := b.loadOfflineContents(msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(msg.Contents) != `{"foo":"bar"}` {
		t.Fatalf("inline contents must be left untouched, got %s", msg.Contents)
	}
}

func TestLoadOfflineContentsEmptyIsNoop(t *testing.T) {
	b := &Bus{}
	msg := &envelope.Envelope{}
	if err := b.loadOfflineContents(msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadOfflineContentsMissingFileErrors(t *testing.T) {
	ref, _ := json.Marshal(envelope.ContentsRef{ContentsRef: "/no/such/path.json"})
	b := &Bus{}
	msg := &envelope.Envelope{Contents: ref}
	if err := b.loadOfflineContents(msg); err == nil {
		t.Fatalf("expected error for missing contents file")
	}
}
