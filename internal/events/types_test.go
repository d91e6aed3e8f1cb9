package events

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/redstone-dev/redstone/internal/scheduler"
)

func TestMarshalFlatWireForm(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := Marshal(FileOperationEvent{Turn: "t1", Path: "src/index.ts", Operation: "write", Applied: true, Timestamp: ts})
	if err != nil {
		t.Fatal(err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("invalid JSON %s: %v", data, err)
	}
	if fields["type"] != "file_operation" || fields["path"] != "src/index.ts" || fields["applied"] != true {
		t.Errorf("wire form = %s", data)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	started := ts.Add(-time.Second)
	tests := []Event{
		StatusEvent{Turn: "t", NodeID: "a", Agent: "architect", Label: "Architect", Status: "running", Timestamp: ts},
		ChunkEvent{Turn: "t", NodeID: "a", Agent: "architect", Role: "agent", Content: "hello ", Timestamp: ts},
		FileOperationEvent{Turn: "t", Path: "a.go", Operation: "delete", Error: "denied", Timestamp: ts},
		TaskEvent{Turn: "t", Task: &scheduler.AgentTask{ID: "x", NodeID: "a", Status: scheduler.TaskRunning, FilesModified: []string{}, StartedAt: &started}, Progress: scheduler.Progress{Total: 2, Running: 1, Pending: 1}, Timestamp: ts},
		CompleteEvent{Turn: "t", SessionID: "s", Status: "partial", Message: "done", FilesModified: []string{"a.go"}, Escalations: []string{"b.go"}, Timestamp: ts},
		ErrorEvent{Turn: "t", Message: "unknown workflow", Timestamp: ts},
	}
	for _, want := range tests {
		t.Run(want.EventType(), func(t *testing.T) {
			data, err := Marshal(want)
			if err != nil {
				t.Fatal(err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("round trip:\n got %#v\nwant %#v", got, want)
			}
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"telemetry"}`)); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
