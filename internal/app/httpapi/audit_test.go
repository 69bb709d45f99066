package httpapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAuditLogRing(t *testing.T) {
	log := newAuditLog(3, nil)
	for i := 0; i < 5; i++ {
		log.add(auditEntry{Path: fmt.Sprintf("/user/%d", i), Status: 200})
	}

	entries := log.listLimit(0)
	if len(entries) != 3 {
		t.Fatalf("ring should keep the newest 3, got %d", len(entries))
	}
	if entries[0].Path != "/user/2" || entries[2].Path != "/user/4" {
		t.Fatalf("ring should drop the oldest entries, got %+v", entries)
	}

	limited := log.listLimit(2)
	if len(limited) != 2 || limited[1].Path != "/user/4" {
		t.Fatalf("limit should return the newest entries, got %+v", limited)
	}
}

func TestFileAuditSinkWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := newFileAuditSink(path)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}

	log := newAuditLog(10, sink)
	log.add(auditEntry{Time: time.Now().UTC(), Caster: "caster-1", Path: "/resolve/touch", Method: "POST", Status: 200})
	log.add(auditEntry{Time: time.Now().UTC(), Path: "/healthz", Method: "GET", Status: 200})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open written log: %v", err)
	}
	defer f.Close()

	var lines []auditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry auditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("each line should be one JSON entry: %v", err)
		}
		lines = append(lines, entry)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 persisted entries, got %d", len(lines))
	}
	if lines[0].Caster != "caster-1" || lines[1].Path != "/healthz" {
		t.Fatalf("unexpected persisted entries %+v", lines)
	}
}

func TestFileAuditSinkDisabledWithoutPath(t *testing.T) {
	sink, err := newFileAuditSink("")
	if err != nil {
		t.Fatalf("empty path should disable the sink: %v", err)
	}
	if sink != nil {
		t.Fatalf("disabled sink should be nil")
	}
	if err := sink.Write(auditEntry{}); err != nil {
		t.Fatalf("writing to a nil sink is a no-op: %v", err)
	}
}
