package rabbitmq

import (
	"strings"
	"testing"
	"time"

	"github.com/cloudresty/ulid"
)

// TestULIDMessageGeneration tests that message IDs are generated using ULID format
func TestULIDMessageGeneration(t *testing.T) {
	msg := NewMessage([]byte("test message"))

	if msg.MessageID == "" {
		t.Fatal("Expected message ID to be generated, but got empty string")
	}

	if len(msg.MessageID) != 26 {
		t.Errorf("Expected ULID length of 26 characters, got %d", len(msg.MessageID))
	}

	parsedUlid, err := ulid.Parse(msg.MessageID)
	if err != nil {
		t.Fatalf("Generated message ID is not a valid ULID: %v", err)
	}

	ulidTimeMs := parsedUlid.GetTime()
	if ulidTimeMs > uint64(1<<63-1) {
		t.Fatalf("ULID timestamp too large to convert safely: %d", ulidTimeMs)
	}
	ulidTime := time.UnixMilli(int64(ulidTimeMs))
	if time.Since(ulidTime) > 10*time.Second {
		t.Errorf("ULID timestamp is too old: %v", ulidTime)
	}
}

// TestULIDUniqueness tests that multiple ULIDs are unique
func TestULIDUniqueness(t *testing.T) {
	messageIDs := make(map[string]bool)

	for range 100 {
		msg := NewMessage([]byte("test message"))

		if messageIDs[msg.MessageID] {
			t.Fatalf("Duplicate ULID generated: %s", msg.MessageID)
		}
		messageIDs[msg.MessageID] = true
	}
}

func TestMessageIDOverride(t *testing.T) {
	customID := "01ARZ3NDEKTSV4RRFFQ69G5FAV"
	publishing := NewMessage([]byte("test message")).WithMessageID(customID).ToAMQPPublishing()

	if publishing.MessageId != customID {
		t.Errorf("Expected message ID %s, got %s", customID, publishing.MessageId)
	}
}

func TestGenerateConsumerTag(t *testing.T) {
	first := GenerateConsumerTag()
	second := GenerateConsumerTag()

	if first == second {
		t.Errorf("Expected unique consumer tags, got %s twice", first)
	}

	i := strings.LastIndex(first, "-")
	if i < 0 {
		t.Fatalf("Expected hostname-ulid format, got %s", first)
	}
	if _, err := ulid.Parse(first[i+1:]); err != nil {
		t.Errorf("Expected consumer tag to end with a ULID, got %s: %v", first, err)
	}
}

func TestSanitizeHostname(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		expected string
	}{
		{name: "plain", hostname: "worker-1", expected: "worker-1"},
		{name: "dots", hostname: "node.cluster.local", expected: "node-cluster-local"},
		{name: "empty", hostname: "", expected: "unknown-host"},
		{name: "long", hostname: strings.Repeat("a", 60), expected: strings.Repeat("a", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeHostname(tt.hostname); got != tt.expected {
				t.Errorf("sanitizeHostname(%q) = %q, want %q", tt.hostname, got, tt.expected)
			}
		})
	}
}
