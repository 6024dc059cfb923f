package stream_test

import (
	"testing"

	"github.com/xraph/loom/stream"
)

func TestParseTopicEntity(t *testing.T) {
	tests := []struct {
		topic      string
		entityType string
		entityID   string
	}{
		{"run:wfrun_abc", "run", "wfrun_abc"},
		{"workflow:orders", "workflow", "orders"},
		{"runs", "", ""},
		{"firehose", "", ""},
	}
	for _, tt := range tests {
		entityType, entityID := stream.ParseTopicEntity(tt.topic)
		if entityType != tt.entityType || entityID != tt.entityID {
			t.Errorf("ParseTopicEntity(%q) = (%q, %q), want (%q, %q)",
				tt.topic, entityType, entityID, tt.entityType, tt.entityID)
		}
	}
}

func TestValidateTopic(t *testing.T) {
	valid := []string{"runs", "firehose", "run:wfrun_abc", "workflow:orders"}
	for _, topic := range valid {
		if err := stream.ValidateTopic(topic); err != nil {
			t.Errorf("ValidateTopic(%q) = %v, want nil", topic, err)
		}
	}
	invalid := []string{"", "bogus", "queue:x", "run:", ":abc"}
	for _, topic := range invalid {
		if err := stream.ValidateTopic(topic); err == nil {
			t.Errorf("ValidateTopic(%q) = nil, want error", topic)
		}
	}
}

func TestTopicNames(t *testing.T) {
	if got := stream.RunTopic("wfrun_abc"); got != "run:wfrun_abc" {
		t.Errorf("RunTopic = %q", got)
	}
	if got := stream.WorkflowTopic("orders"); got != "workflow:orders" {
		t.Errorf("WorkflowTopic = %q", got)
	}
}
