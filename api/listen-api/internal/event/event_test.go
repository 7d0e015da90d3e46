// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_conversation "github.com/rapidaai/listen/api/listen-api/internal/conversation"
)

func decode(t *testing.T, payload []byte) map[string]interface{} {
	t.Helper()
	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &event))
	return event
}

func TestServiceStatus(t *testing.T) {
	event := decode(t, ServiceStatus(StatusInitiating, StatusTextServiceStarting))
	assert.Equal(t, "service_status", event["type"])
	assert.Equal(t, "initiating", event["status"])
	assert.Equal(t, "Service Starting", event["status_text"])
}

func TestServiceStatusOmitsEmptyText(t *testing.T) {
	event := decode(t, ServiceStatus(StatusReady, ""))
	assert.Equal(t, "ready", event["status"])
	assert.NotContains(t, event, "status_text")
}

func TestLastMemory(t *testing.T) {
	event := decode(t, LastMemory("mem-1"))
	assert.Equal(t, "last_memory", event["type"])
	assert.Equal(t, "mem-1", event["memory_id"])
}

func TestMemoryProcessingStarted(t *testing.T) {
	conversation := &internal_conversation.Conversation{ID: "c1", UID: "u1"}
	event := decode(t, MemoryProcessingStarted(conversation))
	assert.Equal(t, "memory_processing_started", event["type"])
	memory := event["memory"].(map[string]interface{})
	assert.Equal(t, "c1", memory["id"])
}

func TestMemoryCreatedWithMessages(t *testing.T) {
	conversation := &internal_conversation.Conversation{ID: "c1"}
	messages := []json.RawMessage{json.RawMessage(`{"text":"hi"}`)}
	event := decode(t, MemoryCreated(conversation, messages))
	assert.Equal(t, "memory_created", event["type"])
	require.Len(t, event["messages"], 1)
}

func TestMemoryCreatedDiscardedStillAnnounces(t *testing.T) {
	conversation := &internal_conversation.Conversation{
		ID:        "c1",
		Status:    internal_conversation.StatusDiscarded,
		Discarded: true,
	}
	event := decode(t, MemoryCreated(conversation, nil))
	assert.Equal(t, "memory_created", event["type"])
	memory := event["memory"].(map[string]interface{})
	assert.Equal(t, true, memory["discarded"])
	assert.NotContains(t, event, "messages")
}
