// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_event

import (
	"encoding/json"

	internal_conversation "github.com/rapidaai/listen/api/listen-api/internal/conversation"
)

// Control events ride the same websocket as the transcript frames; clients
// discriminate on the type field.
const (
	TypeServiceStatus           = "service_status"
	TypeLastMemory              = "last_memory"
	TypeMemoryProcessingStarted = "memory_processing_started"
	TypeMemoryCreated           = "memory_created"
)

// Lifecycle status texts emitted while a session spins up and while captured
// conversations run through post-processing.
const (
	StatusInitiating    = "initiating"
	StatusSTTInitiating = "stt_initiating"
	StatusReady         = "ready"
	StatusInProgress    = "in_progress_memories_processing"

	StatusTextServiceStarting    = "Service Starting"
	StatusTextSTTServiceStarting = "STT Service Starting"
	StatusTextProcessingMemories = "Processing Memories"
)

type serviceStatus struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	StatusText string `json:"status_text,omitempty"`
}

type lastMemory struct {
	Type     string `json:"type"`
	MemoryID string `json:"memory_id"`
}

type memoryEnvelope struct {
	Type     string                              `json:"type"`
	Memory   *internal_conversation.Conversation `json:"memory"`
	Messages []json.RawMessage                   `json:"messages,omitempty"`
}

// ServiceStatus renders a service_status event.
func ServiceStatus(status, statusText string) []byte {
	payload, _ := json.Marshal(serviceStatus{
		Type:       TypeServiceStatus,
		Status:     status,
		StatusText: statusText,
	})
	return payload
}

// LastMemory announces the most recently completed conversation id so clients
// can refresh their trailing view on connect.
func LastMemory(memoryID string) []byte {
	payload, _ := json.Marshal(lastMemory{Type: TypeLastMemory, MemoryID: memoryID})
	return payload
}

// MemoryProcessingStarted announces that a captured conversation entered
// post-processing.
func MemoryProcessingStarted(conversation *internal_conversation.Conversation) []byte {
	payload, _ := json.Marshal(memoryEnvelope{
		Type:   TypeMemoryProcessingStarted,
		Memory: conversation,
	})
	return payload
}

// MemoryCreated announces the post-processed conversation. Discarded
// conversations still emit this event so clients can clear their in-progress
// view.
func MemoryCreated(conversation *internal_conversation.Conversation, messages []json.RawMessage) []byte {
	payload, _ := json.Marshal(memoryEnvelope{
		Type:     TypeMemoryCreated,
		Memory:   conversation,
		Messages: messages,
	})
	return payload
}
