// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_memories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"

	internal_conversation "github.com/rapidaai/listen/api/listen-api/internal/conversation"
	"github.com/rapidaai/listen/pkg/commons"
)

// Processor hands a captured conversation to the post-capture memory
// pipeline for structuring and summarization. The processed document comes
// back with the final status set.
type Processor interface {
	Process(ctx context.Context, uid, language string, conversation *internal_conversation.Conversation) (*internal_conversation.Conversation, error)
}

// PluginDispatcher fans the processed conversation out to user-enabled
// plugins and collects their reply messages.
type PluginDispatcher interface {
	Trigger(ctx context.Context, uid string, conversation *internal_conversation.Conversation) ([]json.RawMessage, error)
}

// Geocoder resolves a latitude/longitude pair to a display address.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, latitude, longitude float64) (string, error)
}

type httpProcessor struct {
	client *resty.Client
	logger commons.Logger
}

// NewProcessor creates the HTTP client for the memory pipeline host.
func NewProcessor(host string, logger commons.Logger) Processor {
	return &httpProcessor{
		client: resty.New().SetBaseURL(host),
		logger: logger,
	}
}

func (p *httpProcessor) Process(ctx context.Context, uid, language string, conversation *internal_conversation.Conversation) (*internal_conversation.Conversation, error) {
	var processed internal_conversation.Conversation
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("uid", uid).
		SetQueryParam("language", language).
		SetBody(conversation).
		SetResult(&processed).
		Post("/v1/memories/process")
	if err != nil {
		return nil, fmt.Errorf("failed to process memory %s: %w", conversation.ID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("memory processor rejected %s: %s", conversation.ID, resp.Status())
	}
	return &processed, nil
}

type httpPluginDispatcher struct {
	client *resty.Client
	logger commons.Logger
}

// NewPluginDispatcher creates the HTTP client for plugin fan-out, served by
// the same memory pipeline host.
func NewPluginDispatcher(host string, logger commons.Logger) PluginDispatcher {
	return &httpPluginDispatcher{
		client: resty.New().SetBaseURL(host),
		logger: logger,
	}
}

func (d *httpPluginDispatcher) Trigger(ctx context.Context, uid string, conversation *internal_conversation.Conversation) ([]json.RawMessage, error) {
	var messages []json.RawMessage
	resp, err := d.client.R().
		SetContext(ctx).
		SetQueryParam("uid", uid).
		SetBody(conversation).
		SetResult(&messages).
		Post("/v1/memories/plugins")
	if err != nil {
		return nil, fmt.Errorf("failed to trigger plugins for %s: %w", conversation.ID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("plugin dispatch rejected %s: %s", conversation.ID, resp.Status())
	}
	return messages, nil
}

type httpGeocoder struct {
	client *resty.Client
	apiKey string
	logger commons.Logger
}

type geocodeResponse struct {
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
	} `json:"results"`
}

// NewGeocoder creates the reverse geocoding client. An empty api key yields
// a geocoder that resolves nothing.
func NewGeocoder(apiKey string, logger commons.Logger) Geocoder {
	return &httpGeocoder{
		client: resty.New().SetBaseURL("https://maps.googleapis.com"),
		apiKey: apiKey,
		logger: logger,
	}
}

func (g *httpGeocoder) ReverseGeocode(ctx context.Context, latitude, longitude float64) (string, error) {
	if g.apiKey == "" {
		return "", nil
	}
	var result geocodeResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("latlng", fmt.Sprintf("%f,%f", latitude, longitude)).
		SetQueryParam("key", g.apiKey).
		SetResult(&result).
		Get("/maps/api/geocode/json")
	if err != nil {
		return "", fmt.Errorf("failed to reverse geocode: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("geocoding rejected: %s", resp.Status())
	}
	if len(result.Results) == 0 {
		return "", nil
	}
	return result.Results[0].FormattedAddress, nil
}
