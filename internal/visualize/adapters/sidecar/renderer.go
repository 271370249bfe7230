package sidecar

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

type renderRequest struct {
	Config    json.RawMessage  `json:"config"`
	Direction domain.Direction `json:"direction"`
}

type renderResponse struct {
	SVG string `json:"svg"`
}

// Renderer implements ports.RendererPort against POST /render.
type Renderer struct {
	client *Client
}

func NewRenderer(client *Client) *Renderer {
	return &Renderer{client: client}
}

// Render returns the SVG markup for config. An empty document is an error.
func (r *Renderer) Render(ctx context.Context, config json.RawMessage, direction domain.Direction) (string, error) {
	var resp renderResponse
	if err := r.client.post(ctx, "/render", renderRequest{Config: config, Direction: direction}, &resp); err != nil {
		return "", err
	}
	if resp.SVG == "" {
		return "", fmt.Errorf("render returned an empty document")
	}
	return resp.SVG, nil
}
