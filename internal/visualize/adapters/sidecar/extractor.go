package sidecar

import (
	"context"

	"github.com/nathantilsley/machine-sentry/internal/visualize/domain"
)

type extractRequest struct {
	Source string `json:"source"`
}

type extractResponse struct {
	Machines []domain.ExtractedDefinition `json:"machines"`
}

// Extractor implements ports.ExtractorPort against POST /extract.
type Extractor struct {
	client *Client
}

func NewExtractor(client *Client) *Extractor {
	return &Extractor{client: client}
}

// ExtractMachines returns every machine definition the sidecar finds in
// source, in source order.
func (e *Extractor) ExtractMachines(ctx context.Context, source string) ([]domain.ExtractedDefinition, error) {
	var resp extractResponse
	if err := e.client.post(ctx, "/extract", extractRequest{Source: source}, &resp); err != nil {
		return nil, err
	}
	return resp.Machines, nil
}
