package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/amikos-tech/pure-gline/gline"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type entityPredictor interface {
	Predict(inputs, labels []string) ([]gline.Span, error)
}

type relationPredictor interface {
	Predict(inputs, entityLabels []string) ([]gline.Relation, error)
}

type extractEntitiesInput struct {
	Text   string   `json:"text" jsonschema:"text to extract entities from"`
	Labels []string `json:"labels" jsonschema:"entity labels to look for, e.g. person, organization"`
}

type extractRelationsInput struct {
	Text         string   `json:"text" jsonschema:"text to extract relations from"`
	EntityLabels []string `json:"entity_labels" jsonschema:"entity labels used to find relation endpoints"`
}

// newServer registers extract_entities, and extract_relations when relations is non-nil.
func newServer(entities entityPredictor, relations relationPredictor) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    "gline-mcp",
		Version: serverVersion,
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "extract_entities",
		Description: "Extract named entities from text using a GLiNER model. Returns a JSON array of spans.",
	}, entitiesHandler(entities))

	if relations != nil {
		mcp.AddTool(s, &mcp.Tool{
			Name:        "extract_relations",
			Description: "Extract (source, relation, target) triples from text using a GLiNER relation model. Returns a JSON array of relations.",
		}, relationsHandler(relations))
	}
	return s
}

func entitiesHandler(model entityPredictor) mcp.ToolHandlerFor[extractEntitiesInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input extractEntitiesInput) (*mcp.CallToolResult, any, error) {
		labels := cleanLabels(input.Labels)
		if strings.TrimSpace(input.Text) == "" {
			return errorResult("text cannot be empty"), nil, nil
		}
		if len(labels) == 0 {
			return errorResult("labels cannot be empty"), nil, nil
		}

		spans, err := model.Predict([]string{input.Text}, labels)
		if err != nil {
			return errorResult("Inference error: %v", err), nil, nil
		}
		return jsonResult(spans), nil, nil
	}
}

func relationsHandler(model relationPredictor) mcp.ToolHandlerFor[extractRelationsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input extractRelationsInput) (*mcp.CallToolResult, any, error) {
		labels := cleanLabels(input.EntityLabels)
		if strings.TrimSpace(input.Text) == "" {
			return errorResult("text cannot be empty"), nil, nil
		}
		if len(labels) == 0 {
			return errorResult("entity_labels cannot be empty"), nil, nil
		}

		relations, err := model.Predict([]string{input.Text}, labels)
		if err != nil {
			return errorResult("Inference error: %v", err), nil, nil
		}
		return jsonResult(relations), nil, nil
	}
}

func cleanLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func jsonResult(v any) *mcp.CallToolResult {
	body, err := json.Marshal(v)
	if err != nil {
		return errorResult("Serialization error: %v", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
	}
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}
