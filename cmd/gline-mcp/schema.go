package main

import (
	"fmt"
	"strings"

	"github.com/amikos-tech/pure-gline/gline"
)

// parseRelationSchema parses name:HEAD1|HEAD2:TAIL1|TAIL2.
func parseRelationSchema(value string) (gline.RelationSchema, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return gline.RelationSchema{}, fmt.Errorf("invalid relation schema %q: expected name:HEAD1|HEAD2:TAIL1|TAIL2", value)
	}

	name := strings.TrimSpace(parts[0])
	if name == "" {
		return gline.RelationSchema{}, fmt.Errorf("invalid relation schema %q: relation name is empty", value)
	}
	heads := splitTypes(parts[1])
	tails := splitTypes(parts[2])
	if len(heads) == 0 || len(tails) == 0 {
		return gline.RelationSchema{}, fmt.Errorf("invalid relation schema %q: head and tail types are required", value)
	}

	return gline.RelationSchema{Relation: name, HeadTypes: heads, TailTypes: tails}, nil
}

func parseRelationSchemas(values []string) ([]gline.RelationSchema, error) {
	schemas := make([]gline.RelationSchema, 0, len(values))
	for _, v := range values {
		s, err := parseRelationSchema(v)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

func splitTypes(value string) []string {
	var out []string
	for _, t := range strings.Split(value, "|") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
