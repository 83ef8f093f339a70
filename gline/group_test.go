package gline

import "testing"

func TestGroupSpans(t *testing.T) {
	spans := []Span{
		{SequenceIndex: 1, Text: "b1"},
		{SequenceIndex: 0, Text: "a1"},
		{SequenceIndex: 1, Text: "b2"},
		{SequenceIndex: 5, Text: "out of range"},
		{SequenceIndex: -1, Text: "negative"},
	}

	groups := GroupSpans(spans, 3)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if len(groups[0]) != 1 || groups[0][0].Text != "a1" {
		t.Fatalf("unexpected group 0: %+v", groups[0])
	}
	if len(groups[1]) != 2 || groups[1][0].Text != "b1" || groups[1][1].Text != "b2" {
		t.Fatalf("unexpected group 1: %+v", groups[1])
	}
	if groups[2] == nil || len(groups[2]) != 0 {
		t.Fatalf("expected empty non-nil group 2, got %#v", groups[2])
	}
	if groups[1][0].SequenceIndex != 1 {
		t.Fatalf("sequence index must be preserved")
	}
}

func TestGroupRelations(t *testing.T) {
	relations := []Relation{
		{SequenceIndex: 0, Relation: "works_at"},
		{SequenceIndex: 0, Relation: "lives_in"},
	}

	groups := GroupRelations(relations, 1)
	if len(groups) != 1 || len(groups[0]) != 2 {
		t.Fatalf("unexpected groups: %+v", groups)
	}
}

func TestGroupNonPositiveBatch(t *testing.T) {
	for _, size := range []int{0, -4} {
		if groups := GroupSpans([]Span{{SequenceIndex: 0}}, size); len(groups) != 0 {
			t.Fatalf("batch size %d: expected no groups, got %d", size, len(groups))
		}
	}
}
