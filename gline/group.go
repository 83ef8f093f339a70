package gline

// GroupSpans buckets spans by the input they belong to. The result has batchSize
// entries; spans whose SequenceIndex falls outside [0, batchSize) are dropped.
func GroupSpans(spans []Span, batchSize int) [][]Span {
	return groupBySequence(spans, batchSize, func(s Span) int { return s.SequenceIndex })
}

// GroupRelations buckets relations by the input they belong to, like GroupSpans.
func GroupRelations(relations []Relation, batchSize int) [][]Relation {
	return groupBySequence(relations, batchSize, func(r Relation) int { return r.SequenceIndex })
}

func groupBySequence[T any](records []T, batchSize int, index func(T) int) [][]T {
	if batchSize < 0 {
		batchSize = 0
	}
	out := make([][]T, batchSize)
	for i := range out {
		out[i] = []T{}
	}
	for _, r := range records {
		seq := index(r)
		if seq < 0 || seq >= batchSize {
			continue
		}
		out[seq] = append(out[seq], r)
	}
	return out
}
