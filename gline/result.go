package gline

import (
	"fmt"
	"unsafe"
)

// maxBatchRecords caps the record count accepted from a native result header.
const maxBatchRecords = 1 << 24

// Span is one extracted entity. SequenceIndex identifies the input it was found in.
type Span struct {
	SequenceIndex int     `json:"sequence_index"`
	Start         int     `json:"start"`
	End           int     `json:"end"`
	Class         string  `json:"class"`
	Text          string  `json:"text"`
	Probability   float32 `json:"probability"`
}

// Relation is one extracted (source, relation, target) triple.
type Relation struct {
	SequenceIndex int     `json:"sequence_index"`
	Source        string  `json:"source"`
	Target        string  `json:"target"`
	Relation      string  `json:"relation"`
	Probability   float32 `json:"probability"`
}

// batchHeader mirrors both BatchResult and BatchRelationResult:
// { T *records; size_t count; }.
type batchHeader struct {
	records uintptr
	count   uintptr
}

// flatSpan mirrors FlatSpan.
type flatSpan struct {
	sequenceIndex uintptr
	start         uintptr
	end           uintptr
	class         uintptr
	text          uintptr
	prob          float32
}

// flatRelation mirrors FlatRelation.
type flatRelation struct {
	sequenceIndex uintptr
	source        uintptr
	target        uintptr
	relation      uintptr
	prob          float32
}

func spanFromNative(s *flatSpan) (Span, error) {
	class, err := cstringToGo(s.class)
	if err != nil {
		return Span{}, fmt.Errorf("span class: %w", err)
	}
	text, err := cstringToGo(s.text)
	if err != nil {
		return Span{}, fmt.Errorf("span text: %w", err)
	}
	return Span{
		SequenceIndex: int(s.sequenceIndex),
		Start:         int(s.start),
		End:           int(s.end),
		Class:         class,
		Text:          text,
		Probability:   s.prob,
	}, nil
}

func relationFromNative(r *flatRelation) (Relation, error) {
	var fields [3]string
	for i, ptr := range [...]uintptr{r.source, r.target, r.relation} {
		value, err := cstringToGo(ptr)
		if err != nil {
			return Relation{}, fmt.Errorf("relation field %d: %w", i, err)
		}
		fields[i] = value
	}
	return Relation{
		SequenceIndex: int(r.sequenceIndex),
		Source:        fields[0],
		Target:        fields[1],
		Relation:      fields[2],
		Probability:   r.prob,
	}, nil
}

// marshalBatch copies every record behind a native batch header into Go memory.
// A null header or a zero count yields an empty, non-nil slice. Any record that
// fails to convert fails the whole batch.
func marshalBatch[N any, H any](result uintptr, convert func(*N) (H, error)) ([]H, error) {
	if result == 0 {
		return []H{}, nil
	}

	// #nosec G103 -- result is a live BatchResult owned by the binding.
	header := (*batchHeader)(unsafe.Pointer(result))
	count := header.count
	if count == 0 {
		return []H{}, nil
	}
	if count > maxBatchRecords {
		return nil, fmt.Errorf("%w: record count %d exceeds limit %d", ErrMalformedResult, count, maxBatchRecords)
	}
	if header.records == 0 {
		return nil, fmt.Errorf("%w: %d records behind a null array", ErrMalformedResult, count)
	}

	// #nosec G103 -- bounds were checked above against count.
	records := unsafe.Slice((*N)(unsafe.Pointer(header.records)), int(count))
	out := make([]H, len(records))
	for i := range records {
		record, err := convert(&records[i])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out[i] = record
	}
	return out, nil
}

// consumeResult marshals result and then hands it to free exactly once.
// free is never called with a null pointer.
func consumeResult[N any, H any](result uintptr, free func(uintptr), convert func(*N) (H, error)) ([]H, error) {
	if result == 0 {
		return []H{}, nil
	}
	defer free(result)
	return marshalBatch(result, convert)
}

func consumeSpanResult(result uintptr, free func(uintptr)) ([]Span, error) {
	return consumeResult(result, free, spanFromNative)
}

func consumeRelationResult(result uintptr, free func(uintptr)) ([]Relation, error) {
	return consumeResult(result, free, relationFromNative)
}
