package gline

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// ModelKind identifies one of the three model families exposed by the binding.
type ModelKind int

const (
	SpanModelKind ModelKind = iota
	TokenModelKind
	RelationModelKind
)

func (k ModelKind) String() string {
	switch k {
	case SpanModelKind:
		return "span"
	case TokenModelKind:
		return "token"
	case RelationModelKind:
		return "relation"
	default:
		return fmt.Sprintf("ModelKind(%d)", int(k))
	}
}

const (
	symNewSpanModel       = "new_span_model"
	symInferenceSpan      = "inference_span"
	symFreeSpanModel      = "free_span_model"
	symNewTokenModel      = "new_token_model"
	symInferenceToken     = "inference_token"
	symFreeTokenModel     = "free_token_model"
	symFreeBatchResult    = "free_batch_result"
	symNewRelationModel   = "new_relation_model"
	symAddRelationSchema  = "add_relation_schema"
	symInferenceRelation  = "inference_relation"
	symFreeRelationModel  = "free_relation_model"
	symFreeRelationResult = "free_relation_result"
)

// requiredSymbols is the resolution order. Changing it changes which symbol
// SymbolNotFoundError reports for libraries missing several entry points.
var requiredSymbols = [...]string{
	symNewSpanModel,
	symInferenceSpan,
	symFreeSpanModel,
	symNewTokenModel,
	symInferenceToken,
	symFreeTokenModel,
	symFreeBatchResult,
	symNewRelationModel,
	symAddRelationSchema,
	symInferenceRelation,
	symFreeRelationModel,
	symFreeRelationResult,
}

// RequiredSymbols returns the entry points a binding must export, in resolution order.
func RequiredSymbols() []string {
	return append([]string(nil), requiredSymbols[:]...)
}

// symbolResolver maps an entry point name to its address in a loaded library.
type symbolResolver func(name string) (uintptr, error)

type (
	// void *(const char *model_path, const char *device_type)
	newModelFunc func(modelPath, deviceType uintptr) uintptr
	// BatchResult *(void *model, const char **inputs, size_t n, const char **labels, size_t m)
	inferFunc func(model, inputs, inputCount, labels, labelCount uintptr) uintptr
	// void (void *)
	releaseFunc func(ptr uintptr)
	// void (void *model, const char *relation, const char **heads, size_t, const char **tails, size_t)
	addSchemaFunc func(model, relation, heads, headCount, tails, tailCount uintptr)
)

// symbolTable holds every entry point of one loaded binding. It is built in full or not
// at all and is read-only afterwards.
type symbolTable struct {
	addrs map[string]uintptr

	newSpanModel  newModelFunc
	inferenceSpan inferFunc
	freeSpanModel releaseFunc

	newTokenModel  newModelFunc
	inferenceToken inferFunc
	freeTokenModel releaseFunc

	freeBatchResult releaseFunc

	newRelationModel   newModelFunc
	addRelationSchema  addSchemaFunc
	inferenceRelation  inferFunc
	freeRelationModel  releaseFunc
	freeRelationResult releaseFunc
}

func buildSymbolTable(resolve symbolResolver) (*symbolTable, error) {
	addrs := make(map[string]uintptr, len(requiredSymbols))
	for _, name := range requiredSymbols {
		addr, err := resolve(name)
		if err != nil {
			return nil, &SymbolNotFoundError{Name: name, Reason: err.Error()}
		}
		if addr == 0 {
			return nil, &SymbolNotFoundError{Name: name}
		}
		addrs[name] = addr
	}

	t := &symbolTable{addrs: addrs}
	bindings := []struct {
		fptr any
		name string
	}{
		{&t.newSpanModel, symNewSpanModel},
		{&t.inferenceSpan, symInferenceSpan},
		{&t.freeSpanModel, symFreeSpanModel},
		{&t.newTokenModel, symNewTokenModel},
		{&t.inferenceToken, symInferenceToken},
		{&t.freeTokenModel, symFreeTokenModel},
		{&t.freeBatchResult, symFreeBatchResult},
		{&t.newRelationModel, symNewRelationModel},
		{&t.addRelationSchema, symAddRelationSchema},
		{&t.inferenceRelation, symInferenceRelation},
		{&t.freeRelationModel, symFreeRelationModel},
		{&t.freeRelationResult, symFreeRelationResult},
	}
	for _, b := range bindings {
		purego.RegisterFunc(b.fptr, addrs[b.name])
	}

	return t, nil
}

func (t *symbolTable) address(name string) uintptr {
	return t.addrs[name]
}
