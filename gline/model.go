package gline

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// SpanModel extracts entities with a span-mode GLiNER model.
type SpanModel struct {
	entityModel
}

// TokenModel extracts entities with a token-mode GLiNER model.
type TokenModel struct {
	entityModel
}

// RelationModel extracts relations between entities. Register at least one schema
// with AddSchema before calling Predict.
type RelationModel struct {
	lib    *Library
	shims  relationInference
	handle *ownedHandle
}

// RelationSchema restricts a relation to the given head and tail entity types.
type RelationSchema struct {
	Relation  string   `json:"relation"`
	HeadTypes []string `json:"head_types"`
	TailTypes []string `json:"tail_types"`
}

type entityModel struct {
	lib    *Library
	kind   ModelKind
	shims  entityInference
	handle *ownedHandle
}

// NewSpanModel loads a span-mode model.
//
// deviceType is passed verbatim as the constructor's second argument; the gline-rs
// binding reads it as the path of the model's tokenizer.json.
func (l *Library) NewSpanModel(modelPath, deviceType string) (*SpanModel, error) {
	m, err := l.newEntityModel(SpanModelKind, modelPath, deviceType)
	if err != nil {
		return nil, err
	}
	model := &SpanModel{entityModel: m}
	runtime.SetFinalizer(model, func(m *SpanModel) {
		_ = m.Close()
	})
	return model, nil
}

// NewTokenModel loads a token-mode model. See NewSpanModel for deviceType.
func (l *Library) NewTokenModel(modelPath, deviceType string) (*TokenModel, error) {
	m, err := l.newEntityModel(TokenModelKind, modelPath, deviceType)
	if err != nil {
		return nil, err
	}
	model := &TokenModel{entityModel: m}
	runtime.SetFinalizer(model, func(m *TokenModel) {
		_ = m.Close()
	})
	return model, nil
}

// NewRelationModel loads a relation extraction model. See NewSpanModel for deviceType.
func (l *Library) NewRelationModel(modelPath, deviceType string) (*RelationModel, error) {
	if err := validateModelArgs(modelPath, deviceType); err != nil {
		return nil, err
	}

	var model *RelationModel
	err := l.call(func(t *symbolTable) error {
		shims := t.relationShims()
		addr := shims.newModel(modelPath, deviceType)
		if addr == 0 {
			return &ModelConstructionError{Kind: RelationModelKind, ModelPath: modelPath, DeviceType: deviceType}
		}
		l.liveModels.Add(1)
		model = &RelationModel{lib: l, shims: shims, handle: newOwnedHandle(addr)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	runtime.SetFinalizer(model, func(m *RelationModel) {
		_ = m.Close()
	})
	return model, nil
}

func (l *Library) newEntityModel(kind ModelKind, modelPath, deviceType string) (entityModel, error) {
	if err := validateModelArgs(modelPath, deviceType); err != nil {
		return entityModel{}, err
	}

	var m entityModel
	err := l.call(func(t *symbolTable) error {
		var shims entityShims
		if kind == TokenModelKind {
			shims = t.tokenShims()
		} else {
			shims = t.spanShims()
		}
		addr := shims.newModel(modelPath, deviceType)
		if addr == 0 {
			return &ModelConstructionError{Kind: kind, ModelPath: modelPath, DeviceType: deviceType}
		}
		l.liveModels.Add(1)
		m = entityModel{lib: l, kind: kind, shims: shims, handle: newOwnedHandle(addr)}
		return nil
	})
	return m, err
}

func validateModelArgs(modelPath, deviceType string) error {
	if strings.TrimSpace(modelPath) == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if v, ok := firstNUL(modelPath, deviceType); ok {
		return fmt.Errorf("model argument %q contains a NUL byte", v)
	}
	return nil
}

func validateStrings(what string, values []string) error {
	if v, ok := firstNUL(values...); ok {
		return fmt.Errorf("%s value %q contains a NUL byte", what, v)
	}
	return nil
}

// Kind returns the model family.
func (m *entityModel) Kind() ModelKind {
	return m.kind
}

// Predict runs inference over inputs with the given entity labels.
//
// Results are flat: each Span's SequenceIndex points back into inputs. An empty
// result from the binding is returned as an empty slice, not an error.
func (m *entityModel) Predict(inputs, labels []string) ([]Span, error) {
	if err := validateStrings("input", inputs); err != nil {
		return nil, err
	}
	if err := validateStrings("label", labels); err != nil {
		return nil, err
	}

	var spans []Span
	err := m.lib.call(func(*symbolTable) error {
		return m.handle.use(func(addr uintptr) error {
			if len(inputs) == 0 {
				spans = []Span{}
				return nil
			}
			result := m.shims.infer(addr, inputs, labels)
			var err error
			spans, err = consumeSpanResult(result, m.shims.freeResult)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%s inference: %w", m.kind, err)
	}
	return spans, nil
}

// Close frees the native model. Later calls return nil; calls on a closed model
// return ErrModelClosed.
func (m *entityModel) Close() error {
	return closeHandle(m.lib, m.handle, m.shims.freeModel)
}

// AddSchema registers a relation with its allowed head and tail entity types.
func (m *RelationModel) AddSchema(relation string, headTypes, tailTypes []string) error {
	if strings.TrimSpace(relation) == "" {
		return fmt.Errorf("relation name cannot be empty")
	}
	if len(headTypes) == 0 || len(tailTypes) == 0 {
		return fmt.Errorf("relation %q: head/tail types cannot be empty", relation)
	}
	if v, ok := firstNUL(relation); ok {
		return fmt.Errorf("relation %q contains a NUL byte", v)
	}
	if err := validateStrings("head type", headTypes); err != nil {
		return err
	}
	if err := validateStrings("tail type", tailTypes); err != nil {
		return err
	}

	return m.lib.call(func(*symbolTable) error {
		return m.handle.useExclusive(func(addr uintptr) error {
			m.shims.addSchema(addr, relation, headTypes, tailTypes)
			return nil
		})
	})
}

// AddSchemas registers each schema in order and stops at the first error.
func (m *RelationModel) AddSchemas(schemas ...RelationSchema) error {
	for _, s := range schemas {
		if err := m.AddSchema(s.Relation, s.HeadTypes, s.TailTypes); err != nil {
			return err
		}
	}
	return nil
}

// Predict extracts relations. entityLabels drive the entity pass that precedes
// relation scoring inside the binding.
func (m *RelationModel) Predict(inputs, entityLabels []string) ([]Relation, error) {
	if err := validateStrings("input", inputs); err != nil {
		return nil, err
	}
	if err := validateStrings("entity label", entityLabels); err != nil {
		return nil, err
	}

	var relations []Relation
	err := m.lib.call(func(*symbolTable) error {
		return m.handle.use(func(addr uintptr) error {
			if len(inputs) == 0 {
				relations = []Relation{}
				return nil
			}
			result := m.shims.infer(addr, inputs, entityLabels)
			var err error
			relations, err = consumeRelationResult(result, m.shims.freeResult)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("relation inference: %w", err)
	}
	return relations, nil
}

// Close frees the native model. Later calls return nil.
func (m *RelationModel) Close() error {
	return closeHandle(m.lib, m.handle, m.shims.freeModel)
}

func closeHandle(lib *Library, h *ownedHandle, free func(uintptr)) error {
	if h == nil || !h.valid() {
		return nil
	}
	err := lib.call(func(*symbolTable) error {
		if h.consume(free) {
			lib.liveModels.Add(-1)
		}
		return nil
	})
	if errors.Is(err, ErrLibraryClosed) {
		return fmt.Errorf("gline: cannot free model after its library was closed: %w", err)
	}
	return err
}
