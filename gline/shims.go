package gline

import "runtime"

// entityInference is the capability set shared by span and token models.
type entityInference interface {
	newModel(modelPath, deviceType string) uintptr
	infer(model uintptr, inputs, labels []string) uintptr
	freeModel(model uintptr)
	freeResult(result uintptr)
}

// relationInference is the capability set of relation models.
type relationInference interface {
	newModel(modelPath, deviceType string) uintptr
	addSchema(model uintptr, relation string, headTypes, tailTypes []string)
	infer(model uintptr, inputs, entityLabels []string) uintptr
	freeModel(model uintptr)
	freeResult(result uintptr)
}

type entityShims struct {
	newFn        newModelFunc
	inferFn      inferFunc
	freeModelFn  releaseFunc
	freeResultFn releaseFunc
}

func (t *symbolTable) spanShims() entityShims {
	return entityShims{
		newFn:        t.newSpanModel,
		inferFn:      t.inferenceSpan,
		freeModelFn:  t.freeSpanModel,
		freeResultFn: t.freeBatchResult,
	}
}

func (t *symbolTable) tokenShims() entityShims {
	return entityShims{
		newFn:        t.newTokenModel,
		inferFn:      t.inferenceToken,
		freeModelFn:  t.freeTokenModel,
		freeResultFn: t.freeBatchResult,
	}
}

func (s entityShims) newModel(modelPath, deviceType string) uintptr {
	return callNewModel(s.newFn, modelPath, deviceType)
}

func (s entityShims) infer(model uintptr, inputs, labels []string) uintptr {
	return callInfer(s.inferFn, model, inputs, labels)
}

func (s entityShims) freeModel(model uintptr) {
	s.freeModelFn(model)
}

func (s entityShims) freeResult(result uintptr) {
	s.freeResultFn(result)
}

type relationShims struct {
	newFn        newModelFunc
	addSchemaFn  addSchemaFunc
	inferFn      inferFunc
	freeModelFn  releaseFunc
	freeResultFn releaseFunc
}

func (t *symbolTable) relationShims() relationShims {
	return relationShims{
		newFn:        t.newRelationModel,
		addSchemaFn:  t.addRelationSchema,
		inferFn:      t.inferenceRelation,
		freeModelFn:  t.freeRelationModel,
		freeResultFn: t.freeRelationResult,
	}
}

func (s relationShims) newModel(modelPath, deviceType string) uintptr {
	return callNewModel(s.newFn, modelPath, deviceType)
}

func (s relationShims) addSchema(model uintptr, relation string, headTypes, tailTypes []string) {
	relationBytes, relationPtr := goToCstring(relation)
	heads := newCStringArray(headTypes)
	tails := newCStringArray(tailTypes)

	s.addSchemaFn(model, relationPtr, heads.pointer(), heads.length(), tails.pointer(), tails.length())

	// The binding copies schema strings during the call.
	runtime.KeepAlive(relationBytes)
	runtime.KeepAlive(heads)
	runtime.KeepAlive(tails)
}

func (s relationShims) infer(model uintptr, inputs, entityLabels []string) uintptr {
	return callInfer(s.inferFn, model, inputs, entityLabels)
}

func (s relationShims) freeModel(model uintptr) {
	s.freeModelFn(model)
}

func (s relationShims) freeResult(result uintptr) {
	s.freeResultFn(result)
}

func callNewModel(fn newModelFunc, modelPath, deviceType string) uintptr {
	pathBytes, pathPtr := goToCstring(modelPath)
	deviceBytes, devicePtr := goToCstring(deviceType)

	handle := fn(pathPtr, devicePtr)

	runtime.KeepAlive(pathBytes)
	runtime.KeepAlive(deviceBytes)
	return handle
}

// callInfer returns the raw result pointer; a zero return means no results.
func callInfer(fn inferFunc, model uintptr, inputs, labels []string) uintptr {
	in := newCStringArray(inputs)
	lb := newCStringArray(labels)

	result := fn(model, in.pointer(), in.length(), lb.pointer(), lb.length())

	runtime.KeepAlive(in)
	runtime.KeepAlive(lb)
	return result
}
