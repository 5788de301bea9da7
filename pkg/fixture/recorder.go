// Package fixture records the inputs and the item of one page object run
// and stores them as a test fixture directory.
package fixture

import (
	"context"
	"reflect"
	"sync"

	"github.com/Sriram-PR/poet-crawler/pkg/inject"
	"github.com/Sriram-PR/poet-crawler/pkg/models"
)

// Input is one recorded page object dependency
type Input struct {
	Type  reflect.Type
	Value any
}

// Recorder collects inputs and items for a single savefixture run.
// It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	inputs []Input // Inputs of the most recent fetch
	builds int
	items  []any
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Injector wraps inner so every built input set is recorded
func (r *Recorder) Injector(inner inject.InputBuilder) inject.InputBuilder {
	return &savingInjector{inner: inner, rec: r}
}

// ProcessItem records item and passes it on unchanged
func (r *Recorder) ProcessItem(_ context.Context, item any) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	return item, nil
}

// Inputs returns the inputs built for the most recent fetch, in request order
func (r *Recorder) Inputs() []Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Input(nil), r.inputs...)
}

// Builds returns how many input sets were built (one per fetch that reached the page object)
func (r *Recorder) Builds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.builds
}

// Items returns the recorded items in delivery order
func (r *Recorder) Items() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.items...)
}

func (r *Recorder) record(types []reflect.Type, inputs map[reflect.Type]any) {
	set := make([]Input, 0, len(inputs))
	seen := make(map[reflect.Type]bool, len(types))
	for _, t := range types {
		if seen[t] {
			continue
		}
		seen[t] = true
		if v, ok := inputs[t]; ok {
			set = append(set, Input{Type: t, Value: v})
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = set
	r.builds++
}

type savingInjector struct {
	inner inject.InputBuilder
	rec   *Recorder
}

func (s *savingInjector) BuildInputs(ctx context.Context, req *models.Request, resp *models.Response, types []reflect.Type) (map[reflect.Type]any, error) {
	inputs, err := s.inner.BuildInputs(ctx, req, resp, types)
	if err != nil {
		return nil, err
	}
	s.rec.record(types, inputs)
	return inputs, nil
}
