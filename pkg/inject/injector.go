// Package inject builds page objects from fetched responses. Page objects
// declare their inputs as struct fields tagged `inject:""`; registered
// providers build those inputs once per response.
package inject

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/poet-crawler/pkg/extract"
	"github.com/Sriram-PR/poet-crawler/pkg/models"
	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

const tagName = "inject"

// PageObject turns its injected inputs into an item.
// Returning extract.Retry(reason) asks for the page to be fetched again.
type PageObject interface {
	ToItem(ctx context.Context) (any, error)
}

// Factory creates a fresh page object for each response
type Factory func() PageObject

// InputBuilder resolves dependency types to values for one response
type InputBuilder interface {
	BuildInputs(ctx context.Context, req *models.Request, resp *models.Response, types []reflect.Type) (map[reflect.Type]any, error)
}

// Injector resolves page object dependencies through registered providers
type Injector struct {
	providers map[reflect.Type]Provider
	log       *logrus.Entry
}

// NewInjector creates an injector with the given providers.
// Registering two providers for one type is an error.
func NewInjector(log *logrus.Entry, providers ...Provider) (*Injector, error) {
	inj := &Injector{
		providers: make(map[reflect.Type]Provider),
		log:       log.WithField("component", "injector"),
	}
	for _, p := range providers {
		if err := inj.Register(p); err != nil {
			return nil, err
		}
	}
	return inj, nil
}

// NewDefaultInjector registers the built-in providers. now is the clock
// behind FetchTime (time.Now when nil).
func NewDefaultInjector(log *logrus.Entry, now func() time.Time) *Injector {
	inj, err := NewInjector(log,
		ResponseProvider{},
		ClockProvider{Now: now},
		HTMLProvider{},
		MarkdownProvider{},
	)
	if err != nil {
		panic(err) // built-in providers never overlap
	}
	return inj
}

// Register adds a provider for all of its types
func (inj *Injector) Register(p Provider) error {
	for _, t := range p.Types() {
		if _, exists := inj.providers[t]; exists {
			return fmt.Errorf("%w: duplicate provider for %v", utils.ErrConfigValidation, t)
		}
		inj.providers[t] = p
	}
	return nil
}

// BuildInputs builds one value per requested type. Each type is built once
// even if requested twice.
func (inj *Injector) BuildInputs(ctx context.Context, req *models.Request, resp *models.Response, types []reflect.Type) (map[reflect.Type]any, error) {
	inputs := make(map[reflect.Type]any, len(types))
	for _, t := range types {
		if _, done := inputs[t]; done {
			continue
		}
		p, ok := inj.providers[t]
		if !ok {
			return nil, fmt.Errorf("%w: %v", utils.ErrNoProvider, t)
		}
		v, err := p.Provide(ctx, req, resp, t)
		if err != nil {
			return nil, fmt.Errorf("%w: building %v for %s: %w", utils.ErrProvider, t, resp.URL, err)
		}
		if v == nil || reflect.TypeOf(v) != t {
			return nil, fmt.Errorf("%w: provider for %v returned %T", utils.ErrProvider, t, v)
		}
		inputs[t] = v
	}
	inj.log.WithField("url", resp.URL).Debugf("Built %d inputs", len(inputs))
	return inputs, nil
}

// Dependencies lists the types of the tagged fields of page, in field order.
// page must be a pointer to a struct.
func Dependencies(page PageObject) ([]reflect.Type, error) {
	v := reflect.ValueOf(page)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: page object %T is not a pointer to a struct", utils.ErrConfigValidation, page)
	}
	st := v.Elem().Type()
	var types []reflect.Type
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if _, ok := f.Tag.Lookup(tagName); !ok {
			continue
		}
		if !f.IsExported() {
			return nil, fmt.Errorf("%w: %s.%s is tagged but not exported", utils.ErrConfigValidation, st.Name(), f.Name)
		}
		types = append(types, f.Type)
	}
	return types, nil
}

// Fill assigns inputs to the tagged fields of page
func Fill(page PageObject, inputs map[reflect.Type]any) error {
	v := reflect.ValueOf(page)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: page object %T is not a pointer to a struct", utils.ErrConfigValidation, page)
	}
	elem := v.Elem()
	st := elem.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if _, ok := f.Tag.Lookup(tagName); !ok {
			continue
		}
		val, ok := inputs[f.Type]
		if !ok {
			return fmt.Errorf("%w: %v for %s.%s", utils.ErrNoProvider, f.Type, st.Name(), f.Name)
		}
		elem.Field(i).Set(reflect.ValueOf(val))
	}
	return nil
}

// Build fills page with inputs built by b for one response
func Build(ctx context.Context, b InputBuilder, req *models.Request, resp *models.Response, page PageObject) error {
	types, err := Dependencies(page)
	if err != nil {
		return err
	}
	inputs, err := b.BuildInputs(ctx, req, resp, types)
	if err != nil {
		return err
	}
	return Fill(page, inputs)
}

// Extractor returns an extractor that builds a page object per response
// through b and maps its ToItem result with extract.FromResult.
func Extractor(b InputBuilder, factory Factory) extract.Extractor {
	return func(ctx context.Context, resp *models.Response) (extract.Outcome, error) {
		if resp == nil || resp.Request == nil {
			return extract.Outcome{}, fmt.Errorf("%w: response has no originating request", utils.ErrExtraction)
		}
		page := factory()
		if err := Build(ctx, b, resp.Request, resp, page); err != nil {
			return extract.Outcome{}, err
		}
		return extract.FromResult(page.ToItem(ctx))
	}
}

// TypeName returns the display name used for a page object type
func TypeName(page PageObject) string {
	t := reflect.TypeOf(page)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
