package inject

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/poet-crawler/pkg/models"
	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

// Provider builds page object dependencies from a fetched response
type Provider interface {
	// Types lists the dependency types this provider can build
	Types() []reflect.Type
	// Provide builds a value of type t. The value's dynamic type must be t.
	Provide(ctx context.Context, req *models.Request, resp *models.Response, t reflect.Type) (any, error)
}

// ResponseProvider supplies HTTPResponse and RequestURL
type ResponseProvider struct{}

func (ResponseProvider) Types() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[HTTPResponse](), reflect.TypeFor[RequestURL]()}
}

func (ResponseProvider) Provide(_ context.Context, req *models.Request, resp *models.Response, t reflect.Type) (any, error) {
	switch t {
	case reflect.TypeFor[HTTPResponse]():
		return HTTPResponse{URL: resp.URL, Status: resp.Status, Header: resp.Header.Clone(), Body: resp.Body}, nil
	case reflect.TypeFor[RequestURL]():
		return RequestURL(req.URL), nil
	}
	return nil, fmt.Errorf("%w: %v", utils.ErrNoProvider, t)
}

// ClockProvider supplies FetchTime from Now (time.Now when nil)
type ClockProvider struct {
	Now func() time.Time
}

func (ClockProvider) Types() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[FetchTime]()}
}

func (p ClockProvider) Provide(_ context.Context, _ *models.Request, _ *models.Response, _ reflect.Type) (any, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return FetchTime{Time: now().UTC()}, nil
}

// HTMLProvider parses the response body with goquery
type HTMLProvider struct{}

func (HTMLProvider) Types() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[HTMLDocument]()}
}

func (HTMLProvider) Provide(_ context.Context, _ *models.Request, resp *models.Response, _ reflect.Type) (any, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing HTML from %s: %w", utils.ErrParsing, resp.URL, err)
	}
	return HTMLDocument{URL: resp.URL, Doc: doc}, nil
}

// MarkdownProvider converts the response body to markdown
type MarkdownProvider struct{}

func (MarkdownProvider) Types() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[Markdown]()}
}

func (MarkdownProvider) Provide(_ context.Context, _ *models.Request, resp *models.Response, _ reflect.Type) (any, error) {
	converter := md.NewConverter(hostOf(resp.URL), true, nil)
	text, err := converter.ConvertString(string(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: converting %s to markdown: %w", utils.ErrParsing, resp.URL, err)
	}
	return Markdown{URL: resp.URL, Text: text}, nil
}
