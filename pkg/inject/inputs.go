package inject

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

// HTTPResponse is the raw fetched page as seen by a page object
type HTTPResponse struct {
	URL    string      `json:"url"`
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body"`
}

// RequestURL is the URL the engine requested (before redirects)
type RequestURL string

// FetchTime is the time the inputs were built. It is frozen while recording fixtures.
type FetchTime struct {
	Time time.Time `json:"time"`
}

// HTMLDocument is the parsed response body
type HTMLDocument struct {
	URL string
	Doc *goquery.Document
}

type htmlDocumentJSON struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

// MarshalJSON stores the rendered document so fixtures can be reloaded
func (d HTMLDocument) MarshalJSON() ([]byte, error) {
	out := htmlDocumentJSON{URL: d.URL}
	if d.Doc != nil {
		html, err := d.Doc.Html()
		if err != nil {
			return nil, fmt.Errorf("%w: rendering HTML document: %w", utils.ErrParsing, err)
		}
		out.HTML = html
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the stored HTML back into a document
func (d *HTMLDocument) UnmarshalJSON(data []byte) error {
	var in htmlDocumentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: decoding JSON HTML document: %w", utils.ErrParsing, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(in.HTML)))
	if err != nil {
		return fmt.Errorf("%w: parsing HTML: %w", utils.ErrParsing, err)
	}
	d.URL = in.URL
	d.Doc = doc
	return nil
}

// Markdown is the response body converted to markdown
type Markdown struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}
