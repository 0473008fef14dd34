package sandbox

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const dataScheme = "data:"

// markup is a parsed document ready to hand to the prelude. Nodes are plain
// maps so goja exposes them with lowercase keys.
type markup struct {
	title   string
	head    []any
	body    []any
	scripts []string
}

func (m *markup) value() map[string]any {
	return map[string]any{
		"title": m.title,
		"head":  m.head,
		"body":  m.body,
	}
}

// loadMarkup returns the document behind a data: URL. Other schemes yield
// nil and an empty document.
func loadMarkup(rawURL string) (*markup, error) {
	if !strings.HasPrefix(rawURL, dataScheme) {
		return nil, nil
	}
	source, err := decodeDataURL(rawURL)
	if err != nil {
		return nil, err
	}
	return parseMarkup(source)
}

// decodeDataURL handles the two RFC 2397 encodings. Only HTML payloads are
// accepted.
func decodeDataURL(rawURL string) (string, error) {
	meta, payload, found := strings.Cut(strings.TrimPrefix(rawURL, dataScheme), ",")
	if !found {
		return "", fmt.Errorf("malformed data url: missing comma")
	}

	params := strings.Split(meta, ";")
	mediaType := strings.ToLower(strings.TrimSpace(params[0]))
	if mediaType != "" && mediaType != "text/html" {
		return "", fmt.Errorf("unsupported data url media type %q", mediaType)
	}

	if params[len(params)-1] == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", fmt.Errorf("malformed data url: %w", err)
		}
		return string(decoded), nil
	}

	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return "", fmt.Errorf("malformed data url: %w", err)
	}
	return decoded, nil
}

func parseMarkup(source string) (*markup, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	m := &markup{title: strings.TrimSpace(doc.Find("head > title").First().Text())}
	m.head = m.children(doc.Find("head").First())
	m.body = m.children(doc.Find("body").First())
	return m, nil
}

func (m *markup) children(sel *goquery.Selection) []any {
	if sel.Length() == 0 {
		return nil
	}
	var out []any
	for n := sel.Get(0).FirstChild; n != nil; n = n.NextSibling {
		if node := m.convert(n); node != nil {
			out = append(out, node)
		}
	}
	return out
}

// convert turns one parsed node into a prelude node. Script bodies are
// collected for execution after the document is built.
func (m *markup) convert(n *html.Node) map[string]any {
	switch n.Type {
	case html.TextNode:
		if strings.TrimSpace(n.Data) == "" {
			return nil
		}
		return map[string]any{"text": n.Data}

	case html.ElementNode:
		if n.Data == "script" {
			if n.FirstChild != nil {
				m.scripts = append(m.scripts, n.FirstChild.Data)
			}
			return nil
		}
		if n.Data == "title" {
			return nil
		}

		attrs := make(map[string]any, len(n.Attr))
		for _, a := range n.Attr {
			attrs[a.Key] = a.Val
		}
		var children []any
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if child := m.convert(c); child != nil {
				children = append(children, child)
			}
		}
		return map[string]any{
			"tag":      n.Data,
			"attrs":    attrs,
			"children": children,
		}
	}
	return nil
}
