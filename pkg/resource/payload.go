// Package resource turns attached content into a bounded prompt digest.
package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedContent is returned for items with no usable content.
var ErrUnsupportedContent = errors.New("unsupported resource content")

// Payload is the attached-content container. Exactly one shape is used, tried
// in order: Resources, then Content, then Text.
type Payload struct {
	Resources []NamedResource `json:"resources,omitempty"`
	Content   []ContentItem   `json:"content,omitempty"`
	Text      string          `json:"text,omitempty"`
}

// NamedResource is a file-like resource.
type NamedResource struct {
	Name     string          `json:"name,omitempty"`
	URI      string          `json:"uri,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Text     string          `json:"text,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
	Blob     string          `json:"blob,omitempty"`
}

// ContentItem is a typed content entry: "text" items carry Text, "resource"
// items carry a nested Resource.
type ContentItem struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	Resource *NamedResource `json:"resource,omitempty"`
}

// Parse decodes a payload. Input that is not a JSON object is taken as flat text.
func Parse(data []byte) (*Payload, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return &Payload{}, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return &Payload{Text: trimmed}, nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return nil, fmt.Errorf("parse resource payload: %w", err)
	}
	return &p, nil
}

// Empty reports whether the payload carries nothing to digest.
func (p *Payload) Empty() bool {
	return p == nil || (len(p.Resources) == 0 && len(p.Content) == 0 && strings.TrimSpace(p.Text) == "")
}

// item is one resource ready for rendering.
type item struct {
	name string
	body string
	err  error
}

// items flattens the first payload shape that yields anything.
func (p *Payload) items() []item {
	if p == nil {
		return nil
	}
	if len(p.Resources) > 0 {
		out := make([]item, 0, len(p.Resources))
		for i, r := range p.Resources {
			out = append(out, fromNamed(r, fmt.Sprintf("resource %d", i+1)))
		}
		return out
	}
	if len(p.Content) > 0 {
		out := make([]item, 0, len(p.Content))
		for i, c := range p.Content {
			fallback := fmt.Sprintf("content %d", i+1)
			switch {
			case c.Type == "resource" && c.Resource != nil:
				out = append(out, fromNamed(*c.Resource, fallback))
			case c.Type == "text" || (c.Type == "" && c.Text != ""):
				if strings.TrimSpace(c.Text) == "" {
					out = append(out, item{name: fallback, err: fmt.Errorf("%w: empty text item", ErrUnsupportedContent)})
					continue
				}
				out = append(out, item{name: fallback, body: c.Text})
			default:
				out = append(out, item{name: fallback, err: fmt.Errorf("%w: content type %q", ErrUnsupportedContent, c.Type)})
			}
		}
		return out
	}
	if strings.TrimSpace(p.Text) != "" {
		return []item{{name: "text", body: p.Text}}
	}
	return nil
}

func fromNamed(r NamedResource, fallback string) item {
	name := r.Name
	if name == "" {
		name = r.URI
	}
	if name == "" {
		name = fallback
	}

	switch {
	case r.Text != "":
		return item{name: name, body: r.Text}
	case len(r.Content) > 0 && string(r.Content) != "null":
		var s string
		if err := json.Unmarshal(r.Content, &s); err == nil {
			return item{name: name, body: s}
		}
		return item{name: name, body: string(r.Content)}
	case r.Blob != "":
		mime := r.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		return item{name: name, body: fmt.Sprintf("[binary content omitted: %s, %d base64 characters]", mime, len(r.Blob))}
	}
	return item{name: name, err: fmt.Errorf("%w: resource %s has no text", ErrUnsupportedContent, name)}
}
