// Package render defines the template renderer contract used to produce
// email bodies, plus a filesystem-backed implementation.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"strings"
	"sync"
	texttemplate "text/template"
)

// ErrTemplateNotFound is returned when no file backs the template ID.
var ErrTemplateNotFound = errors.New("render: template not found")

// Output is a rendered email body set.
type Output struct {
	// Subject is the rendered subject line, empty when the template has none.
	Subject string
	// HTMLContent is the rendered HTML body.
	HTMLContent string
	// TextContent is the rendered plain text body.
	TextContent string
}

// Renderer produces email content from a template ID and data.
type Renderer interface {
	Render(ctx context.Context, templateID string, data map[string]any) (Output, error)
}

// FSRenderer renders templates from a filesystem. A template ID maps to up to
// three files: <id>.html, <id>.txt and <id>.subject; at least one of the body
// files must exist.
type FSRenderer struct {
	fsys fs.FS

	mu    sync.RWMutex
	cache map[string]*templateSet
}

type templateSet struct {
	html    *htmltemplate.Template
	text    *texttemplate.Template
	subject *texttemplate.Template
}

// NewFS constructs a renderer over the given filesystem.
func NewFS(fsys fs.FS) *FSRenderer {
	return &FSRenderer{
		fsys:  fsys,
		cache: map[string]*templateSet{},
	}
}

// Render executes the templates for templateID with data. Missing data keys
// render as zero values rather than failing.
func (r *FSRenderer) Render(ctx context.Context, templateID string, data map[string]any) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	if strings.Contains(templateID, "/") || strings.Contains(templateID, "..") {
		return Output{}, fmt.Errorf("render: invalid template id %q", templateID)
	}

	set, err := r.load(templateID)
	if err != nil {
		return Output{}, err
	}

	var out Output

	if set.subject != nil {
		var buf bytes.Buffer
		if err := set.subject.Execute(&buf, data); err != nil {
			return Output{}, fmt.Errorf("render subject %q: %w", templateID, err)
		}
		out.Subject = strings.TrimSpace(buf.String())
	}

	if set.html != nil {
		var buf bytes.Buffer
		if err := set.html.Execute(&buf, data); err != nil {
			return Output{}, fmt.Errorf("render html %q: %w", templateID, err)
		}
		out.HTMLContent = buf.String()
	}

	if set.text != nil {
		var buf bytes.Buffer
		if err := set.text.Execute(&buf, data); err != nil {
			return Output{}, fmt.Errorf("render text %q: %w", templateID, err)
		}
		out.TextContent = buf.String()
	}

	return out, nil
}

func (r *FSRenderer) load(templateID string) (*templateSet, error) {
	r.mu.RLock()
	set, ok := r.cache[templateID]
	r.mu.RUnlock()
	if ok {
		return set, nil
	}

	set = &templateSet{}

	if raw, err := fs.ReadFile(r.fsys, templateID+".html"); err == nil {
		tmpl, err := htmltemplate.New(templateID).Option("missingkey=zero").Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parse html template %q: %w", templateID, err)
		}
		set.html = tmpl
	}

	if raw, err := fs.ReadFile(r.fsys, templateID+".txt"); err == nil {
		tmpl, err := texttemplate.New(templateID).Option("missingkey=zero").Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parse text template %q: %w", templateID, err)
		}
		set.text = tmpl
	}

	if raw, err := fs.ReadFile(r.fsys, templateID+".subject"); err == nil {
		tmpl, err := texttemplate.New(templateID).Option("missingkey=zero").Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parse subject template %q: %w", templateID, err)
		}
		set.subject = tmpl
	}

	if set.html == nil && set.text == nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}

	r.mu.Lock()
	r.cache[templateID] = set
	r.mu.Unlock()

	return set, nil
}
