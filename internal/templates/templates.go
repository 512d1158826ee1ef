// Package templates renders the pages shown in the browser at the end of an
// authorization redirect.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"
)

// AutoCloseDelay is how long the success page stays open
const AutoCloseDelay = 3 * time.Second

//go:embed html/*.html
var content embed.FS

// Templates manages the HTML templates
type Templates struct {
	success *template.Template
	error   *template.Template
}

// TemplateError wraps a rendering failure
type TemplateError struct {
	Cause   error
	Message string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error: %s: %v", e.Message, e.Cause)
}

func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// LoadTemplates loads and parses all HTML templates
func LoadTemplates() (*Templates, error) {
	t := &Templates{}
	var err error

	if t.success, err = template.ParseFS(content, "html/layout.html", "html/success.html"); err != nil {
		return nil, &TemplateError{Cause: err, Message: "parsing success page"}
	}
	if t.error, err = template.ParseFS(content, "html/layout.html", "html/error.html"); err != nil {
		return nil, &TemplateError{Cause: err, Message: "parsing error page"}
	}
	return t, nil
}

// SuccessData holds data for the success page
type SuccessData struct {
	Provider string
}

type successView struct {
	SuccessData
	CloseAfterSeconds int
	CloseAfterMillis  int64
}

// ErrorData holds data for the error page
type ErrorData struct {
	Title   string
	Message string
	Code    string
}

// RenderSuccess renders the auto-closing success page
func (t *Templates) RenderSuccess(w io.Writer, data SuccessData) error {
	view := successView{
		SuccessData:       data,
		CloseAfterSeconds: int(AutoCloseDelay / time.Second),
		CloseAfterMillis:  AutoCloseDelay.Milliseconds(),
	}
	return t.render(w, t.success, view)
}

// RenderError renders the error page
func (t *Templates) RenderError(w io.Writer, data ErrorData) error {
	if data.Title == "" {
		data.Title = "Authentication failed"
	}
	return t.render(w, t.error, data)
}

// WriteSuccess renders the success page with status 200
func (t *Templates) WriteSuccess(w http.ResponseWriter, data SuccessData) error {
	sw := t.NewSafeWriter(w)
	sw.SetStatusCode(http.StatusOK)
	return t.RenderSuccess(sw, data)
}

// WriteError renders the error page with the given status
func (t *Templates) WriteError(w http.ResponseWriter, status int, data ErrorData) error {
	sw := t.NewSafeWriter(w)
	sw.SetStatusCode(status)
	return t.RenderError(sw, data)
}

// render executes into a buffer first so a failed template never leaves a
// half-written page behind
func (t *Templates) render(w io.Writer, tmpl *template.Template, data any) error {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return &TemplateError{Cause: err, Message: "executing " + tmpl.Name()}
	}
	if _, err := buf.WriteTo(w); err != nil {
		return &TemplateError{Cause: err, Message: "writing response"}
	}
	return nil
}

// SafeWriter sets HTML headers and the status code exactly once before the
// first body write
type SafeWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

// NewSafeWriter wraps w with status 200 as the default
func (t *Templates) NewSafeWriter(w http.ResponseWriter) *SafeWriter {
	return &SafeWriter{ResponseWriter: w, status: http.StatusOK}
}

// SetStatusCode sets the status used by the first WriteHeader or Write
func (sw *SafeWriter) SetStatusCode(status int) {
	if !sw.written {
		sw.status = status
	}
}

// WriteHeader writes headers once; later calls are ignored
func (sw *SafeWriter) WriteHeader(status int) {
	if sw.written {
		return
	}
	sw.written = true
	h := sw.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	if status == 0 {
		status = sw.status
	}
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *SafeWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.WriteHeader(sw.status)
	}
	return sw.ResponseWriter.Write(b)
}

// Written reports whether headers were sent
func (sw *SafeWriter) Written() bool {
	return sw.written
}
