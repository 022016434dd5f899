package mailer

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

//go:embed templates/*
var templateFS embed.FS

// Renderer executes the embedded notification templates. Each template name
// has a _subject.txt, a .html and a .txt file.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render returns a message for the named template without recipients.
func (r *Renderer) Render(name string, data interface{}) (Message, error) {
	subject, err := r.renderFile(name+"_subject.txt", data, false)
	if err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	html, err := r.renderFile(name+".html", data, true)
	if err != nil {
		return Message{}, fmt.Errorf("render html: %w", err)
	}
	text, err := r.renderFile(name+".txt", data, false)
	if err != nil {
		return Message{}, fmt.Errorf("render text: %w", err)
	}
	return Message{Subject: strings.TrimSpace(subject), HTML: html, Text: text}, nil
}

func (r *Renderer) renderFile(name string, data interface{}, html bool) (string, error) {
	raw, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if html {
		t, err := htmltemplate.New(name).Parse(string(raw))
		if err != nil {
			return "", err
		}
		err = t.Execute(&buf, data)
		return buf.String(), err
	}
	t, err := texttemplate.New(name).Parse(string(raw))
	if err != nil {
		return "", err
	}
	err = t.Execute(&buf, data)
	return buf.String(), err
}
