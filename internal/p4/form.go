package p4

import (
	"bytes"
	"strings"
)

// Form builds spec text accepted by "<spec> -i" commands. Empty fields are
// omitted so the server keeps its defaults.
type Form struct {
	fields []formField
}

type formField struct {
	name      string
	lines     []string
	multiline bool
}

// Set adds a single-line field.
func (f *Form) Set(name, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	f.fields = append(f.fields, formField{name: name, lines: []string{value}})
}

// SetText adds a free-text field; each line is indented.
func (f *Form) SetText(name, value string) {
	value = strings.TrimRight(value, "\n")
	if strings.TrimSpace(value) == "" {
		return
	}
	f.fields = append(f.fields, formField{name: name, lines: strings.Split(value, "\n"), multiline: true})
}

// SetList adds a list field such as View or Jobs.
func (f *Form) SetList(name string, values []string) {
	lines := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) == 0 {
		return
	}
	f.fields = append(f.fields, formField{name: name, lines: lines, multiline: true})
}

// Bytes renders the form.
func (f Form) Bytes() []byte {
	var buf bytes.Buffer
	for _, field := range f.fields {
		buf.WriteString(field.name)
		buf.WriteString(":")
		if !field.multiline {
			buf.WriteString("\t")
			buf.WriteString(field.lines[0])
			buf.WriteString("\n\n")
			continue
		}
		buf.WriteString("\n")
		for _, line := range field.lines {
			buf.WriteString("\t")
			buf.WriteString(line)
			buf.WriteString("\n")
		}
		buf.WriteString("\n")
	}
	return buf.Bytes()
}
