package registry

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// formField is one successful-control candidate of an HTML form.
type formField struct {
	name    string
	typ     string
	value   string
	checked bool
	options []string
}

// form is an HTML form as a browser would submit it.
type form struct {
	id      string
	action  string
	method  string
	enctype string
	fields  []*formField
	files   map[string]string
}

func (f *form) has(name string) bool {
	for _, field := range f.fields {
		if field.name == name {
			return true
		}
	}
	return false
}

// set assigns a value to the named control. It returns false when the form has
// no such control.
func (f *form) set(name, value string) bool {
	var matched bool
	for _, field := range f.fields {
		if field.name != name {
			continue
		}
		switch field.typ {
		case "checkbox", "radio":
			field.checked = field.value == value
			if field.checked {
				matched = true
			}
		case "file":
			if f.files == nil {
				f.files = make(map[string]string)
			}
			f.files[name] = value
			return true
		default:
			if !matched {
				field.value = value
				matched = true
			}
		}
	}
	if matched {
		return true
	}

	// a checkbox or radio group whose options do not carry the value
	for _, field := range f.fields {
		if field.name == name && (field.typ == "checkbox" || field.typ == "radio") {
			field.value = value
			field.checked = true
			return true
		}
	}
	return false
}

// seed loads current record values into the controls. The registry ships
// its edit form empty and fills it from fdata in the browser, so a form
// submitted without seeding would clear every field it does not mention.
// Values a control cannot take, like an unknown select option, are ignored.
func (f *form) seed(current map[string]string) {
	radios := map[string]bool{}
	for _, field := range f.fields {
		if field.typ == "radio" && current[field.name] == field.value {
			radios[field.name] = true
		}
	}

	for _, field := range f.fields {
		value, ok := current[field.name]
		if !ok || field.name == "" {
			continue
		}
		switch field.typ {
		case "checkbox":
			field.checked = value == field.value || value == "true"
		case "radio":
			if radios[field.name] {
				field.checked = value == field.value
			}
		case "select":
			if slices.Contains(field.options, value) {
				field.value = value
			}
		case "file", "submit", "reset", "button", "image":
		default:
			field.value = value
		}
	}
}

// values returns the form data set in document order.
func (f *form) values() [][2]string {
	var out [][2]string
	submitted := false
	for _, field := range f.fields {
		switch field.typ {
		case "checkbox", "radio":
			if !field.checked {
				continue
			}
		case "file", "reset", "button", "image":
			continue
		case "submit":
			// only the first submit button is sent
			if submitted || field.name == "" {
				continue
			}
			submitted = true
		}
		if field.name == "" {
			continue
		}
		out = append(out, [2]string{field.name, field.value})
	}
	return out
}

// encode builds the request body and content type for submitting the form.
func (f *form) encode() (io.Reader, string, error) {
	if f.enctype == "multipart/form-data" || len(f.files) > 0 {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for _, kv := range f.values() {
			if err := mw.WriteField(kv[0], kv[1]); err != nil {
				return nil, "", err
			}
		}
		for _, field := range f.fields {
			if field.typ != "file" {
				continue
			}
			path, ok := f.files[field.name]
			if !ok {
				continue
			}
			if err := attachFile(mw, field.name, path); err != nil {
				return nil, "", err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, "", err
		}
		return &buf, mw.FormDataContentType(), nil
	}

	vals := url.Values{}
	for _, kv := range f.values() {
		vals.Add(kv[0], kv[1])
	}
	return strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded", nil
}

func attachFile(mw *multipart.Writer, field, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open attachment: %w", err)
	}
	defer file.Close()

	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func attrOr(n *html.Node, key, def string) string {
	if v, ok := attr(n, key); ok {
		return v
	}
	return def
}

// walk visits every element node below n in document order.
func walk(n *html.Node, visit func(*html.Node)) {
	if n.Type == html.ElementNode {
		visit(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return b.String()
}

// parseForms returns all forms of a document. Controls outside a form element
// but referring to it through the form attribute are not supported.
func parseForms(doc *html.Node) []*form {
	var forms []*form
	walk(doc, func(n *html.Node) {
		if n.Data != "form" {
			return
		}
		f := &form{
			id:      attrOr(n, "id", ""),
			action:  attrOr(n, "action", ""),
			method:  strings.ToUpper(attrOr(n, "method", "GET")),
			enctype: strings.ToLower(attrOr(n, "enctype", "application/x-www-form-urlencoded")),
		}
		walk(n, func(c *html.Node) {
			if field := parseControl(c); field != nil {
				f.fields = append(f.fields, field)
			}
		})
		forms = append(forms, f)
	})
	return forms
}

func parseControl(n *html.Node) *formField {
	name, _ := attr(n, "name")
	if _, disabled := attr(n, "disabled"); disabled {
		return nil
	}

	switch n.Data {
	case "input":
		typ := strings.ToLower(attrOr(n, "type", "text"))
		field := &formField{name: name, typ: typ, value: attrOr(n, "value", "")}
		if typ == "checkbox" || typ == "radio" {
			if field.value == "" {
				field.value = "on"
			}
			_, field.checked = attr(n, "checked")
		}
		return field
	case "button":
		typ := strings.ToLower(attrOr(n, "type", "submit"))
		return &formField{name: name, typ: typ, value: attrOr(n, "value", "")}
	case "textarea":
		return &formField{name: name, typ: "textarea", value: strings.TrimPrefix(textContent(n), "\n")}
	case "select":
		field := &formField{name: name, typ: "select"}
		var first string
		var selected bool
		walk(n, func(o *html.Node) {
			if o.Data != "option" {
				return
			}
			v, ok := attr(o, "value")
			if !ok {
				v = strings.TrimSpace(textContent(o))
			}
			field.options = append(field.options, v)
			if len(field.options) == 1 {
				first = v
			}
			if _, ok := attr(o, "selected"); ok && !selected {
				field.value = v
				selected = true
			}
		})
		if !selected {
			field.value = first
		}
		return field
	}
	return nil
}

// findForm returns the form with the given id, or the first form when id is empty.
func findForm(doc *html.Node, id string) (*form, bool) {
	for _, f := range parseForms(doc) {
		if id == "" || f.id == id {
			return f, true
		}
	}
	return nil, false
}

// hasAlt reports whether any element carries the given alt text.
func hasAlt(doc *html.Node, alt string) bool {
	found := false
	walk(doc, func(n *html.Node) {
		if v, ok := attr(n, "alt"); ok && v == alt {
			found = true
		}
	})
	return found
}

type link struct {
	href string
	text string
}

func links(doc *html.Node) []link {
	var out []link
	walk(doc, func(n *html.Node) {
		if n.Data != "a" {
			return
		}
		href, ok := attr(n, "href")
		if !ok {
			return
		}
		out = append(out, link{href: href, text: strings.TrimSpace(textContent(n))})
	})
	return out
}

// scripts returns the text of all inline script elements.
func scripts(doc *html.Node) []string {
	var out []string
	walk(doc, func(n *html.Node) {
		if n.Data == "script" {
			out = append(out, textContent(n))
		}
	})
	return out
}
