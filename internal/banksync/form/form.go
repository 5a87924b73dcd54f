// Package form finds and fills server-rendered html forms whose field names are
// randomized on every page load. Forms are identified by the rendered value of the
// intended submit action, and fields by their type, label and placeholder.
package form

import (
	"net/url"
	"strings"

	"banksync/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

type Input struct {
	// Tag is one of "input", "select" or "textarea".
	Tag string
	// Type is the lowercased type attribute of an input, "text" if absent. Selects and
	// textareas carry their tag name.
	Type        string
	Id          string
	Name        string
	Value       string
	Label       string
	Placeholder string
	// Options holds the option values of a select in document order.
	Options []string
	// Checked is only meaningful for checkboxes and radios.
	Checked bool
}

func (i Input) IsSubmit() bool {
	return i.Tag == "input" && i.Type == "submit"
}

// submitted reports whether the input contributes a value when the form is submitted
// as-is.
func (i Input) submitted() bool {
	if i.Type == "checkbox" || i.Type == "radio" {
		return i.Checked
	}
	return true
}

type Form struct {
	Action *url.URL
	Method string
	Inputs []Input
}

// Values returns the name -> value pairs the form submits.
func (f Form) Values() url.Values {
	values := url.Values{}
	for _, in := range f.Inputs {
		if in.Name == "" || !in.submitted() {
			continue
		}
		values.Add(in.Name, in.Value)
	}
	return values
}

// HasValue reports whether any current field value equals value.
func (f Form) HasValue(value string) bool {
	for _, in := range f.Inputs {
		if in.submitted() && in.Value == value {
			return true
		}
	}
	return false
}

var ignoredInputTypes = map[string]bool{
	"reset":  true,
	"button": true,
	"file":   true,
	"image":  true,
}

// Parse enumerates all forms of a document, form actions are resolved against base
// (the url of the response the document came from).
func Parse(doc *goquery.Document, base *url.URL) []Form {
	labels := labelsById(doc)

	var forms []Form
	doc.Find("form").Each(func(_ int, sel *goquery.Selection) {
		f := Form{
			Action: resolveAction(base, sel.AttrOr("action", "")),
			Method: strings.ToUpper(strings.TrimSpace(sel.AttrOr("method", "POST"))),
		}
		if f.Method != "GET" {
			f.Method = "POST"
		}

		sel.Find("*").Each(func(_ int, el *goquery.Selection) {
			tag := goquery.NodeName(el)
			switch tag {
			case "input", "select", "textarea":
			default:
				return
			}

			in := Input{
				Tag:         tag,
				Type:        tag,
				Id:          el.AttrOr("id", ""),
				Name:        el.AttrOr("name", ""),
				Placeholder: el.AttrOr("placeholder", ""),
			}
			switch tag {
			case "input":
				in.Type = strings.ToLower(el.AttrOr("type", "text"))
				if ignoredInputTypes[in.Type] {
					return
				}
				in.Value = el.AttrOr("value", "")
				if in.Type == "checkbox" || in.Type == "radio" {
					_, in.Checked = el.Attr("checked")
					if in.Value == "" {
						in.Value = "on"
					}
				}
			case "select":
				selected := ""
				hasSelected := false
				el.Find("option").Each(func(_ int, opt *goquery.Selection) {
					value, ok := opt.Attr("value")
					if !ok {
						value = htmlutil.CleanText(opt.Text())
					}
					in.Options = append(in.Options, value)
					if _, isSelected := opt.Attr("selected"); isSelected && !hasSelected {
						selected = value
						hasSelected = true
					}
				})
				if !hasSelected && len(in.Options) > 0 {
					selected = in.Options[0]
				}
				in.Value = selected
			case "textarea":
				in.Value = el.Text()
			}

			in.Label = labelFor(el, labels)
			f.Inputs = append(f.Inputs, in)
		})

		forms = append(forms, f)
	})
	return forms
}

func resolveAction(base *url.URL, action string) *url.URL {
	action = strings.TrimSpace(action)
	if base == nil {
		parsed, err := url.Parse(action)
		if err != nil {
			return &url.URL{}
		}
		return parsed
	}
	if action == "" {
		copied := *base
		return &copied
	}
	parsed, err := url.Parse(action)
	if err != nil {
		copied := *base
		return &copied
	}
	return base.ResolveReference(parsed)
}

func labelsById(doc *goquery.Document) map[string]string {
	labels := map[string]string{}
	doc.Find("label[for]").Each(func(_ int, sel *goquery.Selection) {
		id := sel.AttrOr("for", "")
		if _, exists := labels[id]; exists {
			return
		}
		labels[id] = htmlutil.CleanText(sel.Text())
	})
	return labels
}

func labelFor(el *goquery.Selection, labels map[string]string) string {
	if id := el.AttrOr("id", ""); id != "" {
		if label, ok := labels[id]; ok {
			return label
		}
	}
	parent := el.Closest("label")
	if parent.Length() > 0 {
		return htmlutil.CleanText(parent.Text())
	}
	return ""
}
