// Package template renders JSON-shaped payload templates against request
// parameters. A string that is entirely one {{var}} reference substitutes
// the raw typed value, so arrays and objects can be spliced in whole;
// partial substitution always stringifies. Underscore-prefixed variables
// resolve through a named-resolver registry instead of the parameter map.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

// Params carries the request parameters a template is rendered against.
// The engine reserves two keys: "prompt" (the text prompt) and
// "_images_base64" ([]string of data URLs prepared by the request builder).
type Params = map[string]any

// ParamImagesBase64 is the reserved key holding prepared image data URLs.
const ParamImagesBase64 = "_images_base64"

// Resolver produces the value of a virtual variable. Returning ok=false
// falls through to the next resolution step.
type Resolver func(name string, p Params) (value any, ok bool)

var (
	varPattern  = regexp.MustCompile(`\{\{(\w+)\}\}`)
	fullPattern = regexp.MustCompile(`^\{\{(\w+)\}\}$`)
)

// Engine renders payload templates with config-supplied value mappings.
type Engine struct {
	mappings map[string]map[string]any
	exact    map[string]Resolver
	prefixes []prefixResolver
}

type prefixResolver struct {
	prefix  string
	resolve Resolver
}

// NewEngine builds an engine around the mode's value-mapping tables and
// registers the built-in resolvers.
func NewEngine(mappings map[string]map[string]any) *Engine {
	e := &Engine{
		mappings: mappings,
		exact:    map[string]Resolver{},
	}
	e.RegisterExact("_chat_content", chatContent)
	e.RegisterPrefix("_map_", e.mappedValue)
	e.RegisterPrefix("_extract_", e.mappedValue)
	return e
}

// RegisterExact binds a resolver to one variable name.
func (e *Engine) RegisterExact(name string, r Resolver) {
	e.exact[name] = r
}

// RegisterPrefix binds a resolver to every variable sharing a prefix.
func (e *Engine) RegisterPrefix(prefix string, r Resolver) {
	e.prefixes = append(e.prefixes, prefixResolver{prefix: prefix, resolve: r})
}

// Render substitutes variables throughout a template, preserving its
// shape. Object keys whose rendered value is nil are dropped; array
// elements are kept as rendered. Non-templated input passes through
// unchanged, so rendering is idempotent.
func (e *Engine) Render(tpl any, p Params) any {
	switch t := tpl.(type) {
	case string:
		return e.renderString(t, p)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			if rv := e.Render(v, p); rv != nil {
				out[k] = rv
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = e.Render(v, p)
		}
		return out
	default:
		return tpl
	}
}

func (e *Engine) renderString(s string, p Params) any {
	if m := fullPattern.FindStringSubmatch(s); m != nil {
		return e.resolve(m[1], p)
	}
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-2]
		v := e.resolve(name, p)
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

func (e *Engine) resolve(name string, p Params) any {
	if r, ok := e.exact[name]; ok {
		if v, done := r(name, p); done {
			return v
		}
	}
	if strings.HasPrefix(name, "_") {
		for _, pr := range e.prefixes {
			if strings.HasPrefix(name, pr.prefix) {
				if v, done := pr.resolve(name, p); done {
					return v
				}
			}
		}
		return nil
	}
	return p[name]
}

// References reports whether any string in the template references the
// given variable. The request builder uses this to decide whether image
// data URLs need to be prepared before rendering.
func References(tpl any, name string) bool {
	switch t := tpl.(type) {
	case string:
		for _, m := range varPattern.FindAllStringSubmatch(t, -1) {
			if m[1] == name {
				return true
			}
		}
	case map[string]any:
		for _, v := range t {
			if References(v, name) {
				return true
			}
		}
	case []any:
		for _, v := range t {
			if References(v, name) {
				return true
			}
		}
	}
	return false
}

// chatContent builds a chat-API content block list: the prompt as a text
// block followed by one image_url block per prepared image, in input order.
func chatContent(_ string, p Params) (any, bool) {
	var blocks []any
	if prompt, _ := p["prompt"].(string); prompt != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": prompt})
	}
	if urls, ok := p[ParamImagesBase64].([]string); ok {
		for _, u := range urls {
			blocks = append(blocks, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": u},
			})
		}
	}
	return blocks, true
}

// mappedValue implements _map_X and _extract_X: look up params[X] in the
// mapping table named by the full variable, falling back to scanning all
// string parameter values for one present in the table. Unmapped source
// values pass through unchanged.
func (e *Engine) mappedValue(name string, p Params) (any, bool) {
	table, ok := e.mappings[name]
	if !ok {
		return nil, true
	}

	var source any
	for _, prefix := range []string{"_map_", "_extract_"} {
		if strings.HasPrefix(name, prefix) {
			if v, found := p[name[len(prefix):]]; found {
				source = v
				break
			}
		}
	}
	if source == nil {
		for _, v := range p {
			if s, isStr := v.(string); isStr {
				if _, hit := table[s]; hit {
					source = s
					break
				}
			}
		}
	}
	if source == nil {
		return nil, true
	}

	if key, isStr := source.(string); isStr {
		if mapped, hit := table[key]; hit {
			return mapped, true
		}
	}
	return source, true
}
