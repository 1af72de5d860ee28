// Package render substitutes {{ key }} placeholders in notification templates.
//
// Only variable substitution is supported. Dotted keys walk nested maps,
// filter suffixes such as {{ total|floatformat:2 }} are ignored and missing
// keys render as empty text. Rendering never fails: on any internal error the
// template is returned unrendered.
package render

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/franzego/dispatchd/pkg/logger"
)

var placeholder = regexp.MustCompile(`(?s)\{\{(.*?)\}\}`)

type Renderer struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Renderer {
	if log == nil {
		log = logger.WithModule("render")
	}
	return &Renderer{log: log}
}

// Render returns tmpl with every placeholder replaced from data.
func (r *Renderer) Render(tmpl string, data map[string]interface{}) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("template render failed, using raw template",
				zap.Any("panic", rec),
				zap.Int("template_length", len(tmpl)),
			)
			out = tmpl
		}
	}()

	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}

	return placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		expr := placeholder.FindStringSubmatch(match)[1]
		if i := strings.IndexByte(expr, '|'); i >= 0 {
			expr = expr[:i]
		}
		key := strings.TrimSpace(expr)
		if key == "" {
			return ""
		}
		v, ok := lookup(data, key)
		if !ok {
			r.log.Debug("template variable missing", zap.String("key", key))
			return ""
		}
		return format(v)
	})
}

func lookup(data map[string]interface{}, key string) (interface{}, bool) {
	var cur interface{} = data
	for _, part := range strings.Split(key, ".") {
		switch m := cur.(type) {
		case map[string]interface{}:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

func format(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
