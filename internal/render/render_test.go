package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type explodingStringer struct{}

func (explodingStringer) String() string { panic("boom") }

func TestRenderSubstitutesVariables(t *testing.T) {
	r := New(zap.NewNop())

	out := r.Render("Welcome, {{ name }}! Order #{{order_id}} totals {{ total }}.", map[string]interface{}{
		"name":     "Alice",
		"order_id": "A-1",
		"total":    149.5,
	})
	assert.Equal(t, "Welcome, Alice! Order #A-1 totals 149.5.", out)
}

func TestRenderMissingKeysLeaveNoMarkers(t *testing.T) {
	r := New(zap.NewNop())

	out := r.Render("Hi {{ name }}, {{ missing }}{{ }}{{ also.missing }}!", map[string]interface{}{"name": "Bob"})
	assert.Equal(t, "Hi Bob, !", out)
	assert.NotContains(t, out, "{{")
	assert.NotContains(t, out, "}}")

	out = r.Render("{{ name }}", nil)
	assert.Equal(t, "", out)

	out = r.Render("Hi {{\n name\n }}!", map[string]interface{}{"name": "Bob"})
	assert.Equal(t, "Hi Bob!", out, "placeholders may span lines")
}

func TestRenderNestedKeysAndFilters(t *testing.T) {
	r := New(zap.NewNop())
	data := map[string]interface{}{
		"customer": map[string]interface{}{"name": "Carol", "tier": map[string]string{"label": "gold"}},
		"total":    12,
	}

	out := r.Render("{{ customer.name }} ({{ customer.tier.label }}) owes {{ total|floatformat:2 }}", data)
	assert.Equal(t, "Carol (gold) owes 12", out)
}

func TestRenderWithoutPlaceholdersIsIdentity(t *testing.T) {
	r := New(zap.NewNop())
	assert.Equal(t, "plain text { not } a template", r.Render("plain text { not } a template", nil))
}

func TestRenderPanicDegradesToRawTemplate(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	r := New(zap.New(core))

	tmpl := "value: {{ v }}"
	out := r.Render(tmpl, map[string]interface{}{"v": explodingStringer{}})

	assert.Equal(t, tmpl, out)
	assert.Equal(t, 1, logs.FilterMessage("template render failed, using raw template").Len())
}
