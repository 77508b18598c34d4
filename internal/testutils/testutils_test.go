package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	failures []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestJSONAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		match    bool
	}{
		{"equal", nil, `{"a":1,"b":[1,2]}`, `{"b":[1,2],"a":1}`, true},
		{"extra keys ignored", nil, `{"a":1,"id":"x"}`, `{"a":1}`, true},
		{"extra keys compared", []Option{WithIgnoreExtraKeys(false)}, `{"a":1,"id":"x"}`, `{"a":1}`, false},
		{"presence placeholder", nil, `{"id":"3f2a","a":1}`, `{"id":"<<PRESENCE>>","a":1}`, true},
		{"presence requires key", nil, `{"a":1}`, `{"id":"<<PRESENCE>>","a":1}`, false},
		{"ignored nested field", []Option{WithIgnoredFields("createdAt")}, `{"s":[{"createdAt":"now","n":1}]}`, `{"s":[{"createdAt":"then","n":1}]}`, true},
		{"value differs", nil, `{"a":2}`, `{"a":1}`, false},
		{"root arrays", nil, `[{"a":1},{"a":2}]`, `[{"a":1},{"a":2}]`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ja := NewJSONAsserter(t).WithOptions(tt.opts...)
			diff := ja.Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestJSONAsserterInvalidInput(t *testing.T) {
	ja := NewJSONAsserter(t)
	assert.Contains(t, ja.Diff(`{`, `{}`), "invalid actual JSON")
	assert.Contains(t, ja.Diff(`{}`, `{`), "invalid expected JSON")
}

func TestJSONAsserterReportsFailure(t *testing.T) {
	rt := &recordingT{}
	NewJSONAsserter(rt).Assert(`{"a":2}`, `{"a":1}`)
	assert.Len(t, rt.failures, 1)
}

func TestTextAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{"trimmed by default", nil, "  a\nb  \n", "a\nb", true},
		{"exact without trim", []TextOption{WithTrimSpace(false)}, " a", "a", false},
		{"empty lines kept", nil, "a\n\nb", "a\nb", false},
		{"empty lines ignored", []TextOption{WithIgnoreEmptyLines(true)}, "a\n\nb", "a\nb", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewTextAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			assert.Equal(t, tt.match, diff == "")
		})
	}
}

func TestTextAsserterUnifiedDiff(t *testing.T) {
	rt := &recordingT{}
	NewTextAsserter(rt).Assert("a\nc", "a\nb")
	if assert.Len(t, rt.failures, 1) {
		assert.Contains(t, rt.failures[0], "-b")
		assert.Contains(t, rt.failures[0], "+c")
	}
}
