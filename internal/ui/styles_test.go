package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetStyles(t *testing.T) {
	colored := GetStyles(false)
	plain := GetStyles(true)

	// The plain set must not emit escape sequences.
	assert.Equal(t, "hello", plain.Error.Render("hello"))
	assert.Equal(t, "hello", plain.Header.Render("hello"))

	// The colored set keeps the text intact.
	assert.Contains(t, colored.Error.Render("hello"), "hello")
	assert.Contains(t, colored.Success.Render("done"), "done")
}
