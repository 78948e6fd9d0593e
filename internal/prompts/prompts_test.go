package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssemble_BaseOnly(t *testing.T) {
	got := Assemble("", "", "")
	assert.Equal(t, AgentSystemPrompt, got)
}

func TestAssemble_WithSchemaAndFile(t *testing.T) {
	got := Assemble("items(id, brand, price)", "notes.txt", "prefer metric units")

	assert.Contains(t, got, "Database schema:\nitems(id, brand, price)")
	assert.Contains(t, got, "notes.txt")
	assert.Contains(t, got, "prefer metric units")
}

func TestAssemble_FileWithoutName(t *testing.T) {
	got := Assemble("", "", "some content")
	assert.Contains(t, got, "uploaded file")
	assert.Contains(t, got, "some content")
}
