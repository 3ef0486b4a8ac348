package compactor

import (
	"testing"

	"devdocs-chat/models"

	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt_UnknownHintUsesBase(t *testing.T) {
	set := models.SubmissionSet{Messages: history(2)}

	for _, hint := range []string{"", "cobol", "  ", "pascal"} {
		p := BuildPrompt(hint, set)
		assert.Equal(t, BasePrompt, p.System, "hint %q", hint)
		assert.Equal(t, set.Messages, p.Messages)
	}
}

func TestBuildPrompt_KnownHints(t *testing.T) {
	tests := []struct {
		hint string
		want string
	}{
		{"go", "go"},
		{"Golang", "go"},
		{"  Python ", "python"},
		{"ts", "typescript"},
		{"c++", "cpp"},
		{"c", "c"},
	}
	for _, tt := range tests {
		t.Run(tt.hint, func(t *testing.T) {
			p := BuildPrompt(tt.hint, models.SubmissionSet{})
			assert.Equal(t, BasePrompt+"\n\n"+languagePrompts[tt.want], p.System)
		})
	}
}

func TestBuildPrompt_SummaryFirst(t *testing.T) {
	set := models.SubmissionSet{
		Summary:  &models.Message{Role: models.RoleSystemSummary, Content: "digest"},
		Messages: history(3),
	}
	p := BuildPrompt("go", set)
	assert.Len(t, p.Messages, 4)
	assert.Equal(t, models.RoleSystemSummary, p.Messages[0].Role)
	assert.Equal(t, "m01", p.Messages[1].Content)
}

func TestLanguage_NoSubstringMatching(t *testing.T) {
	// "cobol" contains "c" but must not pick the C specialization.
	_, ok := Language("cobol")
	assert.False(t, ok)
	_, ok = Language("javascriptish")
	assert.False(t, ok)
}
