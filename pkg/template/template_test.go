package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlane/flowlane/pkg/contact"
)

func TestRenderForContact(t *testing.T) {
	snapshot := &contact.Snapshot{
		ID:    "c1",
		Email: "dana@example.com",
		Attributes: map[string]string{
			"first_name": "Dana",
		},
		CustomFields: map[string]string{
			"plan": "pro",
		},
	}

	out, err := RenderForContact("Hi {{.contact.first_name}}, your plan is {{.contact.plan}}", snapshot, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi Dana, your plan is pro", out)
}

func TestRenderForContact_EnrollmentMetadata(t *testing.T) {
	snapshot := &contact.Snapshot{ID: "c1", Email: "dana@example.com"}
	metadata := map[string]any{"trigger": "list_subscription"}

	out, err := RenderForContact("via {{.enrollment.trigger}}", snapshot, metadata)
	require.NoError(t, err)
	assert.Equal(t, "via list_subscription", out)
}

func TestRenderForContact_MissingVariableScrubbed(t *testing.T) {
	snapshot := &contact.Snapshot{ID: "c1", Email: "dana@example.com"}

	out, err := RenderForContact("Hello {{.contact.nickname}}!", snapshot, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello !", out)
}

func TestRender_Funcs(t *testing.T) {
	out, err := Render(`{{upper "go"}}-{{lower "GO"}}`, nil)
	require.NoError(t, err)
	assert.Equal(t, "GO-go", out)
}

func TestRender_ParseError(t *testing.T) {
	_, err := Render("{{.broken", nil)
	assert.Error(t, err)
}
