package webhook

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const eventSchemaURL = "https://strava-ingest.local/schemas/webhook-event.json"

// eventSchema is the minimum we need from a push notification. Extra
// properties are allowed; Strava adds fields without notice.
const eventSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["object_type", "aspect_type", "object_id", "owner_id"],
	"properties": {
		"object_type": {"type": "string", "minLength": 1},
		"aspect_type": {"type": "string", "minLength": 1},
		"object_id": {"type": "integer"},
		"owner_id": {"type": "integer"},
		"subscription_id": {"type": "integer"},
		"event_time": {"type": "integer"},
		"updates": {"type": "object"}
	}
}`

func compileEventSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(eventSchema))
	if err != nil {
		return nil, fmt.Errorf("parsing event schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(eventSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("adding event schema: %w", err)
	}
	schema, err := c.Compile(eventSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling event schema: %w", err)
	}
	return schema, nil
}
