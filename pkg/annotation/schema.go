package annotation

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// layerSchema describes the subset of the viewer's annotation layer state the
// parser relies on. Type-specific fields are checked per variant after
// dispatch so that an unknown tag is reported as such.
const layerSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "name", "source", "annotations"],
  "properties": {
    "type": {"type": "string"},
    "name": {"type": "string"},
    "annotations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string"},
          "point": {"$ref": "#/definitions/coord"},
          "pointA": {"$ref": "#/definitions/coord"},
          "pointB": {"$ref": "#/definitions/coord"},
          "source": {"$ref": "#/definitions/coord"},
          "childAnnotationIds": {"type": "array", "items": {"type": "string"}},
          "parentAnnotationId": {"type": "string"},
          "description": {"type": "string"},
          "category": {"type": "string"}
        }
      }
    }
  },
  "definitions": {
    "coord": {
      "type": "array",
      "items": {"type": "number"},
      "minItems": 3,
      "maxItems": 3
    }
  }
}`

var compiledLayerSchema = jsonschema.MustCompileString("annotation_layer.json", layerSchema)
