package httpapi

import "github.com/xeipuuv/gojsonschema"

// registerDatasetSchema validates POST /api/register-dataset bodies.
const registerDatasetSchema = `{
  "type": "object",
  "required": ["name", "storageKey", "bucket", "rowGroups"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "storageKey": {"type": "string", "minLength": 1},
    "bucket": {"type": "string", "minLength": 1},
    "rowGroups": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "rowCount"],
        "properties": {
          "id": {"type": "integer", "minimum": 0},
          "rowCount": {"type": "integer", "minimum": 1}
        }
      }
    }
  }
}`

// submitJobSchema validates POST /api/jobs bodies.
const submitJobSchema = `{
  "type": "object",
  "required": ["datasetId", "ops"],
  "properties": {
    "apiKey": {"type": "string", "minLength": 1},
    "datasetId": {"type": "string", "minLength": 1},
    "ops": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind"],
        "properties": {
          "kind": {"type": "string", "enum": ["map", "filter", "count", "reduce"]},
          "fn": {"type": "string"}
        }
      }
    }
  }
}`

var (
	registerDatasetLoader = gojsonschema.NewStringLoader(registerDatasetSchema)
	submitJobLoader       = gojsonschema.NewStringLoader(submitJobSchema)
)

// validateAgainst validates raw JSON bytes against a compiled schema loader,
// returning a combined human-readable message on failure.
func validateAgainst(schemaLoader gojsonschema.JSONLoader, body []byte) (string, error) {
	docLoader := gojsonschema.NewBytesLoader(body)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return "", err
	}

	if result.Valid() {
		return "", nil
	}

	msg := result.Errors()[0].String()
	for _, verr := range result.Errors()[1:] {
		msg += "; " + verr.String()
	}

	return msg, nil
}
