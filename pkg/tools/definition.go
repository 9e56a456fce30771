package tools

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// Definition describes one tool callable by the model. Parameters is the JSON
// schema of the handler's input struct.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`

	handler func(ctx context.Context, arguments []byte) (interface{}, error)
}

// Call decodes nothing itself; the typed handler created by NewTool does.
func (d *Definition) Call(ctx context.Context, arguments []byte) (interface{}, error) {
	if d.handler == nil {
		return nil, errors.Errorf("tool %s has no handler", d.Name)
	}
	return d.handler(ctx, arguments)
}

// NewTool builds a Definition from a typed handler. The schema is reflected
// from T with definitions inlined, the shape function-calling APIs expect.
func NewTool[T any](name, description string, fn func(ctx context.Context, input T) (interface{}, error)) Definition {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	var zero T
	schema := reflector.Reflect(zero)
	schema.Version = ""

	return Definition{
		Name:        name,
		Description: description,
		Parameters:  schema,
		handler: func(ctx context.Context, arguments []byte) (interface{}, error) {
			var input T
			if len(arguments) > 0 {
				if err := json.Unmarshal(arguments, &input); err != nil {
					return nil, errors.Wrapf(err, "decode %s arguments", name)
				}
			}
			return fn(ctx, input)
		},
	}
}
