package memory

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/codewandler/rtsession-go/tool"
)

const ToolName = "set_memory"

var Definition = tool.Function(
	ToolName,
	"Saves important data about the user into memory.",
	tool.Properties{
		"key": {
			Type:        "string",
			Description: "The key of the memory value. Always use lowercase and underscores, no other characters.",
		},
		"value": {
			Type:        "string",
			Description: "Value can be anything represented as a string",
		},
	},
	"key", "value",
)

// Handler returns the set_memory tool handler writing into store.
func Handler(store Store) tool.Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		key, ok := args["key"].(string)
		if !ok || key == "" {
			return nil, fmt.Errorf("key must be a non-empty string")
		}
		if err := store.Set(ctx, key, stringify(args["value"])); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		d, err := sonic.ConfigStd.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(d)
	}
}

// Binding returns the set_memory tool bound to store.
func Binding(store Store) tool.Binding {
	return tool.Binding{Tool: Definition, Handler: Handler(store)}
}
