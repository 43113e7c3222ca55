package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// Arg decodes the i-th positional argument.
func Arg[T any](args []json.RawMessage, i int) (T, error) {
	var v T
	if i >= len(args) {
		return v, shared.NewValidationError(fmt.Sprintf("args[%d]", i), "missing")
	}
	if err := json.Unmarshal(args[i], &v); err != nil {
		return v, shared.NewValidationError(fmt.Sprintf("args[%d]", i), err.Error())
	}
	return v, nil
}

// OptionalArg decodes the i-th argument when present, else returns def.
func OptionalArg[T any](args []json.RawMessage, i int, def T) (T, error) {
	if i >= len(args) || string(args[i]) == "null" {
		return def, nil
	}
	return Arg[T](args, i)
}
