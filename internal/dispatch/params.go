package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/walletgate/walletgate/pkg/errors"
)

// Positional-parameter decoding. Pages send params as a positional array;
// each accessor decodes one slot and fails with bad_request on mismatch.

func paramString(params []json.RawMessage, i int, name string) (string, *errors.RPCError) {
	var v string
	if err := decodeParam(params, i, name, &v); err != nil {
		return "", err
	}
	return v, nil
}

func paramInt64(params []json.RawMessage, i int, name string) (int64, *errors.RPCError) {
	var v int64
	if err := decodeParam(params, i, name, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func paramBool(params []json.RawMessage, i int, name string) (bool, *errors.RPCError) {
	var v bool
	if err := decodeParam(params, i, name, &v); err != nil {
		return false, err
	}
	return v, nil
}

// optionalString decodes a trailing optional slot; absent or null yields "".
func optionalString(params []json.RawMessage, i int) (string, *errors.RPCError) {
	if i >= len(params) || string(params[i]) == "null" {
		return "", nil
	}
	var v string
	if err := json.Unmarshal(params[i], &v); err != nil {
		return "", errors.BadRequest(fmt.Sprintf("param %d: expected string", i))
	}
	return v, nil
}

func decodeParam(params []json.RawMessage, i int, name string, dest any) *errors.RPCError {
	if i >= len(params) {
		return errors.BadRequest(fmt.Sprintf("missing param %q at position %d", name, i))
	}
	if err := json.Unmarshal(params[i], dest); err != nil {
		return errors.BadRequest(fmt.Sprintf("param %q: %v", name, err))
	}
	return nil
}
