package dispatch

import (
	"strings"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// sanitizeTypedData normalizes EIP-712 structured data before it reaches any
// surface or signer: message fields not declared in the type definitions are
// dropped, so a page cannot smuggle extra fields into the prompt that the
// digest never covers.
func sanitizeTypedData(td *apitypes.TypedData) {
	td.Message = sanitizeStruct(td.Types, td.PrimaryType, td.Message)
}

func sanitizeStruct(typs apitypes.Types, typeName string, msg map[string]interface{}) map[string]interface{} {
	fields, ok := typs[typeName]
	if !ok || msg == nil {
		return msg
	}

	out := make(map[string]interface{}, len(fields))
	for _, field := range fields {
		value, present := msg[field.Name]
		if !present {
			continue
		}

		base := strings.TrimSuffix(field.Type, "[]")
		if _, isStruct := typs[base]; isStruct {
			if strings.HasSuffix(field.Type, "[]") {
				if arr, ok := value.([]interface{}); ok {
					cleaned := make([]interface{}, 0, len(arr))
					for _, el := range arr {
						if m, ok := el.(map[string]interface{}); ok {
							cleaned = append(cleaned, sanitizeStruct(typs, base, m))
						} else {
							cleaned = append(cleaned, el)
						}
					}
					value = cleaned
				}
			} else if m, ok := value.(map[string]interface{}); ok {
				value = sanitizeStruct(typs, base, m)
			}
		}
		out[field.Name] = value
	}
	return out
}
