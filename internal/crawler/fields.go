package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Aman-CERP/fabindex/internal/engine"
	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
	"github.com/Aman-CERP/fabindex/internal/indexconfig"
	"github.com/Aman-CERP/fabindex/internal/meta"
)

// AddField writes raw into field of doc and returns the number of values
// written. Strings pass through; numbers and booleans are written in their
// JSON text form; an array of such scalars writes one value per element.
// Null is treated as absent and writes nothing, also inside arrays. Objects
// and nested arrays fail with ERR_402_FIELD_VALUE. Field types without a
// text mapping fail with ERR_401_UNSUPPORTED_FIELD_TYPE.
func AddField(ctx context.Context, w engine.Writer, doc engine.DocumentID, field *indexconfig.FieldConfig, raw meta.Value) (int, error) {
	if !field.Type.Supported() {
		return 0, fierrors.UnsupportedFieldType(field.Name, string(field.Type))
	}

	values, err := textValues(field.Name, raw)
	if err != nil {
		return 0, err
	}
	for _, v := range values {
		if err := w.AddText(ctx, doc, field.Name, v); err != nil {
			return 0, err
		}
	}
	return len(values), nil
}

// isTextValue reports whether AddField accepts v.
func isTextValue(v meta.Value) bool {
	_, err := textValues("", v)
	return err == nil
}

func textValues(field string, raw meta.Value) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	if arr, ok := raw.([]any); ok {
		out := make([]string, 0, len(arr))
		for i, el := range arr {
			if el == nil {
				continue
			}
			s, err := scalarText(el)
			if err != nil {
				return nil, fieldValueError(field, fmt.Sprintf("element %d: %v", i, err))
			}
			out = append(out, s)
		}
		return out, nil
	}

	s, err := scalarText(raw)
	if err != nil {
		return nil, fieldValueError(field, err.Error())
	}
	return []string{s}, nil
}

func scalarText(v meta.Value) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	default:
		return "", fmt.Errorf("%s is not text", meta.Kind(v))
	}
}

func fieldValueError(field, msg string) *fierrors.FabError {
	return fierrors.New(fierrors.ErrCodeFieldValue,
		fmt.Sprintf("field %q: %s", field, msg), nil).WithDetail("field", field)
}
