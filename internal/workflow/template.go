package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/casaflow/engine/internal/domain"
)

// ResolveTemplate replaces literal {{key}} placeholders with scalar context
// values. Non-scalar values (objects, arrays) are left untouched.
func ResolveTemplate(template string, evCtx domain.Context) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	out := template
	for key, value := range evCtx {
		var replacement string
		switch v := value.(type) {
		case string:
			replacement = v
		case bool:
			replacement = strconv.FormatBool(v)
		case float64:
			replacement = trimFloat(v)
		case int:
			replacement = strconv.Itoa(v)
		case int64:
			replacement = strconv.FormatInt(v, 10)
		default:
			continue
		}
		out = strings.ReplaceAll(out, "{{"+key+"}}", replacement)
	}
	return out
}

// trimFloat renders whole numbers without a trailing ".0" so decoded JSON
// integers substitute cleanly.
func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprintf("%v", f)
}
