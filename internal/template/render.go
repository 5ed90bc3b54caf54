// Package template renders per-recipient message content.
package template

import (
	"fmt"
	"strings"

	"mailbot/internal/recipients"
)

// RenderError reports an unknown placeholder. It is per-recipient and never
// fatal to a run: the worker requeues the recipient and keeps going.
type RenderError struct {
	Placeholder string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("unknown placeholder {%s}", e.Placeholder)
}

// Render substitutes recipient fields into tmpl.
//
// Placeholders: {name}, {realName} (alias {real_name}), {email}. A RealName
// that is empty falls back to Name. Literal braces are written as {{ and }}.
// Any other {...} is a *RenderError, not a silent no-op, so the job author
// finds out their template is wrong.
func Render(tmpl string, r recipients.Recipient) (string, error) {
	realName := r.RealName
	if realName == "" {
		realName = r.Name
	}

	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", &RenderError{Placeholder: tmpl[i+1:]}
			}
			name := tmpl[i+1 : i+1+end]
			switch name {
			case "name":
				b.WriteString(r.Name)
			case "realName", "real_name":
				b.WriteString(realName)
			case "email":
				b.WriteString(r.Email)
			default:
				return "", &RenderError{Placeholder: name}
			}
			i += end + 2
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i += 2
				continue
			}
			b.WriteByte('}')
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}
