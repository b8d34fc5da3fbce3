package dialect

import (
	"strconv"
	"strings"

	"github.com/koba/schemasync/internal/schema"
)

// NativeType is a parsed native column type such as "decimal(10,2) unsigned"
type NativeType struct {
	Base     string
	Args     []string
	Unsigned bool
}

// ParseNativeType splits a native type into its base name, arguments and
// modifiers. Quoted arguments (enum/set values) are unquoted.
func ParseNativeType(native string) NativeType {
	var nt NativeType
	native = strings.TrimSpace(native)

	head, rest := native, ""
	if open := strings.IndexByte(native, '('); open >= 0 {
		head = native[:open]
		args, end := splitArgs(native[open+1:])
		nt.Args = args
		rest = native[open+1+end:]
	}

	var words []string
	for _, w := range strings.Fields(strings.ToLower(head + " " + rest)) {
		switch w {
		case "unsigned":
			nt.Unsigned = true
		case "zerofill", "signed":
		default:
			words = append(words, w)
		}
	}
	nt.Base = strings.Join(words, " ")
	return nt
}

// splitArgs reads comma separated arguments up to the closing parenthesis.
// It returns the arguments and the offset just past the parenthesis.
func splitArgs(s string) ([]string, int) {
	var args []string
	var cur strings.Builder
	quoted := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quoted:
			if c == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					cur.WriteByte('\'')
					i++
					continue
				}
				quoted = false
				continue
			}
			cur.WriteByte(c)
		case c == '\'':
			quoted = true
		case c == ',':
			args = append(args, strings.TrimSpace(cur.String()))
			cur.Reset()
		case c == ')':
			return append(args, strings.TrimSpace(cur.String())), i + 1
		default:
			cur.WriteByte(c)
		}
	}
	return append(args, strings.TrimSpace(cur.String())), len(s)
}

// Describe fills the derived fields of col from its native type
func Describe(d Dialect, col *schema.Column) {
	nt := ParseNativeType(col.Type)
	col.Portable = d.MapNativeType(col.Type)
	col.Unsigned = nt.Unsigned
	col.MaxLength, col.Precision, col.Scale, col.Values = 0, 0, 0, nil

	switch {
	case nt.Base == "enum" || nt.Base == "set":
		col.Values = nt.Args
	case strings.Contains(nt.Base, "char") || strings.Contains(nt.Base, "binary") || nt.Base == "bit":
		if len(nt.Args) > 0 {
			col.MaxLength, _ = strconv.Atoi(nt.Args[0])
		}
	case col.Portable == schema.TypeFloat:
		if len(nt.Args) > 0 {
			col.Precision, _ = strconv.Atoi(nt.Args[0])
		}
		if len(nt.Args) > 1 {
			col.Scale, _ = strconv.Atoi(nt.Args[1])
		}
	}
}

func lookupType(table map[string]schema.PortableType, native string) schema.PortableType {
	base := ParseNativeType(native).Base
	if t, ok := table[base]; ok {
		return t
	}
	if first, _, found := strings.Cut(base, " "); found {
		if t, ok := table[first]; ok {
			return t
		}
	}
	return schema.TypeString
}

// NormalizeType returns the canonical spelling of a native type. Types that
// only differ in keyword case normalize to the same value.
func NormalizeType(native string) string {
	return strings.Join(strings.Fields(upperType(native)), " ")
}

// upperType upper-cases a native type outside of quoted values
func upperType(native string) string {
	var b strings.Builder
	quoted := false
	for _, r := range native {
		if r == '\'' {
			quoted = !quoted
		}
		if quoted {
			b.WriteRune(r)
			continue
		}
		b.WriteString(strings.ToUpper(string(r)))
	}
	return b.String()
}

// isLiteralExpression reports whether a default value is already a SQL
// expression that must be emitted as is
func isLiteralExpression(value string) bool {
	if value == "" {
		return false
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return true
	}
	switch strings.ToUpper(value) {
	case "NULL", "CURRENT_TIMESTAMP", "CURRENT_DATE", "CURRENT_TIME", "NOW()", "TRUE", "FALSE":
		return true
	}
	upper := strings.ToUpper(value)
	return strings.HasPrefix(value, "'") || strings.HasPrefix(value, "(") ||
		strings.HasPrefix(upper, "CURRENT_TIMESTAMP(")
}
