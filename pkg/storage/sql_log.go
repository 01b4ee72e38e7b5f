package storage

import (
	"fmt"
	"strings"
	"time"
)

// formatSQLForLog interpolates positional parameters into a query for log
// output only. Never execute the result.
func formatSQLForLog(query string, args ...any) string {
	if strings.TrimSpace(query) == "" || len(args) == 0 {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + len(args)*8)
	argIdx := 0
	for _, ch := range query {
		if ch == '?' && argIdx < len(args) {
			b.WriteString(formatSQLArg(args[argIdx]))
			argIdx++
			continue
		}
		b.WriteRune(ch)
	}
	if argIdx < len(args) {
		rest := make([]string, 0, len(args)-argIdx)
		for _, arg := range args[argIdx:] {
			rest = append(rest, formatSQLArg(arg))
		}
		b.WriteString(" /* args: " + strings.Join(rest, ", ") + " */")
	}
	return b.String()
}

func formatSQLArg(arg any) string {
	switch v := arg.(type) {
	case nil:
		return "NULL"
	case string:
		return quoteSQLString(v)
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(v))
	case bool:
		if v {
			return "1"
		}
		return "0"
	case time.Time:
		return quoteSQLString(v.Format(time.RFC3339Nano))
	case fmt.Stringer:
		return quoteSQLString(v.String())
	default:
		return fmt.Sprintf("%v", arg)
	}
}

func quoteSQLString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
