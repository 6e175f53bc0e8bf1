package logging

import "time"

// Field is one key=value pair attached to a log line or trace record.
type Field struct {
	Key   string
	Value any
}

// F builds an ad hoc field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// maxFieldText bounds free text such as commands and queries.
const maxFieldText = 200

// Identifiers.
func SessionID(id string) Field { return F("session_id", id) }
func RequestID(id string) Field { return F("request_id", id) }
func Model(name string) Field   { return F("model", name) }
func Mode(mode string) Field    { return F("mode", mode) }

// Shell.
func Command(cmd string) Field { return F("command", clip(cmd)) }
func ExitCode(code int) Field  { return F("exit_code", code) }
func Dir(d string) Field       { return F("dir", d) }
func Path(p string) Field      { return F("path", p) }
func From(dir string) Field    { return F("from", dir) }
func To(dir string) Field      { return F("to", dir) }

// Timing, in milliseconds.
func Duration(d time.Duration) Field      { return F("duration_ms", d.Milliseconds()) }
func DurationSince(start time.Time) Field { return Duration(time.Since(start)) }

// Model traffic.
func Query(q string) Field     { return F("query", clip(q)) }
func Tokens(n int) Field       { return F("tokens", n) }
func MessageCount(n int) Field { return F("msg_count", n) }
func Attempt(n int) Field      { return F("attempt", n) }
func Count(n int) Field        { return F("count", n) }
func Success(ok bool) Field    { return F("success", ok) }
func Reason(why string) Field  { return F("reason", why) }

// Error stores err's message, or nil.
func Error(err error) Field {
	if err == nil {
		return F("error", nil)
	}
	return F("error", err.Error())
}

// clip cuts s to maxFieldText runes, ellipsis included.
func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxFieldText {
		return s
	}
	return string(r[:maxFieldText-3]) + "..."
}

func fieldMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}
