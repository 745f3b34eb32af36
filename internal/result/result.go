// Package result defines the uniform operation result shape returned by every
// public engine and dispatcher operation, so the CLI, HTTP surface, and MCP
// server can render any operation generically.
package result

// Result is the uniform envelope for a public operation.
//
// Partial success is expressed as OK=true plus a non-empty Warnings list
// (e.g. a rebuild that skipped two unparseable files).
type Result struct {
	OK       bool     `json:"ok"`
	Op       string   `json:"op"`
	Data     any      `json:"data,omitempty"`
	Warnings []string `json:"warnings"`
	Error    string   `json:"error,omitempty"`
}

// OK builds a successful result.
func OK(op string, data any, warnings []string) Result {
	if warnings == nil {
		warnings = []string{}
	}
	return Result{OK: true, Op: op, Data: data, Warnings: warnings}
}

// Fail builds a failed result from err.
func Fail(op string, err error) Result {
	return Result{OK: false, Op: op, Warnings: []string{}, Error: err.Error()}
}
