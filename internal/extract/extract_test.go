package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorLines_GoTest(t *testing.T) {
	output := `=== RUN   TestParse
--- FAIL: TestParse (0.00s)
    parse_test.go:42: got 3 tokens, want 4
=== RUN   TestRender
--- PASS: TestRender (0.01s)
FAIL
FAIL	example.com/pkg/parse	0.012s
ok  	example.com/pkg/render	0.004s
`
	lines := ErrorLines(output, 10)
	joined := strings.Join(lines, "\n")

	assert.Contains(t, joined, "--- FAIL: TestParse")
	assert.Contains(t, joined, "parse_test.go:42")
	assert.NotContains(t, joined, "TestRender")
	assert.NotContains(t, joined, "ok  ")
}

func TestErrorLines_Compiler(t *testing.T) {
	output := `src/app.ts:14:7: error TS2322: Type 'string' is not assignable to type 'number'.
main.go:10:2: undefined: fmt.Printl
building...
done
`
	lines := ErrorLines(output, 10)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "src/app.ts:14:7"), "first line = %q", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "main.go:10:2"), "second line = %q", lines[1])
}

func TestErrorLines_SkipsAllClearNoise(t *testing.T) {
	output := `Compiled with 0 errors and 0 warnings
error summary: 0 errors
No errors found.
All good.
`
	assert.Empty(t, ErrorLines(output, 10), "all-clear summary lines should not match")
}

func TestErrorLines_CapAndDedup(t *testing.T) {
	repeated := strings.Repeat("error: connection refused\n", 5)
	extra := "error: one\nerror: two\nerror: three\n"

	lines := ErrorLines(repeated+extra, 3)

	require.Len(t, lines, 3, "budget caps the extraction")
	assert.Equal(t, []string{"error: connection refused", "error: one", "error: two"}, lines)
}

func TestErrorLines_Empty(t *testing.T) {
	assert.Nil(t, ErrorLines("", 5))
	assert.Nil(t, ErrorLines("error: x", 0), "zero budget extracts nothing")
}

func TestStats(t *testing.T) {
	stats := Stats("one\ntwo\nthree")
	assert.Equal(t, "3", stats["lines"])
	assert.Equal(t, "13", stats["bytes"])

	stats = Stats("")
	assert.Equal(t, "0", stats["lines"])
	assert.Equal(t, "0", stats["bytes"])
}
