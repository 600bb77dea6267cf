package cli

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/calltree/pkg/calltree/record"
)

func TestFormatCall(t *testing.T) {
	ok := record.New("greet")
	ok.Input.Args = []any{"hi", 2}
	ok.Input.Kwargs = map[string]any{"z": nil, "a": []int{1}}
	ok.Output = map[string]any{"n": 1}
	assert.Equal(t, `greet("hi", 2, a=[1], z=null) = {"n":1}`, formatCall(ok))

	failed := record.New("charge")
	failed.Errors = []string{"declined", "retry failed"}
	assert.Equal(t, "charge() ! declined; retry failed", formatCall(failed))
}

func TestFormatValue_FallsBack(t *testing.T) {
	assert.Equal(t, "NaN", formatValue(math.NaN()))
}
