//go:build property
// +build property

package agent

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRepairJSONTruncation verifies every prefix of a model's action input
// repairs to valid JSON.
// Property: json.Valid(RepairJSON(s[:i])) for all i > 0
func TestRepairJSONTruncation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("every prefix repairs to valid JSON", prop.ForAll(
		func(m map[string]string, list []string) bool {
			if m == nil {
				m = map[string]string{}
			}
			if list == nil {
				list = []string{}
			}
			b, _ := json.Marshal(map[string]any{"action": "submit_expense", "action_input": m, "tags": list})
			s := string(b)
			for i := 1; i <= len(s); i++ {
				if !json.Valid([]byte(RepairJSON(s[:i]))) {
					t.Logf("prefix %q repaired to %q", s[:i], RepairJSON(s[:i]))
					return false
				}
			}
			return true
		},
		gen.MapOf(gen.AlphaString(), gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestRepairJSONIdempotentOnValid verifies valid objects pass through and
// trailing commas do not change the decoded value.
func TestRepairJSONIdempotentOnValid(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("valid input unchanged, trailing comma ignored", prop.ForAll(
		func(m map[string]string) bool {
			b, _ := json.Marshal(m)
			s := string(b)
			if RepairJSON(s) != s {
				return false
			}
			if len(m) == 0 {
				return true
			}
			withComma := strings.TrimSuffix(s, "}") + ",}"
			var got map[string]string
			if err := json.Unmarshal([]byte(RepairJSON(withComma)), &got); err != nil {
				return false
			}
			return reflect.DeepEqual(got, m)
		},
		gen.MapOf(gen.AlphaString(), gen.AlphaString()),
	))

	properties.TestingRun(t)
}
