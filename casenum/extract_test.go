package casenum

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	test := func(input string, expected ...string) func(*testing.T) {
		return func(t *testing.T) {
			if expected == nil {
				expected = []string{}
			}
			assert.Equal(t, expected, Extract(input))
		}
	}

	t.Run("standard", test("25CR123456-789", "25CR123456-789"))
	t.Run("standard without suffix", test("please look up 25CR123456 for me", "25CR123456"))
	t.Run("standard lowercase", test("25cr123456-789", "25CR123456-789"))
	t.Run("standard interior whitespace", test("25CR 123456", "25CR123456"))
	t.Run("four letter class", test("24CVDS 000123", "24CVDS000123"))
	t.Run("lexisnexis", test("7892025CR 123456", "25CR123456-789"))
	t.Run("lexisnexis equals standard form", test(
		"7892025CR 123456 and 25CR123456-789",
		"25CR123456-789",
	))
	t.Run("multiple ordered", test(
		"first 25CR123456-789 then 24CV000111 then 7892025CR 654321",
		"25CR123456-789", "24CV000111", "25CR654321-789",
	))
	t.Run("duplicates collapse", test(
		"25CR123456-789 25CR123456-789 25cr123456-789",
		"25CR123456-789",
	))
	t.Run("none found", test("no docket references in this text"))
	t.Run("empty", test(""))
	t.Run("bare digits are not a case number", test("call 5551234567"))
}

func TestExtractIdempotent(t *testing.T) {
	inputs := []string{
		"25CR123456-789 some text 7892025CR 123456 and 24CV000111",
		"7892025CR 123456",
		"nothing here",
	}
	for _, input := range inputs {
		first := Extract(input)
		again := Extract(strings.Join(first, " "))
		assert.Equal(t, first, again, "input %q", input)
	}
}

func TestExtractCapsInput(t *testing.T) {
	// a case number past the cap is ignored
	text := strings.Repeat("x", MaxInputLen) + " 25CR123456-789"
	assert.Empty(t, Extract(text))

	// ...but one inside the cap is found
	text = "25CR123456-789 " + strings.Repeat("x", MaxInputLen)
	assert.Equal(t, []string{"25CR123456-789"}, Extract(text))
}
