package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchLabel(t *testing.T) {
	cases := []struct {
		label     string
		threshold float64
		expected  bool
	}{
		{label: "Anmeldename", expected: true},
		{label: " Anmeldename: ", expected: true},
		{label: "Anmelde name *", expected: true},
		{label: "Anmeldenamen", threshold: 0.9, expected: true},
		{label: "Anmeldenamen", threshold: 0, expected: false},
		{label: "PIN", threshold: 0.9, expected: false},
		{label: "", threshold: 0.9, expected: false},
	}

	for _, test := range cases {
		require.Equal(
			t,
			test.expected,
			MatchLabel(test.label, []string{"Anmeldename"}, test.threshold),
			"label %q", test.label,
		)
	}
}
