package chat

import (
	"errors"
	"testing"
)

func TestPageQueryValidate(t *testing.T) {
	cases := []struct {
		name  string
		query PageQuery
		ok    bool
	}{
		{"valid before", PageQuery{Anchor: 100, Direction: Before, Limit: 20}, true},
		{"valid after", PageQuery{Anchor: 0, Direction: After, Limit: 1}, true},
		{"zero limit", PageQuery{Anchor: 100, Direction: Before, Limit: 0}, false},
		{"negative limit", PageQuery{Anchor: 100, Direction: Before, Limit: -5}, false},
		{"negative anchor", PageQuery{Anchor: -1, Direction: After, Limit: 10}, false},
		{"unknown direction", PageQuery{Anchor: 1, Direction: Direction(9), Limit: 10}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.query.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok {
				var argErr *InvalidArgumentError
				if !errors.As(err, &argErr) {
					t.Errorf("err = %v, want InvalidArgumentError", err)
				}
			}
		})
	}
}
