package extract

import (
	"reflect"
	"testing"
)

func TestNumericTokens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			"two isolated 12-digit tokens",
			"...id123456789012extra999999999999abc",
			[]string{"123456789012", "999999999999"},
		},
		{
			"10 digit minimum",
			"x1234567890y",
			[]string{"1234567890"},
		},
		{
			"13 digit maximum",
			"x1234567890123y",
			[]string{"1234567890123"},
		},
		{
			"9 digits too short",
			"x123456789y",
			nil,
		},
		{
			"14 digits too long",
			"x12345678901234y",
			nil,
		},
		{
			"run at string boundaries",
			"1234567890123",
			[]string{"1234567890123"},
		},
		{
			"duplicates collapse",
			"a123456789012b123456789012c",
			[]string{"123456789012"},
		},
		{
			"no digits",
			"nothing here",
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NumericTokens(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NumericTokens(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
