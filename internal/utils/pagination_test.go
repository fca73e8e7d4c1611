package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		// empty -> default
		{"", 10, 10},
		// valid ints
		{"42", 0, 42},
		{"-13", 1, -13},
		{"0012", 99, 12},
		// invalid -> default (no trim)
		{"x", 5, 5},
		{" 42", 7, 7},
		// overflow -> default
		{"999999999999999999999999", -1, -1},
	}

	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestPaginate(t *testing.T) {
	cases := []struct {
		page, size             int
		wantP, wantS, wantOffs int
	}{
		{0, 0, 1, DefaultPageSize, 0},
		{-3, -1, 1, DefaultPageSize, 0},
		{2, 10, 2, 10, 10},
		{3, 1000, 3, MaxPageSize, 2 * MaxPageSize},
	}
	for _, tc := range cases {
		p, s, off := Paginate(tc.page, tc.size)
		if p != tc.wantP || s != tc.wantS || off != tc.wantOffs {
			t.Fatalf("Paginate(%d,%d) = %d,%d,%d; want %d,%d,%d", tc.page, tc.size, p, s, off, tc.wantP, tc.wantS, tc.wantOffs)
		}
	}
}
