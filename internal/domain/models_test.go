package domain

import "testing"

func TestClassifyStock(t *testing.T) {
	cases := []struct {
		qty       int
		threshold int
		want      string
	}{
		{0, 5, StockStatusOut},
		{-1, 5, StockStatusOut},
		{1, 5, StockStatusLow},
		{4, 5, StockStatusLow},
		{5, 5, StockStatusIn},
		{120, 5, StockStatusIn},
		{7, 10, StockStatusLow},
		{3, 0, StockStatusLow}, // invalid threshold falls back to 5
	}

	for _, tc := range cases {
		got := ClassifyStock(tc.qty, tc.threshold)
		if got != tc.want {
			t.Fatalf("ClassifyStock(%d, %d) = %q, want %q", tc.qty, tc.threshold, got, tc.want)
		}
	}
}
