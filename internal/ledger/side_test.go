package ledger

import "testing"

func TestClassifySide(t *testing.T) {
	cases := []struct {
		descriptor string
		want       Side
	}{
		{"현금매수", SideBuy},
		{"현금매도", SideSell},
		{"신용매수", SideBuy},
		{"융자매도상환", SideSell},
		{"시간외신용매수", SideBuy},
		{"  현금매도  ", SideSell},
		// A label carrying both markers counts as a buy: the sell rule only
		// fires when the buy marker is absent.
		{"매수매도정정", SideBuy},
		{"배당금입금", SideUnknown},
		{"주식합병", SideUnknown},
		{"", SideUnknown},
		{"   ", SideUnknown},
	}
	for _, tc := range cases {
		if got := ClassifySide(tc.descriptor); got != tc.want {
			t.Errorf("ClassifySide(%q) = %v, want %v", tc.descriptor, got, tc.want)
		}
	}
}

func TestSideString(t *testing.T) {
	if SideBuy.String() != "BUY" || SideSell.String() != "SELL" || SideUnknown.String() != "UNKNOWN" {
		t.Errorf("unexpected side labels: %s %s %s", SideBuy, SideSell, SideUnknown)
	}
}
