package quant

import (
	"testing"
)

func FuzzParseDecimal(f *testing.F) {
	f.Add("20000.05")
	f.Add("0.00000001")
	f.Add("-1.5")
	f.Add("1e9")
	f.Add("null")
	f.Fuzz(func(t *testing.T, s string) {
		d, err := ParseDecimal(s)
		if err != nil {
			return
		}
		// A parsed value must survive its own string form.
		d2, err := ParseDecimal(d.String())
		if err != nil {
			t.Fatalf("reparse of %q failed: %v", d.String(), err)
		}
		if !d.Equal(d2) {
			t.Fatalf("reparse of %q changed value: %s", s, d2)
		}
	})
}

func FuzzFeeRateFromPercents(f *testing.F) {
	f.Add("0.05")
	f.Add("100")
	f.Add("-3")
	f.Add("99.9999")
	f.Fuzz(func(t *testing.T, s string) {
		rate, err := FeeRateFromPercents(s)
		if err == nil && !rate.Valid() {
			t.Fatalf("FeeRateFromPercents(%q) returned invalid rate %d without error", s, rate)
		}
	})
}
