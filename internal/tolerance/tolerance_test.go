package tolerance

import (
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestIngredientBand(t *testing.T) {
	tests := []struct {
		target, pct     string
		min, max, value string
	}{
		{"10.000", "2", "9.8", "10.2", "0.2"},
		{"0.250", "5", "0.2375", "0.2625", "0.0125"},
		{"3", "0", "3", "3", "0"},
		{"1.5", "2.5", "1.4625", "1.5375", "0.0375"},
	}
	for _, tt := range tests {
		t.Run(tt.target+"±"+tt.pct+"%", func(t *testing.T) {
			b := IngredientBand(d(tt.target), d(tt.pct))
			if !b.Min.Equal(d(tt.min)) || !b.Max.Equal(d(tt.max)) || !b.Value.Equal(d(tt.value)) {
				t.Errorf("band = [%s, %s] ±%s, want [%s, %s] ±%s", b.Min, b.Max, b.Value, tt.min, tt.max, tt.value)
			}
		})
	}
}

func TestIngredientBandProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		target := decimal.NewFromInt(int64(rapid.IntRange(1, 500000).Draw(t, "grams"))).Shift(-3)
		pct := decimal.NewFromInt(int64(rapid.IntRange(0, 250).Draw(t, "pct10"))).Shift(-1)

		b := IngredientBand(target, pct)
		if b.Min.GreaterThan(target) || target.GreaterThan(b.Max) {
			t.Fatalf("target %s outside [%s, %s]", target, b.Min, b.Max)
		}
		width := b.Max.Sub(b.Min)
		want := target.Mul(pct).Mul(decimal.NewFromInt(2)).Div(decimal.NewFromInt(100))
		if !width.Equal(want) {
			t.Fatalf("width %s, want %s", width, want)
		}
	})
}

func TestDynamicTransferTolerance(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{-1, "0.050"},
		{0, "0.050"},
		{1, "0.065"},
		{2, "0.080"},
		{10, "0.200"},
	}
	for _, tt := range tests {
		if got := DynamicTransferTolerance(tt.n); !got.Equal(d(tt.want)) {
			t.Errorf("DynamicTransferTolerance(%d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}

func TestDynamicTransferToleranceMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 1000).Draw(t, "n")
		if DynamicTransferTolerance(n + 1).LessThan(DynamicTransferTolerance(n)) {
			t.Fatalf("tolerance decreased from %d to %d", n, n+1)
		}
	})
}

func TestVerifyBowlWeight(t *testing.T) {
	tests := []struct {
		name             string
		actual, recorded string
		wantValid        bool
		wantDiff         string
	}{
		{"exact", "1.250", "1.250", true, "0"},
		{"at tolerance", "1.300", "1.250", true, "0.05"},
		{"below within", "1.210", "1.250", true, "0.04"},
		{"over tolerance", "1.301", "1.250", false, "0.051"},
		{"swapped bowl", "0.800", "1.250", false, "0.45"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, diff := VerifyBowlWeight(d(tt.actual), d(tt.recorded), DefaultBowlTolerance)
			if valid != tt.wantValid {
				t.Errorf("valid = %v, want %v", valid, tt.wantValid)
			}
			if !diff.Equal(d(tt.wantDiff)) {
				t.Errorf("diff = %s, want %s", diff, tt.wantDiff)
			}
		})
	}
}

func TestIngredientStatus(t *testing.T) {
	band := IngredientBand(d("10"), d("2"))
	tests := []struct {
		net         string
		class       StatusClass
		canComplete bool
	}{
		{"9.799", UnderTarget, false},
		{"9.8", TargetReached, true},
		{"10.05", TargetReached, true},
		{"10.2", TargetReached, true},
		{"10.201", OverTarget, false},
	}
	for _, tt := range tests {
		s := IngredientStatus(d(tt.net), band)
		if s.Class != tt.class || s.CanComplete != tt.canComplete {
			t.Errorf("IngredientStatus(%s) = %s/%v, want %s/%v", tt.net, s.Class, s.CanComplete, tt.class, tt.canComplete)
		}
	}
}

func TestApproachStatus(t *testing.T) {
	band := IngredientBand(d("10"), d("2")) // [9.8, 10.2], inner [9.9, 10.1]
	tests := []struct {
		net         string
		zone        Zone
		canComplete bool
	}{
		{"5", ZoneRed, false},
		{"9.85", ZoneYellow, true},
		{"10", ZoneGreen, true},
		{"10.15", ZoneYellow, true},
		{"10.3", ZoneRed, false},
	}
	for _, tt := range tests {
		a := ApproachStatus(d(tt.net), band)
		if a.Zone != tt.zone || a.CanComplete != tt.canComplete {
			t.Errorf("ApproachStatus(%s) = %s/%v, want %s/%v", tt.net, a.Zone, a.CanComplete, tt.zone, tt.canComplete)
		}
	}
	if msg := ApproachStatus(d("5"), band).Message; msg != "Keep adding material (50%)" {
		t.Errorf("under message = %q", msg)
	}
}

func TestDeviationPercent(t *testing.T) {
	if got := DeviationPercent(d("0.05"), d("10")); !got.Equal(d("0.5")) {
		t.Errorf("got %s, want 0.5", got)
	}
	if got := DeviationPercent(d("0.05"), decimal.Zero); !got.IsZero() {
		t.Errorf("zero target: got %s", got)
	}
}
