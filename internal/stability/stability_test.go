package stability

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func feed(t *Tracker, scaleID int, values ...string) {
	for _, v := range values {
		t.Update(scaleID, decimal.RequireFromString(v))
	}
}

func TestIsStable(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   bool
	}{
		{"settled", []string{"10.000", "10.002", "10.001"}, true},
		{"spread too wide", []string{"10.000", "10.010", "10.001"}, false},
		{"too few samples", []string{"10.000", "10.000"}, false},
		{"empty", nil, false},
		{"exactly at tolerance", []string{"2.000", "2.005", "2.003"}, true},
		{"old spike evicted", []string{"9.000", "10.000", "10.001", "10.000", "10.002", "10.001"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			feed(tr, 1, tt.values...)
			if got := tr.IsStableDefault(1); got != tt.want {
				t.Errorf("IsStableDefault() = %v, want %v (history %v)", got, tt.want, tr.History(1))
			}
		})
	}
}

func TestScalesAreIndependent(t *testing.T) {
	tr := New()
	feed(tr, 1, "1.000", "1.000", "1.000")
	feed(tr, 2, "5.000", "6.000", "7.000")

	if !tr.IsStableDefault(1) {
		t.Error("scale 1 should be stable")
	}
	if tr.IsStableDefault(2) {
		t.Error("scale 2 should not be stable")
	}
}

func TestHistoryEviction(t *testing.T) {
	tr := New()
	feed(tr, 1, "1", "2", "3", "4", "5", "6", "7")

	got := tr.History(1)
	want := []string{"3", "4", "5", "6", "7"}
	if len(got) != len(want) {
		t.Fatalf("history length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(decimal.RequireFromString(want[i])) {
			t.Errorf("history[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestHistoryIsACopy(t *testing.T) {
	tr := New()
	feed(tr, 1, "1", "2", "3")
	h := tr.History(1)
	h[0] = decimal.NewFromInt(99)
	if !tr.History(1)[0].Equal(decimal.NewFromInt(1)) {
		t.Error("History exposed internal buffer")
	}
}

func TestOptions(t *testing.T) {
	tr := New(WithCapacity(3), WithMinSamples(2), WithTolerance(decimal.RequireFromString("0.1")))
	feed(tr, 2, "1.00", "1.05")
	if !tr.IsStableDefault(2) {
		t.Error("two samples within 0.1 should be stable")
	}
	feed(tr, 2, "1.20", "1.21")
	if got := len(tr.History(2)); got != 3 {
		t.Errorf("capacity 3 history length = %d", got)
	}
	if tr.IsStableDefault(2) {
		t.Error("window [1.05 1.20 1.21] should not be stable")
	}
}

func TestClear(t *testing.T) {
	tr := New()
	feed(tr, 1, "1", "1", "1")
	tr.Clear()
	if tr.IsStableDefault(1) || tr.History(1) != nil {
		t.Error("Clear left history behind")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				tr.Update(id%2+1, decimal.NewFromInt(int64(j)))
				tr.IsStableDefault(id%2 + 1)
				tr.History(id%2 + 1)
			}
		}(i)
	}
	wg.Wait()
	if got := len(tr.History(1)); got != DefaultCapacity {
		t.Errorf("history length = %d, want %d", got, DefaultCapacity)
	}
}
