package lending

import (
	"errors"
	"math/big"
	"testing"
)

func TestAccrueInterestScenarios(t *testing.T) {
	principal := big.NewInt(100_0000000)
	cases := []struct {
		elapsed uint64
		want    int64
	}{
		{SecondsPerWeek, 5_0000000},
		{SecondsPerWeek / 2, 2_5000000},
		{4 * SecondsPerWeek, 20_0000000},
		{0, 0},
		{1, 82},
	}
	for _, tc := range cases {
		got, err := AccrueInterest(principal, 500, 1_000, 1_000+tc.elapsed)
		if err != nil {
			t.Fatalf("elapsed %d: %v", tc.elapsed, err)
		}
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("elapsed %d: expected %d, got %s", tc.elapsed, tc.want, got)
		}
	}
}

func TestAccrueInterestRejectsReversedInterval(t *testing.T) {
	if _, err := AccrueInterest(big.NewInt(1), 1, 10, 9); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAccrueInterestZeroWidthSkipsArithmetic(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	got, err := AccrueInterest(huge, 3_000, 5, 5)
	if err != nil {
		t.Fatalf("zero-width interval must not overflow: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
}

func TestAccrueInterestOverflow(t *testing.T) {
	principal := new(big.Int).Lsh(big.NewInt(1), 120)
	if _, err := AccrueInterest(principal, 3_000, 0, 52*SecondsPerWeek); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
}

func TestAccrueInterestMonotonic(t *testing.T) {
	principal := big.NewInt(12_345_6789)
	prev := big.NewInt(0)
	for elapsed := uint64(0); elapsed <= 3*SecondsPerWeek; elapsed += 7_919 {
		got, err := AccrueInterest(principal, 250, 0, elapsed)
		if err != nil {
			t.Fatalf("elapsed %d: %v", elapsed, err)
		}
		if got.Cmp(prev) < 0 {
			t.Fatalf("interest decreased at %d: %s < %s", elapsed, got, prev)
		}
		prev = got
	}
	prev = big.NewInt(0)
	for rate := uint32(0); rate <= 3_000; rate += 137 {
		got, err := AccrueInterest(principal, rate, 0, SecondsPerWeek)
		if err != nil {
			t.Fatalf("rate %d: %v", rate, err)
		}
		if got.Cmp(prev) < 0 {
			t.Fatalf("interest decreased at rate %d", rate)
		}
		prev = got
	}
}

func TestTotalDebtIdentity(t *testing.T) {
	principal := big.NewInt(77_0000000)
	accumulated := big.NewInt(3_1234567)
	for _, elapsed := range []uint64{0, 1, 3_600, SecondsPerWeek, 10 * SecondsPerWeek} {
		debt, err := TotalDebt(principal, accumulated, 420, 100, 100+elapsed)
		if err != nil {
			t.Fatalf("total debt: %v", err)
		}
		interest, _ := AccrueInterest(principal, 420, 100, 100+elapsed)
		want := new(big.Int).Add(principal, accumulated)
		want.Add(want, interest)
		if debt.Cmp(want) != 0 {
			t.Fatalf("elapsed %d: expected %s, got %s", elapsed, want, debt)
		}
	}
}

func TestCalculateAPYSaturates(t *testing.T) {
	if got := CalculateAPY(500); got != 26_000 {
		t.Fatalf("expected 26000, got %d", got)
	}
	if got := CalculateAPY(^uint32(0)); got != ^uint32(0) {
		t.Fatalf("expected saturation, got %d", got)
	}
}

func TestInterestForPeriod(t *testing.T) {
	got, err := InterestForPeriod(big.NewInt(100_0000000), 500, 4)
	if err != nil {
		t.Fatalf("interest for period: %v", err)
	}
	if got.Cmp(big.NewInt(20_0000000)) != 0 {
		t.Fatalf("expected 20_0000000, got %s", got)
	}
}
