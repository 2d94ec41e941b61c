package plans

import (
	"reflect"
	"testing"
)

func testTable() Table {
	return Table{
		"pro":  {PriceID: "price_pro_m", YearlyPriceID: "price_pro_y", QuotaGiB: 10, Drives: 1},
		"duo":  {PriceID: "price_duo_m", YearlyPriceID: "price_duo_y", QuotaGiB: 20, Drives: 2},
		"team": {PriceID: "price_team_m", YearlyPriceID: "price_team_y", QuotaGiB: 50, Drives: 5, Org: true},
	}
}

func TestYearlyNaming(t *testing.T) {
	if !IsYearly("pro12") {
		t.Fatalf("pro12 should be yearly")
	}
	if IsYearly("pro") {
		t.Fatalf("pro should not be yearly")
	}
	if Base("pro12") != "pro" {
		t.Fatalf("expected base pro, got %q", Base("pro12"))
	}
}

func TestFromPrice(t *testing.T) {
	tbl := testTable()
	if got := tbl.FromPrice("price_pro_m"); got != "pro" {
		t.Fatalf("expected pro, got %q", got)
	}
	if got := tbl.FromPrice("price_pro_y"); got != "pro12" {
		t.Fatalf("expected pro12, got %q", got)
	}
	if got := tbl.FromPrice("price_unknown"); got != "price_unknown" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestOrgPlans(t *testing.T) {
	got := testTable().OrgPlans()
	want := []string{"team", "team12"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
