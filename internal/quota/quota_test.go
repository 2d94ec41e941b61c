package quota

import (
	"reflect"
	"testing"

	"github.com/padworks/accounts/internal/models"
	"github.com/padworks/accounts/internal/plans"
)

func testTable() plans.Table {
	return plans.Table{
		"pro":  {QuotaGiB: 10, Drives: 1},
		"team": {QuotaGiB: 50, Drives: 5},
	}
}

func TestAggregateGroupsSharedRows(t *testing.T) {
	rows := []models.Subscription{
		{ID: 1, Plan: "team", BenificiaryPubkey: "owner", Status: models.StatusActive},
		{ID: 2, Plan: "shared", PlanAdded: 1, BenificiaryPubkey: "guest", Status: models.StatusActive},
	}
	out := Aggregate(rows, testTable())

	if len(out) != 2 {
		t.Fatalf("expected 2 users, got %d", len(out))
	}
	if out["guest"].Limit != 50*1024*1024*1024 {
		t.Fatalf("guest should inherit the team limit, got %d", out["guest"].Limit)
	}
	if out["guest"].Plan != "team" {
		t.Fatalf("shared rows resolve to the root plan, got %q", out["guest"].Plan)
	}
	if !reflect.DeepEqual(out["owner"].Users, []string{"owner", "guest"}) {
		t.Fatalf("unexpected user list: %v", out["owner"].Users)
	}
}

func TestAggregateTakesMaxNotSum(t *testing.T) {
	rows := []models.Subscription{
		{ID: 1, Plan: "pro", BenificiaryPubkey: "alice", Status: models.StatusActive},
		{ID: 2, Plan: "team", BenificiaryPubkey: "owner", Status: models.StatusActive},
		{ID: 3, Plan: "shared", PlanAdded: 2, BenificiaryPubkey: "alice", Status: models.StatusActive},
	}
	out := Aggregate(rows, testTable())

	if out["alice"].Limit != 50*1024*1024*1024 {
		t.Fatalf("alice should get the larger plan, got %d", out["alice"].Limit)
	}
}

func TestAggregateIdempotent(t *testing.T) {
	rows := []models.Subscription{
		{ID: 1, Plan: "team12", BenificiaryPubkey: "owner", GiftNote: "note", Status: models.StatusActive},
		{ID: 2, Plan: "shared", PlanAdded: 1, BenificiaryPubkey: "guest", Status: models.StatusActive},
	}
	first := Aggregate(rows, testTable())
	second := Aggregate(rows, testTable())
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("aggregation must be deterministic")
	}
	if first["owner"].Plan != "team" {
		t.Fatalf("yearly plan should map to its base name, got %q", first["owner"].Plan)
	}
}

func TestAggregateEqualLimitTieIsStable(t *testing.T) {
	// Two roots with the same limit share a beneficiary via a seat; the
	// winning group must not depend on map iteration order.
	rows := []models.Subscription{
		{ID: 1, Plan: "pro", BenificiaryPubkey: "alice", GiftNote: "note-a", Status: models.StatusActive},
		{ID: 2, Plan: "pro", BenificiaryPubkey: "bob", GiftNote: "note-b", Status: models.StatusActive},
		{ID: 3, Plan: "shared", PlanAdded: 2, BenificiaryPubkey: "alice", Status: models.StatusActive},
	}
	first := Aggregate(rows, testTable())
	for i := 0; i < 20; i++ {
		if !reflect.DeepEqual(Aggregate(rows, testTable()), first) {
			t.Fatalf("tie between equal-limit roots resolved differently on run %d", i)
		}
	}
	if first["alice"].Note != "note-b" {
		t.Fatalf("later root wins an equal-limit tie, got note %q", first["alice"].Note)
	}
}

func TestAggregateSkipsOrphanSharedRows(t *testing.T) {
	rows := []models.Subscription{
		{ID: 2, Plan: "shared", PlanAdded: 99, BenificiaryPubkey: "guest", Status: models.StatusActive},
	}
	out := Aggregate(rows, testTable())
	if len(out) != 0 {
		t.Fatalf("orphan shared row should grant nothing, got %v", out)
	}
}

func TestAggregateSkipsUnknownPlans(t *testing.T) {
	rows := []models.Subscription{
		{ID: 1, Plan: "price_gone", BenificiaryPubkey: "owner", Status: models.StatusActive},
	}
	out := Aggregate(rows, testTable())
	if len(out) != 0 {
		t.Fatalf("unknown plan should grant nothing, got %v", out)
	}
}
