package billing

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/padworks/accounts/internal/db"
	"github.com/padworks/accounts/internal/models"
	"github.com/padworks/accounts/internal/plans"
	"github.com/padworks/accounts/internal/provider"
)

var testDBSeq atomic.Int64

type stubProvider struct {
	subs     map[string]*provider.Subscription
	canceled []string
}

func (p *stubProvider) CreateCheckoutSession(context.Context, provider.CheckoutParams) (string, error) {
	return "", fmt.Errorf("not used")
}

func (p *stubProvider) CreatePortalSession(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("not used")
}

func (p *stubProvider) GetSubscription(_ context.Context, id string) (*provider.Subscription, error) {
	sub, ok := p.subs[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", id)
	}
	return sub, nil
}

func (p *stubProvider) GetCustomer(_ context.Context, id string) (*provider.Customer, error) {
	return &provider.Customer{ID: id}, nil
}

func (p *stubProvider) CancelAtPeriodEnd(_ context.Context, id string) (time.Time, error) {
	p.canceled = append(p.canceled, id)
	sub, ok := p.subs[id]
	if !ok {
		return time.Time{}, fmt.Errorf("no such subscription %s", id)
	}
	return sub.CurrentPeriodEnd, nil
}

func (p *stubProvider) SetTrialEnd(context.Context, string, time.Time) error { return nil }

func newTestService(t *testing.T) (*Service, *stubProvider) {
	t.Helper()
	conn, err := db.Open(fmt.Sprintf("file:billingtest%d?mode=memory&cache=shared", testDBSeq.Add(1)))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	prov := &stubProvider{subs: map[string]*provider.Subscription{}}
	svc := (&Service{
		DB:       conn,
		Provider: prov,
		Plans: plans.Table{
			"solo": {PriceID: "price_solo", YearlyPriceID: "price_solo_y", QuotaGiB: 5, Drives: 1},
		},
	}).WithClock(func() int64 { return 1_700_000_000_000 })
	return svc, prov
}

func TestSubscribeCancelsExistingEntitlement(t *testing.T) {
	svc, prov := newTestService(t)
	ctx := context.Background()

	periodEnd := time.UnixMilli(1_700_900_000_000)
	prov.subs["sub_old"] = &provider.Subscription{
		ID:               "sub_old",
		Status:           models.StatusActive,
		PriceID:          "price_solo",
		CurrentPeriodEnd: periodEnd,
	}

	oldID, err := svc.Subscribe(ctx, SubscribeParams{
		Domain:            "pad.example.com",
		Pubkey:            "key-a",
		BenificiaryDomain: "pad.example.com",
		BenificiaryPubkey: "key-a",
		Plan:              "solo",
		Customer:          "cus_1",
		Transaction:       "sub_old",
		Status:            models.StatusActive,
	})
	if err != nil {
		t.Fatalf("first subscribe: %v", err)
	}

	newID, err := svc.Subscribe(ctx, SubscribeParams{
		Domain:            "pad.example.com",
		Pubkey:            "key-a",
		BenificiaryDomain: "pad.example.com",
		BenificiaryPubkey: "key-a",
		Plan:              "solo12",
		Customer:          "cus_1",
		Transaction:       "sub_new",
		Status:            models.StatusActive,
	})
	if err != nil {
		t.Fatalf("second subscribe: %v", err)
	}

	if len(prov.canceled) != 1 || prov.canceled[0] != "sub_old" {
		t.Fatalf("expected provider cancel of sub_old, got %v", prov.canceled)
	}
	var old models.Subscription
	if errFind := svc.DB.First(&old, oldID).Error; errFind != nil {
		t.Fatalf("reload old row: %v", errFind)
	}
	if old.EndTime != periodEnd.UnixMilli() {
		t.Fatalf("expected old row to end at period end, got %d", old.EndTime)
	}

	enabled, err := svc.EnabledSubscriptions(ctx, "key-a", "pad.example.com")
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	// Both rows still carry an enabled status until the sweep closes the
	// old one at its end time; the new row must be among them.
	found := false
	for _, row := range enabled {
		if row.ID == newID {
			found = true
		}
	}
	if !found {
		t.Fatalf("new subscription %d not enabled", newID)
	}
}

func TestSubscribeResolvesPlanFromProvider(t *testing.T) {
	svc, prov := newTestService(t)
	prov.subs["sub_1"] = &provider.Subscription{
		ID:      "sub_1",
		Status:  models.StatusActive,
		PriceID: "price_solo_y",
	}

	id, err := svc.Subscribe(context.Background(), SubscribeParams{
		Domain:            "pad.example.com",
		Pubkey:            "key-b",
		BenificiaryDomain: "pad.example.com",
		BenificiaryPubkey: "key-b",
		Customer:          "cus_2",
		Transaction:       "sub_1",
		Status:            models.StatusActive,
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var row models.Subscription
	if errFind := svc.DB.First(&row, id).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if row.Plan != "solo12" {
		t.Fatalf("expected yearly plan solo12, got %q", row.Plan)
	}
}

func TestCancelAdminGrantEndsImmediately(t *testing.T) {
	svc, prov := newTestService(t)
	ctx := context.Background()

	id, err := svc.Subscribe(ctx, SubscribeParams{
		Domain:            "pad.example.com",
		Pubkey:            "key-c",
		BenificiaryDomain: "pad.example.com",
		BenificiaryPubkey: "key-c",
		Plan:              "solo",
		Customer:          models.SentinelAdmin,
		Transaction:       models.SentinelAdmin,
		Status:            models.StatusActive,
		AdminAdded:        true,
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var row models.Subscription
	if errFind := svc.DB.First(&row, id).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if errCancel := svc.CancelSubscription(ctx, &row); errCancel != nil {
		t.Fatalf("cancel: %v", errCancel)
	}
	if len(prov.canceled) != 0 {
		t.Fatalf("admin grant must not reach the provider, got %v", prov.canceled)
	}
	if errFind := svc.DB.First(&row, id).Error; errFind != nil {
		t.Fatalf("reload after cancel: %v", errFind)
	}
	if row.EndTime != svc.NowMs() {
		t.Fatalf("expected immediate end time %d, got %d", svc.NowMs(), row.EndTime)
	}
}

func TestMarkForResyncClearsWatermark(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	kicked := 0
	svc.Kick = func() { kicked++ }

	row := models.Subscription{
		Domain:            "pad.example.com",
		Pubkey:            "key-d",
		BenificiaryDomain: "pad.example.com",
		BenificiaryPubkey: "key-d",
		Plan:              "solo",
		Customer:          "cus_3",
		Transaction:       "sub_9",
		Status:            models.StatusActive,
		LastCheckedStripe: 1_700_000_000,
		CreateTime:        svc.NowMs(),
	}
	if errCreate := svc.DB.Create(&row).Error; errCreate != nil {
		t.Fatalf("seed: %v", errCreate)
	}

	if errMark := svc.MarkForResync(ctx, "sub_9"); errMark != nil {
		t.Fatalf("mark: %v", errMark)
	}
	if kicked == 0 {
		t.Fatalf("expected a reconciliation kick")
	}
	var reloaded models.Subscription
	if errFind := svc.DB.First(&reloaded, row.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if reloaded.LastCheckedStripe != 0 {
		t.Fatalf("expected cleared watermark, got %d", reloaded.LastCheckedStripe)
	}
}
