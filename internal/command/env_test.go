package command

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/padworks/accounts/internal/billing"
	"github.com/padworks/accounts/internal/db"
	"github.com/padworks/accounts/internal/dpa"
	"github.com/padworks/accounts/internal/models"
	"github.com/padworks/accounts/internal/plans"
	"github.com/padworks/accounts/internal/provider"
)

var testDBSeq atomic.Int64

func testPlans() plans.Table {
	return plans.Table{
		"solo": {PriceID: "price_solo", QuotaGiB: 5, Drives: 1},
		"team": {PriceID: "price_team", YearlyPriceID: "price_team_y", QuotaGiB: 50, Drives: 3, Org: true},
	}
}

type fakeProvider struct {
	subs      map[string]*provider.Subscription
	customers map[string]*provider.Customer
	canceled  []string
	trialEnds map[string]time.Time

	checkoutURL string
	portalURL   string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subs:        map[string]*provider.Subscription{},
		customers:   map[string]*provider.Customer{},
		trialEnds:   map[string]time.Time{},
		checkoutURL: "https://checkout.test/session",
		portalURL:   "https://portal.test/session",
	}
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, _ provider.CheckoutParams) (string, error) {
	return f.checkoutURL, nil
}

func (f *fakeProvider) CreatePortalSession(_ context.Context, _, _ string) (string, error) {
	return f.portalURL, nil
}

func (f *fakeProvider) GetSubscription(_ context.Context, id string) (*provider.Subscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("fake provider: no subscription %s", id)
	}
	return sub, nil
}

func (f *fakeProvider) GetCustomer(_ context.Context, id string) (*provider.Customer, error) {
	cust, ok := f.customers[id]
	if !ok {
		return nil, fmt.Errorf("fake provider: no customer %s", id)
	}
	return cust, nil
}

func (f *fakeProvider) CancelAtPeriodEnd(_ context.Context, id string) (time.Time, error) {
	f.canceled = append(f.canceled, id)
	if sub, ok := f.subs[id]; ok {
		return sub.CurrentPeriodEnd, nil
	}
	return time.Now().Add(24 * time.Hour), nil
}

func (f *fakeProvider) SetTrialEnd(_ context.Context, id string, end time.Time) error {
	f.trialEnds[id] = end
	return nil
}

type fakeGenerator struct {
	files   *dpa.Files
	removed []string
}

func (g *fakeGenerator) Generate(_ dpa.Document, _ string, fileID string) error {
	return os.WriteFile(g.files.Path(fileID), []byte("%PDF-1.4 stub"), 0600)
}

func (g *fakeGenerator) Remove(fileID string) error {
	g.removed = append(g.removed, fileID)
	return os.Remove(g.files.Path(fileID))
}

func subFixture(id, priceID string, periodEnd time.Time) *provider.Subscription {
	return &provider.Subscription{
		ID:               id,
		Status:           models.StatusActive,
		PriceID:          priceID,
		CustomerID:       "cus_" + id,
		CurrentPeriodEnd: periodEnd,
	}
}

func newTestKey(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(pub), priv
}

func newTestEnv(t *testing.T) (*Env, *fakeProvider) {
	t.Helper()
	dsn := fmt.Sprintf("file:cmdtest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	fp := newFakeProvider()
	files := dpa.NewFiles(t.TempDir())
	table := testPlans()
	env := &Env{
		DB:       conn,
		Billing:  &billing.Service{DB: conn, Provider: fp, Plans: table},
		Provider: fp,
		Plans:    table,
		Domain:   "pad.example.com",
		Origin:   "https://pad.example.com",
		Admins:   map[string]bool{},
		DPAFiles: files,
		DPAGen:   &fakeGenerator{files: files},
	}
	return env, fp
}

func seedSubscription(t *testing.T, env *Env, row *models.Subscription) *models.Subscription {
	t.Helper()
	if row.CreateTime == 0 {
		row.CreateTime = time.Now().UnixMilli()
	}
	if err := env.DB.Create(row).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return row
}
