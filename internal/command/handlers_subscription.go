package command

import (
	"context"
	"errors"

	"github.com/padworks/accounts/internal/billing"
	"github.com/padworks/accounts/internal/identity"
	"github.com/padworks/accounts/internal/models"
	"github.com/padworks/accounts/internal/provider"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// cmdSubscribe opens a provider checkout session for the requested plan
// and returns the redirect URL. The checkout is linked back to the user
// through a one-time token so the public key never reaches the provider
// as the client reference.
func cmdSubscribe(ctx context.Context, env *Env, req *Request) (*Result, error) {
	domain := req.Str("domain")
	if domain == "" {
		log.Error("command: subscribe without domain")
		return nil, ErrInvalid
	}

	page := "accounts"
	if req.Bool("isRegister") {
		page = "drive"
	}
	successURL := env.Origin + "/accounts/#subscribe-" + page
	cancelURL := env.Origin + "/" + page + "/"

	price := env.Plans.Price(req.Str("plan"))
	if price == "" {
		return nil, ErrNoPlan
	}

	token := uuid.NewString()
	tokenRow := models.CheckoutToken{
		Token:  token,
		Pubkey: req.PublicKey,
		Domain: domain,
	}
	if errCreate := env.DB.WithContext(ctx).Create(&tokenRow).Error; errCreate != nil {
		// The token is a fallback for webhook correlation; the metadata
		// copy still identifies the user.
		log.WithError(errCreate).Warn("command: record checkout token failed")
	}

	url, errCheckout := env.Provider.CreateCheckoutSession(ctx, provider.CheckoutParams{
		PriceID:           price,
		SuccessURL:        successURL,
		CancelURL:         cancelURL,
		ClientReferenceID: token,
		Metadata: map[string]string{
			"key":    req.PublicKey,
			"user":   req.Str("user"),
			"domain": domain,
		},
	})
	if errCheckout != nil {
		log.WithError(errCheckout).Error("command: create checkout session failed")
		return nil, ErrProvider
	}
	return &Result{Content: gin.H{"permalink": url}}, nil
}

// cmdStripePortal opens the provider self-service portal for the user's
// single enabled subscription.
func cmdStripePortal(ctx context.Context, env *Env, req *Request) (*Result, error) {
	domain := req.Str("domain")
	if domain == "" {
		log.Error("command: portal without domain")
		return nil, ErrInvalid
	}

	rows, errList := env.Billing.EnabledSubscriptions(ctx, req.PublicKey, domain)
	if errList != nil {
		log.WithError(errList).Error("command: portal lookup failed")
		return nil, ErrDBGet
	}
	if len(rows) == 0 {
		return nil, ErrNoSub
	}
	if len(rows) > 1 {
		return nil, ErrTooMany
	}
	sub := rows[0]

	url, errPortal := env.Provider.CreatePortalSession(ctx, sub.Customer, env.Origin+"/accounts/")
	if errPortal != nil {
		log.WithError(errPortal).Error("command: create portal session failed")
		return nil, ErrProvider
	}
	if req.Bool("updateSub") {
		url += "/subscriptions/" + sub.Transaction + "/update"
	}
	return &Result{Content: gin.H{"url": url}}, nil
}

// cmdGetMySub reports the caller's strongest enabled subscription, its
// granted seats, and the provider renewal state for paid rows.
func cmdGetMySub(ctx context.Context, env *Env, req *Request) (*Result, error) {
	domain := req.Str("domain")
	if req.PublicKey == "" || domain == "" {
		log.Error("command: getmysub without identity")
		return nil, ErrAuth
	}

	best, errBest := env.Billing.BestSubscription(ctx, req.PublicKey, domain)
	if errBest != nil {
		log.WithError(errBest).Error("command: getmysub lookup failed")
		return nil, ErrDBGet
	}
	if best == nil {
		if env.IsAdmin(req.PublicKey) {
			return &Result{Content: gin.H{"isAdmin": true}}, nil
		}
		return &Result{Content: false}, nil
	}

	drives, errDrives := env.Billing.ExtraDrives(ctx, best.Sub.ID)
	if errDrives != nil {
		log.WithError(errDrives).Error("command: getmysub seats lookup failed")
		return nil, ErrDBGet
	}

	var renewal int64
	canceled := false
	if !best.Sub.AdminAdded && !best.Sub.Derived() {
		provSub, errProv := env.Provider.GetSubscription(ctx, best.Sub.Transaction)
		if errProv != nil {
			log.WithError(errProv).Error("command: getmysub provider lookup failed")
			return nil, ErrProvider
		}
		renewal = provSub.CurrentPeriodEnd.UnixMilli()
		canceled = provSub.CancelAtPeriodEnd
	}

	return &Result{Content: gin.H{
		"id":        best.Sub.ID,
		"plan":      best.Plan,
		"yearly":    best.Yearly,
		"renewal":   renewal,
		"drives":    drives,
		"canceled":  canceled,
		"shared":    best.Shared,
		"adminGift": best.AdminGift,
		"owner":     best.Sub.Pubkey,
		"isAdmin":   env.IsAdmin(req.PublicKey),
	}}, nil
}

// cmdCheckSession reports whether the caller holds any enabled
// subscription on the given domain.
func cmdCheckSession(ctx context.Context, env *Env, req *Request) (*Result, error) {
	domain := req.Str("domain")
	if req.PublicKey == "" || domain == "" {
		log.Error("command: checksession without identity")
		return nil, ErrAuth
	}
	has, errCheck := env.Billing.HasEnabledSubscription(ctx, req.PublicKey, domain)
	if errCheck != nil {
		log.WithError(errCheck).Error("command: checksession lookup failed")
		return nil, ErrDBGet
	}
	return &Result{Content: has}, nil
}

// cmdAddToPlan grants a seat from the caller's plan capacity to another
// user on the same domain.
func cmdAddToPlan(ctx context.Context, env *Env, req *Request) (*Result, error) {
	domain := req.Str("domain")
	if domain == "" {
		log.Error("command: addtoplan without domain")
		return nil, ErrInvalid
	}

	beneficiary, errParse := identity.Parse(req.Str("addKey"))
	if errParse != nil {
		log.WithError(errParse).Error("command: addtoplan beneficiary unparseable")
		return nil, ErrInvalid
	}
	if beneficiary.Domain != domain {
		log.Errorf("command: addtoplan across domains (%s vs %s)", beneficiary.Domain, domain)
		return nil, ErrInvalid
	}

	exists, errExist := env.Billing.HasEnabledSubscription(ctx, beneficiary.PublicKey, beneficiary.Domain)
	if errExist != nil {
		log.WithError(errExist).Error("command: addtoplan existing check failed")
		return nil, ErrDBGet
	}
	if exists {
		return nil, ErrExists
	}

	best, errBest := env.Billing.BestSubscription(ctx, req.PublicKey, domain)
	if errBest != nil {
		log.WithError(errBest).Error("command: addtoplan owner lookup failed")
		return nil, ErrDBGet
	}
	if best == nil {
		log.Errorf("command: addtoplan without active plan (key=%s)", req.PublicKey)
		return nil, ErrInvalid
	}
	def, ok := env.Plans.Get(best.Plan)
	if !ok || def.Drives <= 1 {
		log.Errorf("command: addtoplan on non-shareable plan %q", best.Plan)
		return nil, ErrInvalid
	}

	seats, errCount := env.Billing.ActiveSeatCount(ctx, best.Sub.ID)
	if errCount != nil {
		log.WithError(errCount).Error("command: addtoplan seat count failed")
		return nil, ErrDBGet
	}
	if seats >= int64(def.Drives)-1 {
		log.Errorf("command: addtoplan limit reached on plan %d", best.Sub.ID)
		return nil, ErrInvalid
	}

	id, errAdd := env.Billing.AddSeat(ctx, billing.AddSeatParams{
		Root:              &best.Sub,
		OwnerPubkey:       req.PublicKey,
		Domain:            domain,
		BenificiaryDomain: beneficiary.Domain,
		BenificiaryPubkey: beneficiary.PublicKey,
		BenificiaryUser:   beneficiary.Username,
		GiftNote:          req.Str("giftNote"),
	})
	if errAdd != nil {
		log.WithError(errAdd).Error("command: addtoplan insert failed")
		return nil, ErrDBPut
	}
	return &Result{Content: gin.H{"id": id}}, nil
}

// cmdCancelGift cancels a granted row: a seat or admin gift the caller
// received, or a seat the caller granted. Paid subscriptions are canceled
// through the provider portal, never here.
func cmdCancelGift(ctx context.Context, env *Env, req *Request) (*Result, error) {
	id := req.Uint64("id")
	if id == 0 {
		log.Error("command: cancel without id")
		return nil, ErrInvalid
	}

	var sub models.Subscription
	errFind := env.DB.WithContext(ctx).
		Where("id = ?", id).
		Where("pubkey = ? OR benificiary_pubkey = ?", req.PublicKey, req.PublicKey).
		First(&sub).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		log.WithError(errFind).Errorf("command: cancel lookup %d failed", id)
		return nil, ErrDBGet
	}

	nowMs := env.Billing.NowMs()
	closed := map[string]any{"status": models.StatusCanceled, "end_time": nowMs}

	// A gift the caller received: close only the row benefiting them.
	if sub.Pubkey != req.PublicKey {
		if errUpdate := env.DB.WithContext(ctx).
			Model(&models.Subscription{}).
			Where("id = ? AND benificiary_pubkey = ?", id, req.PublicKey).
			Updates(closed).Error; errUpdate != nil {
			log.WithError(errUpdate).Errorf("command: cancel received gift %d failed", id)
			return nil, ErrDBPut
		}
		if env.Billing.Kick != nil {
			env.Billing.Kick()
		}
		return &Result{Content: gin.H{}}, nil
	}

	// A gift the caller made, or an admin gift they own: close the row
	// and any seats hanging off it.
	if sub.AdminAdded || sub.Derived() {
		if errUpdate := env.DB.WithContext(ctx).
			Model(&models.Subscription{}).
			Where("pubkey = ?", req.PublicKey).
			Where("id = ? OR plan_added = ?", id, id).
			Updates(closed).Error; errUpdate != nil {
			log.WithError(errUpdate).Errorf("command: cancel granted gift %d failed", id)
			return nil, ErrDBPut
		}
		if env.Billing.Kick != nil {
			env.Billing.Kick()
		}
		return &Result{Content: gin.H{}}, nil
	}

	log.Errorf("command: direct cancel of paid subscription %s refused", sub.Transaction)
	return nil, ErrNotImplemented
}
