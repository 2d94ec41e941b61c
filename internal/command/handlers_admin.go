package command

import (
	"context"
	"time"

	"github.com/padworks/accounts/internal/billing"
	"github.com/padworks/accounts/internal/identity"
	"github.com/padworks/accounts/internal/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// subJSON renders a subscription row for the admin panel.
func subJSON(s *models.Subscription) gin.H {
	var beneficiary any
	if s.BenificiaryUser != "" {
		beneficiary = identity.Serialize(identity.User{
			Username:  s.BenificiaryUser,
			Domain:    s.BenificiaryDomain,
			PublicKey: s.BenificiaryPubkey,
		})
	}
	return gin.H{
		"id":                 s.ID,
		"pubkey":             s.Pubkey,
		"benificiary":        beneficiary,
		"benificiary_pubkey": s.BenificiaryPubkey,
		"benificiary_domain": s.BenificiaryDomain,
		"benificiary_user":   s.BenificiaryUser,
		"domain":             s.Domain,
		"customer":           s.Customer,
		"transaction":        s.Transaction,
		"gift_note":          s.GiftNote,
		"plan":               s.Plan,
		"plan_added":         s.PlanAdded,
		"admin_added":        s.AdminAdded,
		"status":             s.Status,
		"create_time":        s.CreateTime,
		"end_time":           s.EndTime,
		"email":              s.Email,
	}
}

// cmdAdminGetAll lists every subscription row.
func cmdAdminGetAll(ctx context.Context, env *Env, _ *Request) (*Result, error) {
	var rows []models.Subscription
	if errFind := env.DB.WithContext(ctx).Find(&rows).Error; errFind != nil {
		log.WithError(errFind).Error("command: admin list failed")
		return nil, ErrDBGet
	}
	subs := make([]gin.H, 0, len(rows))
	for i := range rows {
		subs = append(subs, subJSON(&rows[i]))
	}
	return &Result{Content: gin.H{"subs": subs}}, nil
}

// cmdAdminGetSub finds rows by id (root plus its seats), by email, or by
// key (as beneficiary or payer). The key may arrive as a serialized user.
func cmdAdminGetSub(ctx context.Context, env *Env, req *Request) (*Result, error) {
	q := env.DB.WithContext(ctx)
	switch {
	case req.Uint64("id") != 0:
		id := req.Uint64("id")
		q = q.Where("id = ? OR plan_added = ?", id, id)
	case req.Str("email") != "":
		q = q.Where("email = ?", req.Str("email"))
	default:
		key := req.Str("key")
		if !identity.ValidKey(key) {
			parsed, errParse := identity.Parse(key)
			if errParse != nil {
				log.WithError(errParse).Error("command: admin search key unparseable")
				return nil, ErrInvalid
			}
			key = parsed.PublicKey
		}
		q = q.Where("benificiary_pubkey = ? OR pubkey = ?", key, key)
	}

	var rows []models.Subscription
	if errFind := q.Find(&rows).Error; errFind != nil {
		log.WithError(errFind).Error("command: admin search failed")
		return nil, ErrDBGet
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, subJSON(&rows[i]))
	}
	return &Result{Content: out}, nil
}

// Columns the admin panel is allowed to rewrite.
var adminEditableColumns = map[string]bool{
	"pubkey":             true,
	"benificiary_pubkey": true,
	"benificiary_domain": true,
	"benificiary_user":   true,
	"domain":             true,
	"customer":           true,
	"transaction":        true,
	"gift_note":          true,
	"plan":               true,
	"plan_added":         true,
	"admin_added":        true,
	"status":             true,
	"create_time":        true,
	"end_time":           true,
	"email":              true,
}

// cmdAdminUpdateSub rewrites a subscription row and optionally pushes a
// trial extension to the provider: -1 ends the trial now, a positive
// value sets it that many days out.
func cmdAdminUpdateSub(ctx context.Context, env *Env, req *Request) (*Result, error) {
	data := req.Map("data")
	if data == nil {
		return nil, ErrInvalid
	}

	var id uint64
	if v, ok := data["id"].(float64); ok {
		id = uint64(v)
	}
	if id == 0 {
		return nil, ErrInvalid
	}
	var trial int64
	if v, ok := data["trial"].(float64); ok {
		trial = int64(v)
	}

	updates := map[string]any{}
	for column, value := range data {
		if !adminEditableColumns[column] {
			continue
		}
		// The panel sends cleared fields as empty strings.
		if s, ok := value.(string); ok && s == "" {
			switch column {
			case "benificiary_user", "gift_note", "email":
				value = ""
			case "end_time":
				value = 0
			default:
				continue
			}
		}
		updates[column] = value
	}

	if len(updates) > 0 {
		if errUpdate := env.DB.WithContext(ctx).
			Model(&models.Subscription{}).
			Where("id = ?", id).
			Updates(updates).Error; errUpdate != nil {
			log.WithError(errUpdate).Errorf("command: admin update %d failed", id)
			return nil, ErrDBPut
		}
	}

	transaction, _ := data["transaction"].(string)
	if trial != 0 && transaction != "" {
		var end time.Time
		if trial != -1 {
			end = time.Now().AddDate(0, 0, int(trial))
		}
		if errTrial := env.Provider.SetTrialEnd(ctx, transaction, end); errTrial != nil {
			log.WithError(errTrial).Errorf("command: push trial end for %s failed", transaction)
			return nil, ErrProvider
		}
	}

	if env.Billing.Kick != nil {
		env.Billing.Kick()
	}
	return &Result{Content: gin.H{}}, nil
}

// cmdAdminForceSync clears a row's reconciliation watermark so the next
// pass re-checks it against the provider.
func cmdAdminForceSync(ctx context.Context, env *Env, req *Request) (*Result, error) {
	id := req.Uint64("id")
	if errUpdate := env.DB.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Update("last_checked_stripe", 0).Error; errUpdate != nil {
		log.WithError(errUpdate).Errorf("command: force sync %d failed", id)
		return nil, ErrDBPut
	}
	if env.Billing.Kick != nil {
		env.Billing.Kick()
	}
	return &Result{Content: gin.H{}}, nil
}

// cmdAdminGift grants a plan to a user without a payment behind it.
func cmdAdminGift(ctx context.Context, env *Env, req *Request) (*Result, error) {
	beneficiary, errParse := identity.Parse(req.Str("key"))
	if errParse != nil {
		log.WithError(errParse).Error("command: gift beneficiary unparseable")
		return nil, ErrInvalid
	}
	if _, ok := env.Plans.Get(req.Str("plan")); !ok {
		log.Errorf("command: gift of unknown plan %q", req.Str("plan"))
		return nil, ErrNoPlan
	}

	exists, errExist := env.Billing.HasEnabledSubscription(ctx, beneficiary.PublicKey, beneficiary.Domain)
	if errExist != nil {
		log.WithError(errExist).Error("command: gift existing check failed")
		return nil, ErrDBGet
	}
	if exists {
		// Reported in-band so the admin panel can show it next to the form.
		return &Result{Content: gin.H{"error": string(ErrExists)}}, nil
	}

	id, errSub := env.Billing.Subscribe(ctx, billing.SubscribeParams{
		Domain:            env.Domain,
		Pubkey:            req.PublicKey,
		BenificiaryDomain: beneficiary.Domain,
		BenificiaryPubkey: beneficiary.PublicKey,
		BenificiaryUser:   beneficiary.Username,
		GiftNote:          req.Str("note"),
		Plan:              req.Str("plan"),
		Customer:          models.SentinelAdmin,
		Transaction:       models.SentinelAdmin,
		Status:            models.StatusActive,
		AdminAdded:        true,
	})
	if errSub != nil {
		log.WithError(errSub).Error("command: gift insert failed")
		return nil, ErrDBPut
	}
	return &Result{Content: gin.H{"id": id}}, nil
}
