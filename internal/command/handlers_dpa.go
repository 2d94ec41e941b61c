package command

import (
	"context"
	"errors"
	"time"

	"github.com/padworks/accounts/internal/dpa"
	"github.com/padworks/accounts/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// orgSubscription finds the enabled organization subscription benefiting
// the given key on the connected instance. Admin-gifted org plans count.
func orgSubscription(ctx context.Context, env *Env, pubkey string) (*models.Subscription, error) {
	var row models.Subscription
	errFind := env.DB.WithContext(ctx).
		Where("status IN ?", models.EnabledStatuses).
		Where("plan IN ?", env.Plans.OrgPlans()).
		Where("benificiary_pubkey = ? AND benificiary_domain = ?", pubkey, env.Domain).
		First(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNoPlan
		}
		return nil, errFind
	}
	return &row, nil
}

// agreementFor loads the agreement tied to the key's org subscription.
// Returns the subscription and a nil agreement when none was created yet.
func agreementFor(ctx context.Context, env *Env, pubkey string) (*models.Subscription, *models.DPA, error) {
	sub, errSub := orgSubscription(ctx, env, pubkey)
	if errSub != nil {
		return nil, nil, errSub
	}
	var row models.DPA
	errFind := env.DB.WithContext(ctx).Where("sub_id = ?", sub.ID).First(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return sub, nil, nil
		}
		return nil, nil, errFind
	}
	return sub, &row, nil
}

func dpaJSON(d *models.DPA) gin.H {
	return gin.H{
		"id":               d.ID,
		"sub_id":           d.SubID,
		"status":           d.Status,
		"create_time":      d.CreateTime,
		"company_name":     d.CompanyName,
		"company_user":     d.CompanyUser,
		"company_location": d.CompanyLocation,
		"company_id":       d.CompanyID,
		"pdf_id":           d.PDFID,
		"signed_on":        d.SignedOn,
	}
}

// cmdDPAGet reports the caller's agreement state: not allowed without an
// org plan, new when allowed but not yet created, otherwise the record.
func cmdDPAGet(ctx context.Context, env *Env, req *Request) (*Result, error) {
	_, agreement, errGet := agreementFor(ctx, env, req.PublicKey)
	if errors.Is(errGet, ErrNoPlan) {
		return &Result{Content: gin.H{"allowed": false}}, nil
	}
	if errGet != nil {
		log.WithError(errGet).Error("command: dpa lookup failed")
		return nil, ErrDBGet
	}
	if agreement == nil {
		return &Result{Content: gin.H{"allowed": true, "new": true}}, nil
	}
	return &Result{Content: gin.H{"allowed": true, "data": dpaJSON(agreement)}}, nil
}

// documentFrom maps the submitted company fields onto a Document.
func documentFrom(data map[string]any) dpa.Document {
	str := func(key string) string {
		v, _ := data[key].(string)
		return v
	}
	doc := dpa.Document{
		Name:           str("name"),
		Represented:    str("represented"),
		Located1:       str("located1"),
		Located2:       str("located2"),
		Identification: str("identification"),
		Language:       str("language"),
	}
	if doc.Language == "" {
		doc.Language = "en"
	}
	return doc
}

// createAgreement generates the filled document and records the agreement
// against the key's org subscription.
func createAgreement(ctx context.Context, env *Env, pubkey string, data map[string]any) (*Result, error) {
	sub, existing, errGet := agreementFor(ctx, env, pubkey)
	if errors.Is(errGet, ErrNoPlan) {
		return &Result{Content: gin.H{"allowed": false}}, nil
	}
	if errGet != nil {
		log.WithError(errGet).Error("command: dpa create lookup failed")
		return nil, ErrDBGet
	}
	if existing != nil {
		return nil, ErrExists
	}

	doc := documentFrom(data)
	now := time.Now()
	pdfID := uuid.NewString()
	if errGen := env.DPAGen.Generate(doc, now.Format("Mon Jan 2 2006"), pdfID); errGen != nil {
		log.WithError(errGen).Error("command: dpa document generation failed")
		return nil, ErrDocument
	}

	row := models.DPA{
		SubID:           sub.ID,
		Status:          true,
		CreateTime:      now.UnixMilli(),
		CompanyName:     doc.Name,
		CompanyUser:     doc.Represented,
		CompanyLocation: doc.Located1 + " " + doc.Located2,
		CompanyID:       doc.Identification,
		PDFID:           pdfID,
	}
	if errCreate := env.DB.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Error("command: dpa insert failed")
		return nil, ErrDBPut
	}
	return &Result{Content: gin.H{"done": true}}, nil
}

// cmdDPACreate creates the caller's agreement.
func cmdDPACreate(ctx context.Context, env *Env, req *Request) (*Result, error) {
	return createAgreement(ctx, env, req.PublicKey, req.Map("data"))
}

// cmdDPASign stores an uploaded signed copy against the caller's
// agreement and marks it signed.
func cmdDPASign(ctx context.Context, env *Env, req *Request) (*Result, error) {
	_, agreement, errGet := agreementFor(ctx, env, req.PublicKey)
	if errGet != nil {
		env.DPAFiles.Discard(req.FilePath)
		log.WithError(errGet).Error("command: dpa sign lookup failed")
		if errors.Is(errGet, ErrNoPlan) {
			return nil, ErrNoPlan
		}
		return nil, ErrDBGet
	}
	if agreement == nil {
		env.DPAFiles.Discard(req.FilePath)
		return nil, ErrNoPlan
	}
	if agreement.Signed() {
		env.DPAFiles.Discard(req.FilePath)
		return nil, ErrSigned
	}
	if req.FilePath == "" {
		return nil, ErrInvalid
	}

	if errStore := env.DPAFiles.StoreSigned(req.FilePath, agreement.PDFID); errStore != nil {
		log.WithError(errStore).Error("command: store signed dpa failed")
		return nil, ErrDocument
	}
	if errUpdate := env.DB.WithContext(ctx).
		Model(&models.DPA{}).
		Where("id = ?", agreement.ID).
		Update("signed_on", env.Billing.NowMs()).Error; errUpdate != nil {
		log.WithError(errUpdate).Error("command: mark dpa signed failed")
		return nil, ErrDBPut
	}
	return &Result{Content: gin.H{"done": true}}, nil
}

// cmdDPADownload streams the agreement document. Admins may fetch any
// document by file id; users get their own, signed copy when present.
func cmdDPADownload(ctx context.Context, env *Env, req *Request) (*Result, error) {
	if fileID := req.Str("id"); env.IsAdmin(req.PublicKey) && fileID != "" {
		path := env.DPAFiles.SignedPath(fileID)
		if !req.Bool("signed") {
			path = env.DPAFiles.Path(fileID)
		}
		return &Result{DownloadPath: path}, nil
	}

	_, agreement, errGet := agreementFor(ctx, env, req.PublicKey)
	if errGet != nil || agreement == nil {
		log.WithError(errGet).Error("command: dpa download lookup failed")
		return nil, ErrNotFound
	}
	path := env.DPAFiles.Path(agreement.PDFID)
	if agreement.Signed() {
		path = env.DPAFiles.SignedPath(agreement.PDFID)
	}
	return &Result{DownloadPath: path}, nil
}

// cmdAdminGetDPA lists all open agreements.
func cmdAdminGetDPA(ctx context.Context, env *Env, _ *Request) (*Result, error) {
	var rows []models.DPA
	if errFind := env.DB.WithContext(ctx).Where("status = ?", true).Find(&rows).Error; errFind != nil {
		log.WithError(errFind).Error("command: admin dpa list failed")
		return nil, ErrDBGet
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, dpaJSON(&rows[i]))
	}
	return &Result{Content: out}, nil
}

// cmdAdminCreateDPA creates an agreement on behalf of another user.
func cmdAdminCreateDPA(ctx context.Context, env *Env, req *Request) (*Result, error) {
	data := req.Map("data")
	userKey, _ := data["userKey"].(string)
	if userKey == "" {
		return nil, ErrInvalid
	}
	return createAgreement(ctx, env, userKey, data)
}

// cmdAdminCancelDPA deletes an agreement and its documents.
func cmdAdminCancelDPA(ctx context.Context, env *Env, req *Request) (*Result, error) {
	id := req.Uint64("id")
	var row models.DPA
	if errFind := env.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		log.WithError(errFind).Errorf("command: admin dpa lookup %d failed", id)
		return nil, ErrDBGet
	}
	if errDelete := env.DB.WithContext(ctx).Delete(&models.DPA{}, row.ID).Error; errDelete != nil {
		log.WithError(errDelete).Errorf("command: admin dpa delete %d failed", id)
		return nil, ErrDBPut
	}
	if errRemove := env.DPAGen.Remove(row.PDFID); errRemove != nil {
		log.WithError(errRemove).Warnf("command: remove dpa document %s failed", row.PDFID)
	}
	env.DPAFiles.RemoveSigned(row.PDFID)
	return &Result{Content: gin.H{}}, nil
}

// cmdAdminUnsignDPA reverts an agreement to unsigned and drops the
// uploaded copy.
func cmdAdminUnsignDPA(ctx context.Context, env *Env, req *Request) (*Result, error) {
	id := req.Uint64("id")
	var row models.DPA
	if errFind := env.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		log.WithError(errFind).Errorf("command: admin dpa lookup %d failed", id)
		return nil, ErrDBGet
	}
	if errUpdate := env.DB.WithContext(ctx).
		Model(&models.DPA{}).
		Where("id = ?", row.ID).
		Update("signed_on", 0).Error; errUpdate != nil {
		log.WithError(errUpdate).Errorf("command: admin dpa unsign %d failed", id)
		return nil, ErrDBPut
	}
	env.DPAFiles.RemoveSigned(row.PDFID)
	return &Result{Content: gin.H{}}, nil
}
