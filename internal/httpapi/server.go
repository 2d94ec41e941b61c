// Package httpapi wires the public HTTP surface: the signed command
// endpoints, the provider webhook, and the quota endpoints the document
// product polls.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/padworks/accounts/internal/billing"
	"github.com/padworks/accounts/internal/challenge"
	"github.com/padworks/accounts/internal/command"
	"github.com/padworks/accounts/internal/models"
	"github.com/padworks/accounts/internal/plans"
	"github.com/padworks/accounts/internal/provider"
	"github.com/padworks/accounts/internal/quota"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Server holds the handler dependencies.
type Server struct {
	DB      *gorm.DB
	Billing *billing.Service
	Plans   plans.Table

	// Domain is the host of the connected product instance.
	Domain string
	// IgnoredDomains lists instance domains whose requests are dropped.
	IgnoredDomains []string

	Protocol *command.Protocol
	Verify   provider.WebhookVerifier

	// lookupIP resolves a host for the client address check. Replaceable
	// in tests; nil uses the default resolver.
	lookupIP func(ctx context.Context, network, host string) ([]net.IP, error)

	cachedPlans gin.H
}

// WithLookup overrides DNS resolution; for tests.
func (s *Server) WithLookup(lookup func(ctx context.Context, network, host string) ([]net.IP, error)) *Server {
	s.lookupIP = lookup
	return s
}

// Routes registers all endpoints on the engine.
func (s *Server) Routes(r *gin.Engine) {
	r.POST("/api/auth", s.Protocol.Handle)
	r.POST("/api/authblob", s.Protocol.HandleUpload)
	r.POST("/api/stripewebhook", s.handleWebhook)
	r.POST("/api/getquota", s.handleGetQuota)
	r.POST("/api/getauthorized", s.handleGetAuthorized)
	r.GET("/api/plans", s.handlePlans)
}

// handleWebhook processes provider events: completed checkouts become
// subscription rows, update/delete events queue a re-check.
func (s *Server) handleWebhook(c *gin.Context) {
	payload, errRead := c.GetRawData()
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read error"})
		return
	}
	event, errVerify := s.Verify(payload, c.GetHeader("Stripe-Signature"))
	if errVerify != nil {
		log.WithError(errVerify).Warn("httpapi: webhook signature rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook Error"})
		return
	}

	ctx := c.Request.Context()
	switch event.Type {
	case provider.EventCheckoutCompleted:
		s.handleCheckoutCompleted(c, event)
	case provider.EventSubscriptionUpdated, provider.EventSubscriptionDeleted:
		if errMark := s.Billing.MarkForResync(ctx, event.SubscriptionID); errMark != nil {
			log.WithError(errMark).Error("httpapi: webhook resync mark failed")
			c.JSON(http.StatusInternalServerError, gin.H{"message": "EDBUPDATE", "location": "webhook"})
			return
		}
		c.JSON(http.StatusOK, gin.H{})
	default:
		c.Status(http.StatusOK)
	}
}

func (s *Server) handleCheckoutCompleted(c *gin.Context, event provider.WebhookEvent) {
	ctx := c.Request.Context()
	checkout := event.Checkout
	if checkout == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "EINVAL", "location": "webhook_checkout"})
		return
	}

	// The checkout was linked to the user through a stored token so the
	// key never reached the provider. The metadata copy is the fallback
	// for checkouts whose token insert failed.
	domain := checkout.Metadata["domain"]
	pubkey := checkout.Metadata["key"]
	user := checkout.Metadata["user"]
	token := checkout.ClientReferenceID
	if token != "" {
		var row models.CheckoutToken
		errFind := s.DB.WithContext(ctx).Where("token = ?", token).First(&row).Error
		switch {
		case errFind == nil:
			domain = row.Domain
			pubkey = row.Pubkey
		case pubkey == "" || domain == "":
			log.WithError(errFind).Error("httpapi: unknown checkout token and no metadata")
			c.JSON(http.StatusInternalServerError, gin.H{"message": "ENOENT", "location": "webhook_token"})
			return
		}
	}
	if domain == "" || pubkey == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "EINVAL", "location": "webhook_subscribe_domain"})
		return
	}
	if domain != s.Domain {
		log.Errorf("httpapi: checkout for foreign domain %s", domain)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "EINVAL", "location": "webhook_subscribe_domain"})
		return
	}

	id, errSub := s.Billing.Subscribe(ctx, billing.SubscribeParams{
		Domain:            domain,
		Pubkey:            pubkey,
		BenificiaryDomain: domain,
		BenificiaryPubkey: pubkey,
		BenificiaryUser:   user,
		Customer:          checkout.CustomerID,
		Transaction:       checkout.SubscriptionID,
		IAT:               event.Created.Unix(),
		Status:            models.StatusActive,
	})
	if errSub != nil {
		log.WithError(errSub).Error("httpapi: webhook subscribe failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "EINVAL", "location": "webhook_subscribe"})
		return
	}

	if token != "" {
		if errMark := s.DB.WithContext(ctx).
			Model(&models.CheckoutToken{}).
			Where("token = ?", token).
			Update("sub_time", s.Billing.NowMs()).Error; errMark != nil {
			log.WithError(errMark).Warn("httpapi: mark checkout token failed")
		}
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

type quotaRequest struct {
	Domain    string `json:"domain"`
	Subdomain string `json:"subdomain"`
}

var (
	ip4Pattern = regexp.MustCompile(`^[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}$`)
	ip6Pattern = regexp.MustCompile(`^[a-fA-F0-9:]+$`)
)

// handleGetQuota serves the per-user entitlement map the document product
// applies as storage limits. The caller must be the connected instance,
// verified by resolving the requesting subdomain back to the client
// address.
func (s *Server) handleGetQuota(c *gin.Context) {
	var req quotaRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "EINVAL", "location": "getquota"})
		return
	}
	if req.Subdomain == "" {
		req.Subdomain = req.Domain
	}

	if req.Domain != s.Domain && req.Subdomain != s.Domain {
		c.Status(http.StatusForbidden)
		return
	}
	if req.Domain == "" || !strings.HasSuffix(req.Subdomain, req.Domain) {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "EINVAL", "location": "getquota"})
		return
	}
	if !s.verifyClient(c, req.Subdomain) {
		return
	}

	var rows []models.Subscription
	if errFind := s.DB.WithContext(c.Request.Context()).
		Where("status IN ?", models.EnabledStatuses).
		Where("benificiary_domain = ?", req.Domain).
		Find(&rows).Error; errFind != nil {
		log.WithError(errFind).Error("httpapi: quota lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "EDBGET", "location": "getquota"})
		return
	}
	c.JSON(http.StatusOK, quota.Aggregate(rows, s.Plans))
}

// verifyClient checks that the request comes from the instance it claims
// to be: the X-Real-IP set by the front proxy must match the address the
// subdomain resolves to. Local instances skip the check.
func (s *Server) verifyClient(c *gin.Context, subdomain string) bool {
	host := subdomain
	if h, _, errSplit := net.SplitHostPort(subdomain); errSplit == nil {
		host = h
	}
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	// X-Real-IP is only meaningful behind the front proxy, which talks
	// to us over loopback.
	peer := c.Request.RemoteAddr
	if h, _, errSplit := net.SplitHostPort(peer); errSplit == nil {
		peer = h
	}
	if ip := net.ParseIP(peer); ip == nil || !ip.IsLoopback() {
		log.Errorf("httpapi: direct connection from %q, expected the front proxy", peer)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "ECONF", "location": "getquota"})
		return false
	}

	client := c.GetHeader("X-Real-IP")
	if client == "" {
		log.Error("httpapi: missing X-Real-IP")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "ECONF", "location": "getquota"})
		return false
	}
	if i := strings.IndexByte(client, ','); i >= 0 {
		client = client[:i]
	}

	network := "ip4"
	if !ip4Pattern.MatchString(client) {
		if !ip6Pattern.MatchString(client) {
			log.Errorf("httpapi: unexpected client address %q", client)
			c.JSON(http.StatusInternalServerError, gin.H{"message": "ECONF", "location": "getquota"})
			return false
		}
		network = "ip6"
	}

	lookup := s.lookupIP
	if lookup == nil {
		lookup = net.DefaultResolver.LookupIP
	}
	addrs, errLookup := lookup(c.Request.Context(), network, host)
	if errLookup != nil {
		c.JSON(http.StatusOK, gin.H{"message": "ELOOKUP", "location": "getquota"})
		return false
	}
	want := net.ParseIP(client)
	for _, addr := range addrs {
		if addr.Equal(want) {
			return true
		}
	}
	log.Errorf("httpapi: client %s does not match %s", client, host)
	c.JSON(http.StatusInternalServerError, gin.H{"message": "EAUTH", "location": "getquota"})
	return false
}

// Latest product release advertised to connected instances.
const (
	latestVersion    = "2025.6.0"
	latestVersionURL = "https://github.com/padworks/pad/releases/" + latestVersion
)

// handleGetAuthorized answers legacy authorization polls with an
// update-available notice.
func (s *Server) handleGetAuthorized(c *gin.Context) {
	var req quotaRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "EINVAL", "location": "getauthorized"})
		return
	}
	for _, ignored := range s.IgnoredDomains {
		if req.Domain == ignored {
			c.Status(http.StatusNoContent)
			return
		}
	}

	k, errTxid := challenge.NewTxid()
	if errTxid != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "EINVAL", "location": "getauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":         "EINVAL",
		"location":        "getauthorized",
		"k":               k,
		"version":         latestVersion,
		"updateAvailable": latestVersionURL,
	})
}

// handlePlans serves plan metadata for the pricing page. Provider price
// ids stay server-side.
func (s *Server) handlePlans(c *gin.Context) {
	if s.cachedPlans == nil {
		out := gin.H{}
		for name, def := range s.Plans {
			out[name] = gin.H{
				"quota":  def.QuotaGiB,
				"drives": def.Drives,
				"org":    def.Org,
			}
		}
		s.cachedPlans = out
	}
	c.JSON(http.StatusOK, s.cachedPlans)
}
