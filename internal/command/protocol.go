package command

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/padworks/accounts/internal/challenge"
	"github.com/padworks/accounts/internal/identity"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// maxPayloadBytes bounds the serialized challenge payload.
const maxPayloadBytes = 10000

// sigLength is the base64 length of a 64-byte detached signature.
const sigLength = 88

// Protocol dispatches the two phases of the signed command protocol.
type Protocol struct {
	table *Table
	store *challenge.Store
	env   *Env
}

// NewProtocol constructs a Protocol.
func NewProtocol(table *Table, store *challenge.Store, env *Env) *Protocol {
	return &Protocol{table: table, store: store, env: env}
}

// Handle serves the JSON command endpoint: bodies with a txid answer a
// challenge, bodies with a command request one.
func (p *Protocol) Handle(c *gin.Context) {
	var body map[string]any
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid request"})
		return
	}
	if _, ok := body["txid"]; ok {
		p.handleResponse(c, body, "")
		return
	}
	if _, ok := body["command"]; ok {
		p.handleCommand(c, body)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid request"})
}

// HandleUpload serves the upload variant: a multipart form carrying the
// challenge response fields plus a file attachment.
func (p *Protocol) HandleUpload(c *gin.Context) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		p.Handle(c)
		return
	}

	body := map[string]any{}
	if txid := c.PostForm("txid"); txid != "" {
		body["txid"] = txid
	}
	if sig := c.PostForm("sig"); sig != "" {
		body["sig"] = sig
	}

	filePath := ""
	if fileHeader, errFile := c.FormFile("blob"); errFile == nil {
		dst := filepath.Join(os.TempDir(), "upload-"+uuid.NewString())
		if errSave := c.SaveUploadedFile(fileHeader, dst); errSave != nil {
			log.WithError(errSave).Error("command: save upload failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload error"})
			return
		}
		filePath = dst
	}

	p.handleResponse(c, body, filePath)
}

// handleCommand is phase one: validate the request and issue a challenge.
func (p *Protocol) handleCommand(c *gin.Context, body map[string]any) {
	command, _ := body["command"].(string)
	if _, ok := p.table.Lookup(command); !ok {
		log.Errorf("command: unsupported command %q", command)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid command"})
		return
	}

	publicKey, _ := body["publicKey"].(string)
	if len(publicKey) != identity.KeyLength {
		log.Errorf("command: invalid public key for %q", command)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid key"})
		return
	}

	txid, errTxid := challenge.NewTxid()
	if errTxid != nil {
		log.WithError(errTxid).Error("command: txid generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	date := time.Now().UnixMilli()

	body["txid"] = txid
	body["date"] = date
	payload, errMarshal := json.Marshal(body)
	if errMarshal != nil {
		log.WithError(errMarshal).Error("command: marshal challenge failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if len(payload) > maxPayloadBytes {
		log.Errorf("command: oversized payload (%d bytes) for %q", len(payload), command)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "TOO_LONG"})
		return
	}

	// The subsequent response may be handled by a different worker; only
	// the challenge store is shared state.
	p.store.Put(txid, payload)
	c.JSON(http.StatusOK, gin.H{"txid": txid, "date": date})
}

// handleResponse is phase two: consume the challenge, verify the
// signature over the exact stored bytes, and run the command.
func (p *Protocol) handleResponse(c *gin.Context, body map[string]any, filePath string) {
	cleanup := func() {
		if filePath != "" {
			if errRemove := os.Remove(filePath); errRemove != nil && !os.IsNotExist(errRemove) {
				log.WithError(errRemove).Warn("command: remove stale upload failed")
			}
		}
	}

	for key := range body {
		if key != "txid" && key != "sig" {
			// A response carries exactly two fields; anything else is
			// malformed.
			log.Errorf("command: extraneous response field %q", key)
			cleanup()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "extraneous parameters"})
			return
		}
	}

	txid, _ := body["txid"].(string)
	if len(txid) != challenge.TxidLength {
		log.Error("command: malformed txid in response")
		cleanup()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid txid"})
		return
	}
	sig, _ := body["sig"].(string)
	if len(sig) != sigLength {
		log.Error("command: malformed signature in response")
		cleanup()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Missing signature"})
		return
	}

	payload, ok := p.store.Take(txid)
	if !ok {
		// Unknown, expired, or already consumed: replays land here.
		log.Errorf("command: challenge not found for txid %s", txid)
		cleanup()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Unexpected response"})
		return
	}

	req, errParse := parseRequest(payload)
	if errParse != nil {
		log.WithError(errParse).Error("command: parse stored challenge failed")
		cleanup()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Unexpected response"})
		return
	}

	pub, errKey := identity.DecodeKey(req.PublicKey)
	if errKey != nil {
		log.WithError(errKey).Error("command: invalid public key in stored challenge")
		cleanup()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid public key"})
		return
	}

	spec, ok := p.table.Lookup(req.Command)
	if !ok {
		log.Errorf("command: no handler for %q", req.Command)
		cleanup()
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Not implemented"})
		return
	}

	rawSig, errSig := base64.StdEncoding.DecodeString(sig)
	if errSig != nil || len(rawSig) != ed25519.SignatureSize {
		log.Error("command: signature decoding failed")
		cleanup()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "decoding error"})
		return
	}

	if !ed25519.Verify(pub, payload, rawSig) {
		log.Errorf("command: signature verification failed for key %s", req.PublicKey)
		cleanup()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed signature validation"})
		return
	}

	if spec.Admin && !p.env.IsAdmin(req.PublicKey) {
		log.Errorf("command: %q requires admin, key %s denied", req.Command, req.PublicKey)
		cleanup()
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Execution error",
			"errorCode": string(ErrForbidden),
		})
		return
	}

	req.FilePath = filePath

	result, errRun := spec.Handler(c.Request.Context(), p.env, req)
	if errRun != nil {
		code := ErrInvalid
		var known Code
		if errors.As(errRun, &known) {
			code = known
		} else {
			log.WithError(errRun).Errorf("command: %q failed", req.Command)
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Execution error",
			"errorCode": string(code),
		})
		return
	}

	if result != nil && result.DownloadPath != "" {
		c.FileAttachment(result.DownloadPath, filepath.Base(result.DownloadPath))
		return
	}
	content := any(gin.H{})
	if result != nil && result.Content != nil {
		content = result.Content
	}
	c.JSON(http.StatusOK, content)
}
