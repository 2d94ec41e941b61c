// Package command implements the signed two-phase command protocol and
// the table of privileged commands behind it. Phase one issues a
// challenge binding a transaction id to the exact command payload; phase
// two verifies a detached signature over those bytes and dispatches the
// command exactly once.
package command

import (
	"context"

	"github.com/padworks/accounts/internal/billing"
	"github.com/padworks/accounts/internal/dpa"
	"github.com/padworks/accounts/internal/plans"
	"github.com/padworks/accounts/internal/provider"

	"gorm.io/gorm"
)

// Code is a symbolic error reported to the client. Details never leave
// the server log.
type Code string

// Error implements the error interface.
func (c Code) Error() string { return string(c) }

// Symbolic command error codes.
const (
	ErrInvalid        Code = "EINVAL"
	ErrAuth           Code = "EAUTH"
	ErrForbidden      Code = "EFORBIDDEN"
	ErrNotFound       Code = "ENOTFOUND"
	ErrExists         Code = "EEXISTS"
	ErrLimit          Code = "ELIMIT"
	ErrNoSub          Code = "ENOSUB"
	ErrTooMany        Code = "ETOOMANY"
	ErrNoPlan         Code = "NOPLAN"
	ErrDBGet          Code = "EDBGET"
	ErrDBPut          Code = "EDBPUT"
	ErrProvider       Code = "ESTRIPE"
	ErrDocument       Code = "EPDF"
	ErrSigned         Code = "ESIGN"
	ErrNotImplemented Code = "NOT_IMPLEMENTED"
)

// Env carries the dependencies handlers run against.
type Env struct {
	DB       *gorm.DB
	Billing  *billing.Service
	Provider provider.Client
	Plans    plans.Table

	// Domain is the host of the connected product instance; commands are
	// rejected when they target another domain.
	Domain string
	// Origin is the product origin URL used for checkout redirects.
	Origin string

	// Admins maps public keys to admin capability.
	Admins map[string]bool

	DPAFiles *dpa.Files
	DPAGen   dpa.Generator
}

// IsAdmin reports whether the key is on the static admin allowlist.
func (e *Env) IsAdmin(pubkey string) bool {
	return e.Admins[pubkey]
}

// Result is what a handler produced: a JSON-encodable body or a file to
// download.
type Result struct {
	Content      any
	DownloadPath string
}

// HandlerFunc runs one authenticated command.
type HandlerFunc func(ctx context.Context, env *Env, req *Request) (*Result, error)

// Spec declares a command: its handler and whether the dispatcher must
// require admin capability before running it.
type Spec struct {
	Admin   bool
	Handler HandlerFunc
}

// Table maps command names to their specs.
type Table struct {
	commands map[string]Spec
}

// NewTable constructs an empty Table.
func NewTable() *Table {
	return &Table{commands: make(map[string]Spec)}
}

// Register adds a command to the table.
func (t *Table) Register(name string, spec Spec) {
	t.commands[name] = spec
}

// Lookup returns the Spec registered under name.
func (t *Table) Lookup(name string) (Spec, bool) {
	spec, ok := t.commands[name]
	return spec, ok
}
