// Package quota derives per-user storage limits from the enabled
// subscription rows of a domain. The projection is recomputed on every
// request and never stored, so it self-heals from upstream anomalies.
package quota

import (
	"sort"

	"github.com/padworks/accounts/internal/models"
	"github.com/padworks/accounts/internal/plans"
)

const bytesPerGiB = 1024 * 1024 * 1024

// Entitlement is the quota granted to one user key.
type Entitlement struct {
	Limit int64    `json:"limit"` // Bytes.
	Plan  string   `json:"plan"`
	Note  string   `json:"note"`
	Users []string `json:"users"` // All beneficiary keys sharing the same root.
}

type group struct {
	limit int64
	plan  string
	note  string
	users []string
}

// Aggregate groups enabled rows by root subscription and flattens them to
// a per-user view where each user gets the largest limit among the roots
// they belong to.
func Aggregate(rows []models.Subscription, table plans.Table) map[string]Entitlement {
	groups := make(map[uint64]*group)

	// Roots first so derived rows can attach regardless of row order.
	for _, row := range rows {
		if plans.Base(row.Plan) == models.PlanShared {
			continue
		}
		def, ok := table.Get(row.Plan)
		if !ok || def.QuotaGiB <= 0 {
			continue
		}
		groups[row.ID] = &group{
			limit: def.QuotaGiB * bytesPerGiB,
			plan:  plans.Base(row.Plan),
			note:  row.GiftNote,
			users: []string{row.BenificiaryPubkey},
		}
	}
	for _, row := range rows {
		if plans.Base(row.Plan) != models.PlanShared {
			continue
		}
		// Derived rows without a surviving root grant nothing.
		g, ok := groups[row.PlanAdded]
		if !ok {
			continue
		}
		g.users = append(g.users, row.BenificiaryPubkey)
	}

	rootIDs := make([]uint64, 0, len(groups))
	for id := range groups {
		rootIDs = append(rootIDs, id)
	}
	// Flatten in ascending root order so ties resolve the same way on
	// every recomputation.
	sort.Slice(rootIDs, func(i, j int) bool { return rootIDs[i] < rootIDs[j] })

	out := make(map[string]Entitlement)
	for _, id := range rootIDs {
		g := groups[id]
		for _, key := range g.users {
			existing, ok := out[key]
			if ok && existing.Limit > g.limit {
				continue
			}
			out[key] = Entitlement{
				Limit: g.limit,
				Plan:  g.plan,
				Note:  g.note,
				Users: g.users,
			}
		}
	}
	return out
}
