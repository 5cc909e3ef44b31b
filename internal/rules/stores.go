package rules

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
	"github.com/joseph-ayodele/receipt-rewards/internal/settings"
)

// effectiveTaxID prefers the configured override over the catalog value.
func effectiveTaxID(s entity.Store, cfg *settings.Snapshot) string {
	if o, ok := cfg.Override(s.ID); ok && o.TaxID != "" {
		return o.TaxID
	}
	return settings.NormalizeTaxID(s.TaxID)
}

func effectiveBranch(s entity.Store, cfg *settings.Snapshot) string {
	if o, ok := cfg.Override(s.ID); ok && o.BranchName != "" {
		return o.BranchName
	}
	return s.BranchName
}

// resolveStore returns the declared store, or the single catalog store the
// receipt's tax id (narrowed by branch text) points at. A nil store comes
// with the reason the customer is shown.
func resolveStore(fields entity.ExtractedFields, ec EvalContext, cfg *settings.Snapshot) (*entity.Store, string) {
	if ec.DeclaredStore != nil {
		s := *ec.DeclaredStore
		return &s, ""
	}

	var candidates []entity.Store
	if fields.TaxID != "" {
		for _, s := range ec.KnownStores {
			if effectiveTaxID(s, cfg) == fields.TaxID {
				candidates = append(candidates, s)
			}
		}
		if len(candidates) == 1 {
			s := candidates[0]
			return &s, ""
		}
		if len(candidates) == 0 {
			return nil, fmt.Sprintf("tax id %s does not match any participating store; please select the store of purchase", fields.TaxID)
		}
	} else {
		candidates = ec.KnownStores
	}

	if branch := strings.ToLower(strings.TrimSpace(fields.BranchText)); branch != "" {
		var hits []entity.Store
		for _, s := range candidates {
			b := strings.ToLower(effectiveBranch(s, cfg))
			if b != "" && (strings.Contains(branch, b) || strings.Contains(b, branch)) {
				hits = append(hits, s)
			}
		}
		if len(hits) == 1 {
			s := hits[0]
			return &s, ""
		}
	}

	if fields.TaxID != "" {
		return nil, fmt.Sprintf("tax id %s is shared by %d stores; please select the branch of purchase", fields.TaxID, len(candidates))
	}
	return nil, "store could not be identified from the receipt (no tax id found); please select the store of purchase"
}
