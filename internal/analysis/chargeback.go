package analysis

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

// Chargeback attributes in-scope cost to owners by the first configured tag key
// present on each record. Records carrying none of the keys are untagged.
func Chargeback(records []domain.CostRecord, tagKeys []string) *domain.ChargebackSummary {
	byOwner := map[string]decimal.Decimal{}
	tagged, untagged := decimal.Zero, decimal.Zero
	untaggedNames := map[string]bool{}

	for _, r := range records {
		if r.IsExcludedResource {
			continue
		}
		owner := ownerOf(r.Tags, tagKeys)
		if owner == "" {
			untagged = untagged.Add(r.Cost)
			untaggedNames[r.ResourceName] = true
			continue
		}
		byOwner[owner] = byOwner[owner].Add(r.Cost)
		tagged = tagged.Add(r.Cost)
	}

	out := &domain.ChargebackSummary{
		TagKeys:           tagKeys,
		TaggedCost:        tagged,
		UntaggedCost:      untagged,
		CompliancePercent: 100,
	}
	for owner, cost := range byOwner {
		out.ByOwner = append(out.ByOwner, domain.OwnerCost{Owner: owner, Cost: cost})
	}
	sort.Slice(out.ByOwner, func(i, j int) bool {
		if c := out.ByOwner[i].Cost.Cmp(out.ByOwner[j].Cost); c != 0 {
			return c > 0
		}
		return out.ByOwner[i].Owner < out.ByOwner[j].Owner
	})
	for name := range untaggedNames {
		out.UntaggedResources = append(out.UntaggedResources, name)
	}
	sort.Strings(out.UntaggedResources)

	if total := tagged.Add(untagged); total.IsPositive() {
		out.CompliancePercent, _ = tagged.Div(total).Mul(decimal.NewFromInt(100)).Round(1).Float64()
	}
	return out
}

func ownerOf(tags map[string]string, keys []string) string {
	for _, k := range keys {
		if v := tags[k]; v != "" {
			return k + "=" + v
		}
	}
	return ""
}
