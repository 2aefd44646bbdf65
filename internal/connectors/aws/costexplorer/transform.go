package costexplorer

import (
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"

	"github.com/finops-claw-gang/costpipe/internal/domain"
	"github.com/finops-claw-gang/costpipe/internal/validator"
)

const (
	costMetric   = "UnblendedCost"
	noResourceID = "NoResourceId"
)

// transformCostByResource flattens RESOURCE_ID x SERVICE groups into one raw
// cost record per resource per day. Amounts stay strings; the validator owns
// numeric coercion.
func transformCostByResource(sub string, results []cetypes.ResultByTime) []map[string]any {
	var out []map[string]any
	for _, r := range results {
		day := periodStart(r.TimePeriod)
		for _, g := range r.Groups {
			if len(g.Keys) < 2 {
				continue
			}
			resourceID, service := g.Keys[0], g.Keys[1]
			m, ok := g.Metrics[costMetric]
			if !ok {
				continue
			}

			name := resourceName(resourceID)
			if resourceID == noResourceID || resourceID == "" {
				resourceID = ""
				name = service
			}
			out = append(out, map[string]any{
				validator.FieldSubscriptionID: sub,
				validator.FieldResourceName:   name,
				validator.FieldResourceID:     resourceID,
				validator.FieldServiceName:    service,
				validator.FieldMeterCategory:  service,
				validator.FieldCost:           aws.ToString(m.Amount),
				validator.FieldCurrency:       aws.ToString(m.Unit),
				validator.FieldLocation:       regionOf(resourceID),
				validator.FieldDate:           day,
			})
		}
	}
	return out
}

// transformReservationUtilization yields one record per reservation per day.
func transformReservationUtilization(sub string, results []cetypes.UtilizationByTime) []map[string]any {
	var out []map[string]any
	for _, r := range results {
		day := periodStart(r.TimePeriod)
		for _, g := range r.Groups {
			if g.Utilization == nil {
				continue
			}
			service := g.Attributes["service"]
			if service == "" {
				service = g.Attributes["instanceType"]
			}
			out = append(out, map[string]any{
				validator.FieldSubscriptionID:     sub,
				validator.FieldReservationID:      aws.ToString(g.Value),
				validator.FieldServiceName:        service,
				validator.FieldUtilizationPercent: aws.ToString(g.Utilization.UtilizationPercentage),
				validator.FieldUnusedCost:         aws.ToString(g.Utilization.RICostForUnusedHours),
				validator.FieldDate:               day,
			})
		}
	}
	return out
}

// transformRightsizing maps rightsizing recommendations to advisor records,
// taking the highest-savings target for modify recommendations.
func transformRightsizing(sub string, asOf time.Time, recs []cetypes.RightsizingRecommendation) []map[string]any {
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		var resourceID, instanceName, currency string
		if rec.CurrentInstance != nil {
			resourceID = aws.ToString(rec.CurrentInstance.ResourceId)
			instanceName = aws.ToString(rec.CurrentInstance.InstanceName)
			currency = aws.ToString(rec.CurrentInstance.CurrencyCode)
		}
		name := instanceName
		if name == "" {
			name = resourceID
		}

		var savings, text, impact string
		switch rec.RightsizingType {
		case cetypes.RightsizingTypeTerminate:
			text = "Terminate idle instance " + name
			impact = "High"
			if d := rec.TerminateRecommendationDetail; d != nil {
				savings = aws.ToString(d.EstimatedMonthlySavings)
				if c := aws.ToString(d.CurrencyCode); c != "" {
					currency = c
				}
			}
		default:
			text = "Downsize instance " + name
			impact = "Medium"
			if d := rec.ModifyRecommendationDetail; d != nil {
				best := bestTarget(d.TargetInstances)
				if best != nil {
					savings = aws.ToString(best.EstimatedMonthlySavings)
					if c := aws.ToString(best.CurrencyCode); c != "" {
						currency = c
					}
					if best.ResourceDetails != nil && best.ResourceDetails.EC2ResourceDetails != nil {
						if it := aws.ToString(best.ResourceDetails.EC2ResourceDetails.InstanceType); it != "" {
							text += " to " + it
						}
					}
				}
			}
		}

		out = append(out, map[string]any{
			validator.FieldSubscriptionID:   sub,
			validator.FieldResourceName:     name,
			validator.FieldCategory:         "Cost",
			validator.FieldImpact:           impact,
			validator.FieldRecommendation:   text,
			validator.FieldEstimatedSavings: savings,
			validator.FieldCurrency:         currency,
			validator.FieldDate:             asOf.Format(domain.DateLayout),
		})
	}
	return out
}

func bestTarget(targets []cetypes.TargetInstance) *cetypes.TargetInstance {
	var best *cetypes.TargetInstance
	var bestSavings float64
	for i := range targets {
		v := parseAmount(aws.ToString(targets[i].EstimatedMonthlySavings))
		if best == nil || v > bestSavings {
			best = &targets[i]
			bestSavings = v
		}
	}
	return best
}

func periodStart(p *cetypes.DateInterval) string {
	if p == nil {
		return ""
	}
	return aws.ToString(p.Start)
}

// resourceName returns the trailing identifier of an ARN, or id unchanged.
func resourceName(id string) string {
	if !strings.HasPrefix(id, "arn:") {
		return id
	}
	if i := strings.LastIndexAny(id, "/:"); i >= 0 && i < len(id)-1 {
		return id[i+1:]
	}
	return id
}

// regionOf extracts the region field of an ARN.
func regionOf(id string) string {
	parts := strings.SplitN(id, ":", 6)
	if len(parts) < 6 || parts[0] != "arn" {
		return ""
	}
	return parts[3]
}

func parseAmount(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
