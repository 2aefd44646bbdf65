package validator

import "github.com/finops-claw-gang/costpipe/internal/domain"

// Canonical raw-record keys. Billing sources emit records with these keys and
// the collection orchestrator decodes validated records from them.
const (
	FieldSubscriptionID     = "subscriptionId"
	FieldResourceName       = "resourceName"
	FieldResourceID         = "resourceId"
	FieldServiceName        = "serviceName"
	FieldMeterCategory      = "meterCategory"
	FieldCost               = "cost"
	FieldCurrency           = "currency"
	FieldLocation           = "location"
	FieldDate               = "date"
	FieldTags               = "tags"
	FieldReservationID      = "reservationId"
	FieldUtilizationPercent = "utilizationPercent"
	FieldUnusedCost         = "unusedCost"
	FieldBudgetName         = "budgetName"
	FieldAmount             = "amount"
	FieldCurrentSpend       = "currentSpend"
	FieldForecastSpend      = "forecastSpend"
	FieldCategory           = "category"
	FieldImpact             = "impact"
	FieldRecommendation     = "recommendation"
	FieldEstimatedSavings   = "estimatedSavings"
)

type schema struct {
	required  []string
	numeric   []string
	shortText []string
	longText  []string
	// currencyRequired makes the currency field mandatory rather than defaulted.
	currencyRequired bool
}

var schemas = map[domain.Dataset]schema{
	domain.DatasetCost: {
		required:         []string{FieldSubscriptionID, FieldResourceName, FieldCost, FieldCurrency, FieldDate},
		numeric:          []string{FieldCost},
		shortText:        []string{FieldSubscriptionID, FieldResourceName, FieldResourceID, FieldServiceName, FieldMeterCategory, FieldLocation},
		currencyRequired: true,
	},
	domain.DatasetReservation: {
		required:  []string{FieldSubscriptionID, FieldReservationID, FieldUtilizationPercent, FieldDate},
		numeric:   []string{FieldUtilizationPercent, FieldUnusedCost},
		shortText: []string{FieldSubscriptionID, FieldReservationID, FieldServiceName},
	},
	domain.DatasetBudget: {
		required:  []string{FieldSubscriptionID, FieldBudgetName, FieldAmount, FieldCurrentSpend, FieldDate},
		numeric:   []string{FieldAmount, FieldCurrentSpend, FieldForecastSpend},
		shortText: []string{FieldSubscriptionID, FieldBudgetName},
	},
	domain.DatasetAdvisor: {
		required:  []string{FieldSubscriptionID, FieldCategory, FieldRecommendation, FieldDate},
		numeric:   []string{FieldEstimatedSavings},
		shortText: []string{FieldSubscriptionID, FieldResourceName, FieldCategory, FieldImpact},
		longText:  []string{FieldRecommendation},
	},
}
