package domain

import "fmt"

// ValidateCostRecord checks required fields and the cost invariant on a CostRecord.
func ValidateCostRecord(r CostRecord) error {
	if r.SubscriptionID == "" {
		return fmt.Errorf("subscription_id is required")
	}
	if r.ResourceName == "" {
		return fmt.Errorf("resource_name is required")
	}
	if r.CollectionDate.IsZero() {
		return fmt.Errorf("collection_date is required")
	}
	if r.Cost.IsNegative() {
		return fmt.Errorf("cost must be non-negative, got %s", r.Cost)
	}
	if !IsKnownCurrency(r.Currency) {
		return fmt.Errorf("unrecognized currency: %q", r.Currency)
	}
	return nil
}

// ValidateBaselineRecord checks a BaselineRecord.
func ValidateBaselineRecord(b BaselineRecord) error {
	if b.SubscriptionID == "" {
		return fmt.Errorf("subscription_id is required")
	}
	if b.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if !b.WindowEnd.After(b.WindowStart) {
		return fmt.Errorf("window_end must be after window_start")
	}
	if b.SampleCount < 0 {
		return fmt.Errorf("sample_count must be non-negative, got %d", b.SampleCount)
	}
	if b.StdDevCost < 0 {
		return fmt.Errorf("std_dev_cost must be non-negative, got %f", b.StdDevCost)
	}
	return nil
}

// ValidateAnomalyFlag checks an AnomalyFlag against the baseline it references.
func ValidateAnomalyFlag(a AnomalyFlag, minSamples int, baseline BaselineRecord) error {
	if !a.Severity.Valid() {
		return fmt.Errorf("invalid severity: %q", a.Severity)
	}
	if baseline.SampleCount < minSamples {
		return fmt.Errorf("baseline has %d samples, need at least %d", baseline.SampleCount, minSamples)
	}
	if a.SubscriptionID != baseline.SubscriptionID || a.ServiceName != baseline.ServiceName {
		return fmt.Errorf("anomaly %s/%s does not match baseline %s/%s",
			a.SubscriptionID, a.ServiceName, baseline.SubscriptionID, baseline.ServiceName)
	}
	return nil
}

// ValidateCollectionSummary checks a CollectionSummary.
func ValidateCollectionSummary(s CollectionSummary) error {
	if s.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("invalid run status: %q", s.Status)
	}
	return nil
}

var knownCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true, "CAD": true,
	"AUD": true, "NZD": true, "SEK": true, "NOK": true, "DKK": true, "INR": true,
	"BRL": true, "CNY": true, "KRW": true, "SGD": true, "HKD": true, "ZAR": true,
	"MXN": true, "PLN": true,
}

// IsKnownCurrency reports whether code is a recognized ISO-4217 billing currency.
func IsKnownCurrency(code string) bool {
	return knownCurrencies[code]
}
