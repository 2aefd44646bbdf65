package collection

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/finops-claw-gang/costpipe/internal/domain"
	v "github.com/finops-claw-gang/costpipe/internal/validator"
)

// stamp carries the run identity written onto every record.
type stamp struct {
	runID       string
	collectedAt time.Time
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func dec(m map[string]any, key string) decimal.Decimal {
	d, _ := m[key].(decimal.Decimal)
	return d
}

func day(m map[string]any) time.Time {
	t, _ := m[v.FieldDate].(time.Time)
	return t
}

func decodeCost(m map[string]any, st stamp) domain.CostRecord {
	tags, _ := m[v.FieldTags].(map[string]string)
	return domain.CostRecord{
		SubscriptionID: str(m, v.FieldSubscriptionID),
		ResourceName:   str(m, v.FieldResourceName),
		ResourceID:     str(m, v.FieldResourceID),
		ServiceName:    str(m, v.FieldServiceName),
		MeterCategory:  str(m, v.FieldMeterCategory),
		Cost:           dec(m, v.FieldCost),
		Currency:       str(m, v.FieldCurrency),
		Location:       str(m, v.FieldLocation),
		CollectionDate: day(m),
		Tags:           tags,
		RunID:          st.runID,
		CollectedAt:    st.collectedAt,
	}
}

func decodeReservation(m map[string]any, st stamp) domain.ReservationRecord {
	return domain.ReservationRecord{
		SubscriptionID:     str(m, v.FieldSubscriptionID),
		ReservationID:      str(m, v.FieldReservationID),
		ServiceName:        str(m, v.FieldServiceName),
		UtilizationPercent: dec(m, v.FieldUtilizationPercent),
		UnusedCost:         dec(m, v.FieldUnusedCost),
		Currency:           str(m, v.FieldCurrency),
		CollectionDate:     day(m),
		RunID:              st.runID,
		CollectedAt:        st.collectedAt,
	}
}

func decodeBudget(m map[string]any, st stamp) domain.BudgetRecord {
	return domain.BudgetRecord{
		SubscriptionID: str(m, v.FieldSubscriptionID),
		BudgetName:     str(m, v.FieldBudgetName),
		Amount:         dec(m, v.FieldAmount),
		CurrentSpend:   dec(m, v.FieldCurrentSpend),
		ForecastSpend:  dec(m, v.FieldForecastSpend),
		Currency:       str(m, v.FieldCurrency),
		CollectionDate: day(m),
		RunID:          st.runID,
		CollectedAt:    st.collectedAt,
	}
}

func decodeAdvisor(m map[string]any, st stamp) domain.AdvisorRecord {
	return domain.AdvisorRecord{
		SubscriptionID:   str(m, v.FieldSubscriptionID),
		ResourceName:     str(m, v.FieldResourceName),
		Category:         str(m, v.FieldCategory),
		Impact:           str(m, v.FieldImpact),
		Recommendation:   str(m, v.FieldRecommendation),
		EstimatedSavings: dec(m, v.FieldEstimatedSavings),
		Currency:         str(m, v.FieldCurrency),
		CollectionDate:   day(m),
		RunID:            st.runID,
		CollectedAt:      st.collectedAt,
	}
}
