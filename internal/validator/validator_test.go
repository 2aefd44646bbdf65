package validator

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

func costRow(cost any) map[string]any {
	return map[string]any{
		FieldSubscriptionID: "sub-A",
		FieldResourceName:   "vm-prod-01",
		FieldServiceName:    "Virtual Machines",
		FieldMeterCategory:  "Compute",
		FieldCost:           cost,
		FieldCurrency:       "usd",
		FieldLocation:       "eastus",
		FieldDate:           "2025-07-24",
	}
}

func TestValidate_AcceptsStringCost(t *testing.T) {
	t.Parallel()
	out, err := New().Validate(domain.DatasetCost, costRow("12.50"))
	require.NoError(t, err)

	got, ok := out[FieldCost].(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.RequireFromString("12.50")), "got %s", got)
	assert.Equal(t, "USD", out[FieldCurrency])
	assert.Equal(t, time.Date(2025, 7, 24, 0, 0, 0, 0, time.UTC), out[FieldDate])
}

func TestValidate_RejectsDiagnosticCost(t *testing.T) {
	t.Parallel()
	_, err := New().Validate(domain.DatasetCost, costRow("ERROR: timeout"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)

	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonDiagnostic, rej.Reason)
	assert.Equal(t, FieldCost, rej.Field)
}

func TestValidate_CostValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		cost   any
		reason Reason
	}{
		{"float", 3.25, ""},
		{"int", 7, ""},
		{"zero", "0", ""},
		{"json number", json.Number("19.99"), ""},
		{"decimal", decimal.NewFromInt(4), ""},
		{"negative string", "-1.00", ReasonNegative},
		{"negative float", -0.01, ReasonNegative},
		{"nan float", math.NaN(), ReasonNonFinite},
		{"inf float", math.Inf(1), ReasonNonFinite},
		{"nan string", "NaN", ReasonNonFinite},
		{"inf string", "-Infinity", ReasonNonFinite},
		{"garbage", "twelve", ReasonNotNumeric},
		{"currency symbol", "$12.50", ReasonNotNumeric},
		{"bool", true, ReasonNotNumeric},
		{"missing", nil, ReasonMissing},
		{"blank", "  ", ReasonMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New().Validate(domain.DatasetCost, costRow(tt.cost))
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			var rej *Rejection
			require.True(t, errors.As(err, &rej), "expected rejection, got %v", err)
			assert.Equal(t, tt.reason, rej.Reason)
		})
	}
}

func TestValidate_AdversarialLogLines(t *testing.T) {
	t.Parallel()
	lines := []string{
		"ERROR: timeout",
		"WARNING: Retrying request",
		"VERBOSE: GET https://management.azure.com/subscriptions",
		"[INFO] collected 12 rows",
		"2025-07-24T03:00:01Z ERROR connection refused",
		"2025-07-24 03:00:01 warn throttled",
		`time=2025-07-24T03:00:01Z level=error msg="request failed"`,
		"panic: runtime error: index out of range",
		"goroutine 1 [running]:",
		"main.collect(0x0)\n\t/app/main.go:42 +0x1d",
		"Traceback (most recent call last):",
		"   at System.Net.Http.HttpClient.Send(HttpRequestMessage request)",
		"At line:1 char:1",
		"System.InvalidOperationException: Sequence contains no elements",
	}
	for _, line := range lines {
		row := costRow("1.00")
		row[FieldServiceName] = line
		_, err := New().Validate(domain.DatasetCost, row)
		var rej *Rejection
		if assert.True(t, errors.As(err, &rej), "line %q not rejected", line) {
			assert.Equal(t, ReasonDiagnostic, rej.Reason, "line %q", line)
		}
	}
}

func TestValidate_PlainNamesNotDiagnostic(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"error-budget-dashboard", "info-api", "debugger-vm", "Azure App Service", "sql-db: primary"} {
		row := costRow("1.00")
		row[FieldResourceName] = name
		_, err := New().Validate(domain.DatasetCost, row)
		assert.NoError(t, err, name)
	}
}

func TestValidate_TextChecks(t *testing.T) {
	t.Parallel()

	row := costRow("1")
	row[FieldResourceName] = "vm-01\nvm-02"
	_, err := New().Validate(domain.DatasetCost, row)
	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonControlChar, rej.Reason)

	row = costRow("1")
	row[FieldLocation] = string(make([]byte, 600))
	_, err = New().Validate(domain.DatasetCost, row)
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonTooLong, rej.Reason)

	row = costRow("1")
	row[FieldCurrency] = "XYZ"
	_, err = New().Validate(domain.DatasetCost, row)
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonCurrency, rej.Reason)

	row = costRow("1")
	row[FieldDate] = "yesterday"
	_, err = New().Validate(domain.DatasetCost, row)
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonBadDate, rej.Reason)
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	row := costRow(" 12.50 ")
	_, err := New().Validate(domain.DatasetCost, row)
	require.NoError(t, err)
	assert.Equal(t, " 12.50 ", row[FieldCost])
	assert.Equal(t, "usd", row[FieldCurrency])
}

func TestValidate_AuxiliaryDatasets(t *testing.T) {
	t.Parallel()
	v := New()

	out, err := v.Validate(domain.DatasetBudget, map[string]any{
		FieldSubscriptionID: "sub-A",
		FieldBudgetName:     "monthly",
		FieldAmount:         "1000",
		FieldCurrentSpend:   812.5,
		FieldDate:           "2025-07-24",
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultCurrency, out[FieldCurrency])

	_, err = v.Validate(domain.DatasetReservation, map[string]any{
		FieldSubscriptionID:     "sub-A",
		FieldReservationID:      "ri-1",
		FieldUtilizationPercent: "87.5",
		FieldDate:               "2025-07-24",
	})
	require.NoError(t, err)

	_, err = v.Validate(domain.DatasetAdvisor, map[string]any{
		FieldSubscriptionID:   "sub-A",
		FieldCategory:         "Cost",
		FieldRecommendation:   "Right-size vm-prod-01.\nCurrent utilization is below 5%.",
		FieldEstimatedSavings: "-3",
		FieldDate:             "2025-07-24",
	})
	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonNegative, rej.Reason)
	assert.Equal(t, FieldEstimatedSavings, rej.Field)

	_, err = v.Validate(domain.Dataset("invoices"), map[string]any{})
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonDataset, rej.Reason)
}

func TestValidate_Tags(t *testing.T) {
	t.Parallel()
	row := costRow("1")
	row[FieldTags] = map[string]any{"CostCenter": "cc-42"}
	out, err := New().Validate(domain.DatasetCost, row)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"CostCenter": "cc-42"}, out[FieldTags])

	row[FieldTags] = map[string]any{"CostCenter": 42}
	_, err = New().Validate(domain.DatasetCost, row)
	assert.Error(t, err)
}

func TestTally_Concurrent(t *testing.T) {
	t.Parallel()
	var tally Tally
	v := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cost := "1.00"
			if i%5 == 0 {
				cost = "ERROR: timeout"
			}
			_, err := v.Validate(domain.DatasetCost, costRow(cost))
			tally.Observe(err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(40), tally.Accepted())
	assert.Equal(t, int64(10), tally.Rejected())
	assert.Equal(t, int64(10), tally.Reasons()[ReasonDiagnostic])
}
