package aws

import (
	"errors"
	"strings"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	"github.com/finops-claw-gang/costpipe/internal/domain"
)

var throttlingCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"LimitExceededException":                 true,
	"RequestThrottledException":              true,
	"ProvisionedThroughputExceededException": true,
	"ServiceUnavailable":                     true,
	"ServiceUnavailableException":            true,
	"InternalFailure":                        true,
	"InternalServerError":                    true,
}

// ClassifyError maps an AWS SDK error onto the pipeline's failure taxonomy.
// Errors without an API code or HTTP status are returned wrapped as-is, and
// domain.KindOf classifies them from their network cause.
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	status := 0
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		status = re.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		se := domain.NewSourceError(op, status, code, err)
		switch {
		case throttlingCodes[code] || strings.Contains(strings.ToLower(code), "throttl"):
			se.Kind = domain.KindTransient
		case status == 0 && apiErr.ErrorFault() == smithy.FaultServer:
			se.Kind = domain.KindTransient
		}
		return se
	}
	if status != 0 {
		return domain.NewSourceError(op, status, "", err)
	}
	return err
}
