// Package tagging resolves resource tags through the AWS Resource Groups
// Tagging API for chargeback attribution.
package tagging

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	tag "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"

	awsconn "github.com/finops-claw-gang/costpipe/internal/connectors/aws"
)

// maxARNsPerCall is the GetResources limit on ResourceARNList.
const maxARNsPerCall = 100

// API is the subset of the Tagging API client used by this package.
type API interface {
	GetResources(ctx context.Context, params *tag.GetResourcesInput, optFns ...func(*tag.Options)) (*tag.GetResourcesOutput, error)
}

// Client wraps the Resource Groups Tagging API.
type Client struct {
	api API
}

// New creates a Tagging client from an AWS config.
func New(cfg aws.Config) *Client {
	return &Client{api: tag.NewFromConfig(cfg)}
}

// NewFromAPI creates a Client from an explicit API implementation (for testing).
func NewFromAPI(api API) *Client {
	return &Client{api: api}
}

// ResourceTags returns tags keyed by resource ARN. Identifiers that are not
// ARNs are skipped; ARNs the API does not return get no entry.
func (c *Client) ResourceTags(ctx context.Context, resourceIDs []string) (map[string]map[string]string, error) {
	arns := make([]string, 0, len(resourceIDs))
	seen := make(map[string]bool, len(resourceIDs))
	for _, id := range resourceIDs {
		if strings.HasPrefix(id, "arn:") && !seen[id] {
			seen[id] = true
			arns = append(arns, id)
		}
	}

	result := make(map[string]map[string]string)
	for start := 0; start < len(arns); start += maxARNsPerCall {
		end := min(start+maxARNsPerCall, len(arns))
		input := &tag.GetResourcesInput{ResourceARNList: arns[start:end]}
		for {
			out, err := c.api.GetResources(ctx, input)
			if err != nil {
				return nil, awsconn.ClassifyError("tagging: get resources", err)
			}
			for _, mapping := range out.ResourceTagMappingList {
				arn := aws.ToString(mapping.ResourceARN)
				if !seen[arn] {
					continue
				}
				tags := make(map[string]string, len(mapping.Tags))
				for _, t := range mapping.Tags {
					if t.Key != nil && t.Value != nil {
						tags[*t.Key] = *t.Value
					}
				}
				result[arn] = tags
			}
			if aws.ToString(out.PaginationToken) == "" {
				break
			}
			input.PaginationToken = out.PaginationToken
		}
	}
	return result, nil
}
