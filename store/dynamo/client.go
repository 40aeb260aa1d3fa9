package dynamo

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cast"

	"github.com/jacentio/weave/store"
)

// NewClient opens a DynamoDB client from the default AWS configuration.
// Connection options:
//
//	region   - AWS region
//	profile  - shared config profile
//	endpoint - endpoint override (e.g., DynamoDB Local)
func NewClient(ctx context.Context, conn store.ConnectionDescriptor) (API, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region := cast.ToString(conn.Options["region"]); region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	if profile := cast.ToString(conn.Options["profile"]); profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	endpoint := cast.ToString(conn.Options["endpoint"])
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}
