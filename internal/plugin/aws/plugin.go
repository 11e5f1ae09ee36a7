// Package aws discovers AWS assets and describes them as resource documents.
package aws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/surface/types"
)

// ProviderName is stamped on every discovered document.
const ProviderName = "aws"

// Plugin discovers assets in one AWS region.
type Plugin struct {
	region    string
	accountID string
	recorder  Recorder

	// AWS clients (interfaces for testability)
	ec2Client    EC2API
	rdsClient    RDSAPI
	s3Client     S3API
	elbv2Client  ELBV2API
	eksClient    EKSAPI
	lambdaClient LambdaAPI
}

// Config holds AWS plugin configuration.
type Config struct {
	Region  string
	Profile string

	// Recorder is optional
	Recorder Recorder
}

// New creates a plugin from the default credential chain.
func New(ctx context.Context, cfg Config) (*Plugin, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	ec2Client := ec2.NewFromConfig(awsCfg)
	accountID, err := getAccountID(ctx, ec2Client)
	if err != nil {
		return nil, fmt.Errorf("get account id: %w", err)
	}

	return &Plugin{
		region:       cfg.Region,
		accountID:    accountID,
		recorder:     cfg.Recorder,
		ec2Client:    ec2Client,
		rdsClient:    rds.NewFromConfig(awsCfg),
		s3Client:     s3.NewFromConfig(awsCfg),
		elbv2Client:  elasticloadbalancingv2.NewFromConfig(awsCfg),
		eksClient:    eks.NewFromConfig(awsCfg),
		lambdaClient: lambda.NewFromConfig(awsCfg),
	}, nil
}

func getAccountID(ctx context.Context, client EC2API) (string, error) {
	output, err := client.DescribeAccountAttributes(ctx, &ec2.DescribeAccountAttributesInput{})
	if err != nil {
		return "", err
	}

	for _, attr := range output.AccountAttributes {
		if aws.ToString(attr.AttributeName) == "account-id" && len(attr.AttributeValues) > 0 {
			return aws.ToString(attr.AttributeValues[0].AttributeValue), nil
		}
	}

	return "unknown", nil
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return ProviderName + ":" + p.region
}

type scanner struct {
	name string
	fn   func(context.Context) ([]types.Document, error)
}

func (p *Plugin) scanners() []scanner {
	return []scanner{
		{"ec2", p.scanEC2},
		{"security_group", p.scanSecurityGroups},
		{"s3", p.scanS3},
		{"rds", p.scanRDS},
		{"load_balancer", p.scanLoadBalancers},
		{"eks_cluster", p.scanEKSClusters},
		{"lambda", p.scanLambdaFunctions},
	}
}

// Discover runs every scanner concurrently. A failing scanner is logged and
// skipped; an error is returned only when all of them fail.
func (p *Plugin) Discover(ctx context.Context) ([]types.Document, error) {
	var (
		mu   sync.Mutex
		docs []types.Document
		errs []error
		wg   sync.WaitGroup
	)

	scanners := p.scanners()
	for _, s := range scanners {
		wg.Add(1)
		go func(s scanner) {
			defer wg.Done()
			start := time.Now()
			result, err := s.fn(ctx)
			if err != nil {
				log.Warn().Err(err).Str("scanner", s.name).Str("region", p.region).Msg("discovery failed")
				if p.recorder != nil {
					p.recorder.RecordDiscoveryError(ctx, ProviderName, p.region, s.name)
				}
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
				mu.Unlock()
				return
			}
			if p.recorder != nil {
				p.recorder.RecordDiscovery(ctx, ProviderName, p.region, s.name, len(result), time.Since(start))
			}
			mu.Lock()
			docs = append(docs, result...)
			mu.Unlock()
			log.Debug().Str("scanner", s.name).Int("count", len(result)).Msg("discovery complete")
		}(s)
	}

	wg.Wait()
	if len(errs) == len(scanners) {
		return nil, errors.Join(errs...)
	}
	return docs, nil
}

// newDocument builds a resource document with the fields every asset shares.
// Assets without a name fall back to their cloud id.
func (p *Plugin) newDocument(cloudID, resourceType, state, name string) types.Document {
	if name == "" {
		name = cloudID
	}
	return types.Document{
		types.FieldName:         types.String(name),
		types.FieldResourceType: types.String(resourceType),
		types.FieldRegion:       types.String(p.region),
		"provider":              types.String(ProviderName),
		"account_id":            types.String(p.accountID),
		"cloud_id":              types.String(cloudID),
		"state":                 types.String(state),
	}
}

func tagsValue(tags map[string]string) types.Value {
	m := make(map[string]types.Value, len(tags))
	for k, v := range tags {
		m[k] = types.String(v)
	}
	return types.Map(m)
}
