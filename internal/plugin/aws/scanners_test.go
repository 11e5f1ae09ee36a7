package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/surface/types"
)

func TestScanEC2_Pagination(t *testing.T) {
	calls := 0
	client := &mockEC2Client{
		DescribeInstancesFunc: func(_ context.Context, params *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			calls++
			if params.NextToken == nil {
				return &ec2.DescribeInstancesOutput{
					Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{{InstanceId: aws.String("i-1")}}}},
					NextToken:    aws.String("page2"),
				}, nil
			}
			return &ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{{InstanceId: aws.String("i-2")}}}},
			}, nil
		},
	}

	docs, err := newTestPlugin(client, nil, nil).scanEC2(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, docs, 2)
	assert.Equal(t, "i-2", docs[1].StringField("cloud_id"))
}

func TestConvertEC2Instance(t *testing.T) {
	launched := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newTestPlugin(nil, nil, nil)

	d := p.convertEC2Instance(ec2types.Instance{
		InstanceId:       aws.String("i-abc"),
		InstanceType:     ec2types.InstanceTypeT3Micro,
		State:            &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
		PublicIpAddress:  aws.String("54.1.2.3"),
		PrivateIpAddress: aws.String("10.0.0.5"),
		VpcId:            aws.String("vpc-1"),
		SecurityGroups:   []ec2types.GroupIdentifier{{GroupId: aws.String("sg-1")}},
		MetadataOptions:  &ec2types.InstanceMetadataOptionsResponse{HttpTokens: ec2types.HttpTokensStateOptional},
		LaunchTime:       &launched,
		Tags:             []ec2types.Tag{{Key: aws.String("Name"), Value: aws.String("web-1")}, {Key: aws.String("env"), Value: aws.String("prod")}},
	})

	assert.Equal(t, "web-1", d.StringField(types.FieldName))
	assert.Equal(t, "running", d.StringField("state"))
	assert.Equal(t, "54.1.2.3", d.StringField("public_ip"))
	assert.True(t, d["public"].Equal(types.Bool(true)))
	assert.True(t, d["imdsv2_required"].Equal(types.Bool(false)))
	assert.True(t, d["security_groups"].Equal(types.List(types.String("sg-1"))))
	assert.Equal(t, "2024-03-01T12:00:00.000000Z", d.StringField("launched_at"))

	env, ok := d.Lookup("tags.env")
	require.True(t, ok)
	assert.True(t, env.Equal(types.String("prod")))
}

func TestConvertEC2Instance_Private(t *testing.T) {
	d := newTestPlugin(nil, nil, nil).convertEC2Instance(ec2types.Instance{InstanceId: aws.String("i-private")})

	_, hasIP := d["public_ip"]
	assert.False(t, hasIP, "absent so rules on public_ip never match")
	assert.True(t, d["public"].Equal(types.Bool(false)))
	assert.Equal(t, "i-private", d.StringField(types.FieldName))
}

func TestOpenPorts(t *testing.T) {
	world := []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}}
	internal := []ec2types.IpRange{{CidrIp: aws.String("10.0.0.0/8")}}

	tests := []struct {
		name  string
		perms []ec2types.IpPermission
		want  []int
	}{
		{"none", nil, []int{}},
		{"internal only", []ec2types.IpPermission{{IpProtocol: aws.String("tcp"), FromPort: aws.Int32(22), IpRanges: internal}}, []int{}},
		{"ssh and https", []ec2types.IpPermission{
			{IpProtocol: aws.String("tcp"), FromPort: aws.Int32(443), IpRanges: world},
			{IpProtocol: aws.String("tcp"), FromPort: aws.Int32(22), IpRanges: world},
		}, []int{22, 443}},
		{"all traffic", []ec2types.IpPermission{{IpProtocol: aws.String("-1"), IpRanges: world}}, []int{allPorts}},
		{"ipv6 world", []ec2types.IpPermission{{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(3389),
			Ipv6Ranges: []ec2types.Ipv6Range{{CidrIpv6: aws.String("::/0")}},
		}}, []int{3389}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, openPorts(tt.perms))
		})
	}
}

func TestConvertSecurityGroup(t *testing.T) {
	d := newTestPlugin(nil, nil, nil).convertSecurityGroup(ec2types.SecurityGroup{
		GroupId:   aws.String("sg-1"),
		GroupName: aws.String("default"),
		IpPermissions: []ec2types.IpPermission{{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(22),
			IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
		}},
	})

	assert.Equal(t, "default", d.StringField(types.FieldName))
	assert.Equal(t, "security_group", d.StringField(types.FieldResourceType))
	assert.True(t, d["open_to_world"].Equal(types.Bool(true)))
	assert.True(t, d["open_ports"].Equal(types.List(types.Int(22))))
}

func TestScanS3_FiltersByRegion(t *testing.T) {
	created := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	locations := map[string]s3types.BucketLocationConstraint{
		"local":  "",
		"remote": s3types.BucketLocationConstraintEuWest1,
		"open":   "",
	}
	client := &mockS3Client{
		ListBucketsFunc: func(_ context.Context, _ *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
			return &s3.ListBucketsOutput{Buckets: []s3types.Bucket{
				{Name: aws.String("local"), CreationDate: &created},
				{Name: aws.String("remote")},
				{Name: aws.String("open")},
			}}, nil
		},
		GetBucketLocationFunc: func(_ context.Context, params *s3.GetBucketLocationInput, _ ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
			return &s3.GetBucketLocationOutput{LocationConstraint: locations[aws.ToString(params.Bucket)]}, nil
		},
		GetPublicAccessBlockFunc: func(_ context.Context, params *s3.GetPublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.GetPublicAccessBlockOutput, error) {
			if aws.ToString(params.Bucket) == "open" {
				return nil, &smithy.GenericAPIError{Code: codeNoPublicAccessBlock}
			}
			return &s3.GetPublicAccessBlockOutput{PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
				BlockPublicAcls:       aws.Bool(true),
				BlockPublicPolicy:     aws.Bool(true),
				IgnorePublicAcls:      aws.Bool(true),
				RestrictPublicBuckets: aws.Bool(true),
			}}, nil
		},
	}

	docs, err := newTestPlugin(nil, nil, client).scanS3(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "local", docs[0].StringField(types.FieldName))
	assert.True(t, docs[0]["public_access_blocked"].Equal(types.Bool(true)))
	assert.Equal(t, "2023-01-02T00:00:00.000000Z", docs[0].StringField(types.FieldCreatedAt))

	assert.Equal(t, "open", docs[1].StringField(types.FieldName))
	assert.True(t, docs[1]["public_access_blocked"].Equal(types.Bool(false)))
}

func TestScanS3_UnknownAccessBlockOmitted(t *testing.T) {
	client := &mockS3Client{
		ListBucketsFunc: func(_ context.Context, _ *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
			return &s3.ListBucketsOutput{Buckets: []s3types.Bucket{{Name: aws.String("b")}}}, nil
		},
		GetPublicAccessBlockFunc: func(_ context.Context, _ *s3.GetPublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.GetPublicAccessBlockOutput, error) {
			return nil, errors.New("access denied")
		},
	}

	docs, err := newTestPlugin(nil, nil, client).scanS3(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	_, ok := docs[0]["public_access_blocked"]
	assert.False(t, ok)
}

func TestBucketRegion_LegacyEU(t *testing.T) {
	client := &mockS3Client{
		GetBucketLocationFunc: func(_ context.Context, _ *s3.GetBucketLocationInput, _ ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
			return &s3.GetBucketLocationOutput{LocationConstraint: s3types.BucketLocationConstraintEu}, nil
		},
	}

	region, err := newTestPlugin(nil, nil, client).bucketRegion(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", region)
}

func TestScanRDS_Pagination(t *testing.T) {
	client := &mockRDSClient{
		DescribeDBInstancesFunc: func(_ context.Context, params *rds.DescribeDBInstancesInput, _ ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
			if params.Marker == nil {
				return &rds.DescribeDBInstancesOutput{
					DBInstances: []rdstypes.DBInstance{{DBInstanceIdentifier: aws.String("db-1")}},
					Marker:      aws.String("next"),
				}, nil
			}
			return &rds.DescribeDBInstancesOutput{
				DBInstances: []rdstypes.DBInstance{{
					DBInstanceIdentifier: aws.String("db-2"),
					DBInstanceStatus:     aws.String("available"),
					PubliclyAccessible:   aws.Bool(true),
					StorageEncrypted:     aws.Bool(false),
					Endpoint:             &rdstypes.Endpoint{Address: aws.String("db-2.local"), Port: aws.Int32(5432)},
				}},
			}, nil
		},
	}

	docs, err := newTestPlugin(nil, client, nil).scanRDS(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)

	d := docs[1]
	assert.Equal(t, "db-2", d.StringField(types.FieldName))
	assert.Equal(t, "available", d.StringField("state"))
	assert.True(t, d["publicly_accessible"].Equal(types.Bool(true)))
	assert.True(t, d["storage_encrypted"].Equal(types.Bool(false)))
	assert.True(t, d["port"].Equal(types.Int(5432)))
}
