package aws

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/surface/types"
)

const (
	worldIPv4 = "0.0.0.0/0"
	worldIPv6 = "::/0"

	// allPorts marks a rule that opens every port
	allPorts = -1

	codeNoPublicAccessBlock = "NoSuchPublicAccessBlockConfiguration"
)

// scanEC2 scans EC2 instances.
func (p *Plugin) scanEC2(ctx context.Context) ([]types.Document, error) {
	var docs []types.Document
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				docs = append(docs, p.convertEC2Instance(instance))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return docs, nil
}

func (p *Plugin) convertEC2Instance(instance ec2types.Instance) types.Document {
	state := ""
	if instance.State != nil {
		state = string(instance.State.Name)
	}
	tags := ec2Tags(instance.Tags)
	d := p.newDocument(aws.ToString(instance.InstanceId), "ec2", state, tags["Name"])
	d["tags"] = tagsValue(tags)
	d["instance_type"] = types.String(string(instance.InstanceType))
	d["vpc_id"] = types.String(aws.ToString(instance.VpcId))
	d["subnet_id"] = types.String(aws.ToString(instance.SubnetId))
	d["private_ip"] = types.String(aws.ToString(instance.PrivateIpAddress))
	if instance.PublicIpAddress != nil {
		d["public_ip"] = types.String(aws.ToString(instance.PublicIpAddress))
	}
	d["public"] = types.Bool(instance.PublicIpAddress != nil)

	groups := make([]types.Value, 0, len(instance.SecurityGroups))
	for _, g := range instance.SecurityGroups {
		groups = append(groups, types.String(aws.ToString(g.GroupId)))
	}
	d["security_groups"] = types.List(groups...)

	if instance.MetadataOptions != nil {
		d["imdsv2_required"] = types.Bool(instance.MetadataOptions.HttpTokens == ec2types.HttpTokensStateRequired)
	}
	if instance.LaunchTime != nil {
		d["launched_at"] = types.String(types.FormatTime(*instance.LaunchTime))
	}
	return d
}

// scanSecurityGroups scans security groups and flags world-open ingress.
func (p *Plugin) scanSecurityGroups(ctx context.Context) ([]types.Document, error) {
	var docs []types.Document
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe security groups: %w", err)
		}

		for _, sg := range output.SecurityGroups {
			docs = append(docs, p.convertSecurityGroup(sg))
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return docs, nil
}

func (p *Plugin) convertSecurityGroup(sg ec2types.SecurityGroup) types.Document {
	tags := ec2Tags(sg.Tags)
	d := p.newDocument(aws.ToString(sg.GroupId), "security_group", "active", aws.ToString(sg.GroupName))
	d["tags"] = tagsValue(tags)
	d["vpc_id"] = types.String(aws.ToString(sg.VpcId))
	d["description"] = types.String(aws.ToString(sg.Description))

	ports := openPorts(sg.IpPermissions)
	values := make([]types.Value, len(ports))
	for i, port := range ports {
		values[i] = types.Int(port)
	}
	d["open_ports"] = types.List(values...)
	d["open_to_world"] = types.Bool(len(ports) > 0)
	d["ingress_rules"] = types.Int(len(sg.IpPermissions))
	return d
}

// openPorts returns the sorted ports reachable from anywhere. A rule without
// a port range contributes allPorts.
func openPorts(perms []ec2types.IpPermission) []int {
	seen := make(map[int]struct{})
	for _, perm := range perms {
		if !worldOpen(perm) {
			continue
		}
		if perm.FromPort == nil || aws.ToString(perm.IpProtocol) == "-1" {
			seen[allPorts] = struct{}{}
			continue
		}
		seen[int(aws.ToInt32(perm.FromPort))] = struct{}{}
	}

	ports := make([]int, 0, len(seen))
	for port := range seen {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

func worldOpen(perm ec2types.IpPermission) bool {
	for _, r := range perm.IpRanges {
		if aws.ToString(r.CidrIp) == worldIPv4 {
			return true
		}
	}
	for _, r := range perm.Ipv6Ranges {
		if aws.ToString(r.CidrIpv6) == worldIPv6 {
			return true
		}
	}
	return false
}

// scanS3 scans buckets located in the plugin region.
func (p *Plugin) scanS3(ctx context.Context) ([]types.Document, error) {
	output, err := p.s3Client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	var docs []types.Document
	for _, bucket := range output.Buckets {
		name := aws.ToString(bucket.Name)
		region, err := p.bucketRegion(ctx, name)
		if err != nil {
			log.Debug().Err(err).Str("bucket", name).Msg("skipping bucket with unknown location")
			continue
		}
		if region != p.region {
			continue
		}

		d := p.newDocument(name, "s3", "active", name)
		if bucket.CreationDate != nil {
			d[types.FieldCreatedAt] = types.String(types.FormatTime(*bucket.CreationDate))
		}
		blocked, known, err := p.publicAccessBlocked(ctx, name)
		if err != nil {
			log.Debug().Err(err).Str("bucket", name).Msg("public access block unavailable")
		}
		if known {
			d["public_access_blocked"] = types.Bool(blocked)
		}
		docs = append(docs, d)
	}

	return docs, nil
}

func (p *Plugin) bucketRegion(ctx context.Context, bucket string) (string, error) {
	output, err := p.s3Client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(bucket)})
	if err != nil {
		return "", err
	}
	switch loc := string(output.LocationConstraint); loc {
	case "":
		return "us-east-1", nil
	case "EU":
		return "eu-west-1", nil
	default:
		return loc, nil
	}
}

// publicAccessBlocked reports whether all four public access block settings
// are on. A bucket with no configuration is not blocked.
func (p *Plugin) publicAccessBlocked(ctx context.Context, bucket string) (blocked, known bool, err error) {
	output, err := p.s3Client.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{Bucket: aws.String(bucket)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == codeNoPublicAccessBlock {
			return false, true, nil
		}
		return false, false, err
	}

	cfg := output.PublicAccessBlockConfiguration
	if cfg == nil {
		return false, true, nil
	}
	blocked = aws.ToBool(cfg.BlockPublicAcls) &&
		aws.ToBool(cfg.BlockPublicPolicy) &&
		aws.ToBool(cfg.IgnorePublicAcls) &&
		aws.ToBool(cfg.RestrictPublicBuckets)
	return blocked, true, nil
}

// scanRDS scans RDS instances.
func (p *Plugin) scanRDS(ctx context.Context) ([]types.Document, error) {
	var docs []types.Document
	var marker *string

	for {
		output, err := p.rdsClient.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe db instances: %w", err)
		}

		for _, instance := range output.DBInstances {
			docs = append(docs, p.convertRDSInstance(instance))
		}

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return docs, nil
}

func (p *Plugin) convertRDSInstance(instance rdstypes.DBInstance) types.Document {
	id := aws.ToString(instance.DBInstanceIdentifier)
	d := p.newDocument(id, "rds", aws.ToString(instance.DBInstanceStatus), id)

	tags := make(map[string]string, len(instance.TagList))
	for _, tag := range instance.TagList {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	d["tags"] = tagsValue(tags)
	d["engine"] = types.String(aws.ToString(instance.Engine))
	d["engine_version"] = types.String(aws.ToString(instance.EngineVersion))
	d["instance_class"] = types.String(aws.ToString(instance.DBInstanceClass))
	d["storage_gb"] = types.Int(int(aws.ToInt32(instance.AllocatedStorage)))
	d["publicly_accessible"] = types.Bool(aws.ToBool(instance.PubliclyAccessible))
	d["storage_encrypted"] = types.Bool(aws.ToBool(instance.StorageEncrypted))
	d["multi_az"] = types.Bool(aws.ToBool(instance.MultiAZ))
	if instance.Endpoint != nil {
		d["endpoint"] = types.String(aws.ToString(instance.Endpoint.Address))
		d["port"] = types.Int(int(aws.ToInt32(instance.Endpoint.Port)))
	}
	return d
}

func ec2Tags(tags []ec2types.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, tag := range tags {
		out[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return out
}
