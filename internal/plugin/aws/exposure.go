package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/surface/types"
)

// scanLoadBalancers scans ELBv2 load balancers and their listeners.
func (p *Plugin) scanLoadBalancers(ctx context.Context) ([]types.Document, error) {
	var docs []types.Document
	var marker *string

	for {
		output, err := p.elbv2Client.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe load balancers: %w", err)
		}

		for _, lb := range output.LoadBalancers {
			listeners, err := p.listeners(ctx, aws.ToString(lb.LoadBalancerArn))
			if err != nil {
				return nil, err
			}
			docs = append(docs, p.convertLoadBalancer(lb, listeners))
		}

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return docs, nil
}

func (p *Plugin) listeners(ctx context.Context, arn string) ([]elbv2types.Listener, error) {
	var out []elbv2types.Listener
	var marker *string
	for {
		output, err := p.elbv2Client.DescribeListeners(ctx, &elasticloadbalancingv2.DescribeListenersInput{
			LoadBalancerArn: aws.String(arn),
			Marker:          marker,
		})
		if err != nil {
			return nil, fmt.Errorf("describe listeners for %s: %w", arn, err)
		}
		out = append(out, output.Listeners...)
		if output.NextMarker == nil {
			return out, nil
		}
		marker = output.NextMarker
	}
}

func (p *Plugin) convertLoadBalancer(lb elbv2types.LoadBalancer, listeners []elbv2types.Listener) types.Document {
	state := ""
	if lb.State != nil {
		state = string(lb.State.Code)
	}
	d := p.newDocument(aws.ToString(lb.LoadBalancerArn), "load_balancer", state, aws.ToString(lb.LoadBalancerName))
	d["lb_type"] = types.String(string(lb.Type))
	d["scheme"] = types.String(string(lb.Scheme))
	d["public"] = types.Bool(lb.Scheme == elbv2types.LoadBalancerSchemeEnumInternetFacing)
	d["dns_name"] = types.String(aws.ToString(lb.DNSName))
	d["vpc_id"] = types.String(aws.ToString(lb.VpcId))
	d["security_groups"] = stringList(lb.SecurityGroups)

	ports := make([]int, 0, len(listeners))
	plaintext := false
	for _, l := range listeners {
		ports = append(ports, int(aws.ToInt32(l.Port)))
		if l.Protocol == elbv2types.ProtocolEnumHttp || l.Protocol == elbv2types.ProtocolEnumTcp {
			plaintext = true
		}
	}
	sort.Ints(ports)
	values := make([]types.Value, len(ports))
	for i, port := range ports {
		values[i] = types.Int(port)
	}
	d["listener_ports"] = types.List(values...)
	d["plaintext_listener"] = types.Bool(plaintext)

	if lb.CreatedTime != nil {
		d[types.FieldCreatedAt] = types.String(types.FormatTime(*lb.CreatedTime))
	}
	return d
}

// scanEKSClusters scans EKS clusters and their API endpoint exposure.
func (p *Plugin) scanEKSClusters(ctx context.Context) ([]types.Document, error) {
	var docs []types.Document
	var nextToken *string

	for {
		output, err := p.eksClient.ListClusters(ctx, &eks.ListClustersInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("list eks clusters: %w", err)
		}

		for _, name := range output.Clusters {
			described, err := p.eksClient.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
			if err != nil {
				return nil, fmt.Errorf("describe eks cluster %s: %w", name, err)
			}
			if described.Cluster != nil {
				docs = append(docs, p.convertEKSCluster(*described.Cluster))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return docs, nil
}

func (p *Plugin) convertEKSCluster(cluster ekstypes.Cluster) types.Document {
	name := aws.ToString(cluster.Name)
	d := p.newDocument(name, "eks_cluster", string(cluster.Status), name)
	d["tags"] = tagsValue(cluster.Tags)
	d["version"] = types.String(aws.ToString(cluster.Version))
	d["endpoint"] = types.String(aws.ToString(cluster.Endpoint))
	d["secrets_encrypted"] = types.Bool(len(cluster.EncryptionConfig) > 0)

	public := false
	if vpc := cluster.ResourcesVpcConfig; vpc != nil {
		public = vpc.EndpointPublicAccess
		d["vpc_id"] = types.String(aws.ToString(vpc.VpcId))
		d["endpoint_private_access"] = types.Bool(vpc.EndpointPrivateAccess)
		d["public_access_cidrs"] = stringList(vpc.PublicAccessCidrs)
		d["open_to_world"] = types.Bool(public && containsWorld(vpc.PublicAccessCidrs))
	}
	d["public"] = types.Bool(public)

	if cluster.CreatedAt != nil {
		d[types.FieldCreatedAt] = types.String(types.FormatTime(*cluster.CreatedAt))
	}
	return d
}

// scanLambdaFunctions scans Lambda functions and flags unauthenticated URLs.
func (p *Plugin) scanLambdaFunctions(ctx context.Context) ([]types.Document, error) {
	var docs []types.Document
	var marker *string

	for {
		output, err := p.lambdaClient.ListFunctions(ctx, &lambda.ListFunctionsInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list functions: %w", err)
		}

		for _, fn := range output.Functions {
			d := p.convertLambdaFunction(fn)
			urls, err := p.functionURLs(ctx, aws.ToString(fn.FunctionName))
			if err != nil {
				log.Debug().Err(err).Str("function", aws.ToString(fn.FunctionName)).Msg("function url config unavailable")
			} else {
				applyFunctionURLs(d, urls)
			}
			docs = append(docs, d)
		}

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return docs, nil
}

func (p *Plugin) convertLambdaFunction(fn lambdatypes.FunctionConfiguration) types.Document {
	state := string(fn.State)
	if state == "" {
		state = "active"
	}
	d := p.newDocument(aws.ToString(fn.FunctionArn), "lambda", state, aws.ToString(fn.FunctionName))
	d["runtime"] = types.String(string(fn.Runtime))
	d["package_type"] = types.String(string(fn.PackageType))
	d["memory_mb"] = types.Int(int(aws.ToInt32(fn.MemorySize)))
	d["timeout_seconds"] = types.Int(int(aws.ToInt32(fn.Timeout)))

	vpcID := ""
	if fn.VpcConfig != nil {
		vpcID = aws.ToString(fn.VpcConfig.VpcId)
	}
	d["vpc_id"] = types.String(vpcID)
	d["in_vpc"] = types.Bool(vpcID != "")
	return d
}

func (p *Plugin) functionURLs(ctx context.Context, name string) ([]lambdatypes.FunctionUrlConfig, error) {
	var out []lambdatypes.FunctionUrlConfig
	var marker *string
	for {
		output, err := p.lambdaClient.ListFunctionUrlConfigs(ctx, &lambda.ListFunctionUrlConfigsInput{
			FunctionName: aws.String(name),
			Marker:       marker,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, output.FunctionUrlConfigs...)
		if output.NextMarker == nil {
			return out, nil
		}
		marker = output.NextMarker
	}
}

// applyFunctionURLs marks a function public when any URL skips IAM auth
func applyFunctionURLs(d types.Document, urls []lambdatypes.FunctionUrlConfig) {
	public := false
	for _, u := range urls {
		if u.AuthType == lambdatypes.FunctionUrlAuthTypeNone {
			public = true
		}
	}
	d["function_url"] = types.Bool(len(urls) > 0)
	d["public"] = types.Bool(public)
}

func containsWorld(cidrs []string) bool {
	for _, c := range cidrs {
		if c == worldIPv4 || c == worldIPv6 {
			return true
		}
	}
	return false
}

func stringList(items []string) types.Value {
	values := make([]types.Value, len(items))
	for i, s := range items {
		values[i] = types.String(s)
	}
	return types.List(values...)
}
