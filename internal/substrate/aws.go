// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package substrate

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/errors"
)

// jujuGroupDescription is the description juju gives every security
// group it creates, and the safest handle for finding leaked ones.
const jujuGroupDescription = "juju group"

// ec2Client is the part of the EC2 API the sweeper drives.
type ec2Client interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, opts ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	DescribeSecurityGroups(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, opts ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	DeleteSecurityGroup(ctx context.Context, in *ec2.DeleteSecurityGroupInput, opts ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error)
}

type awsSweeper struct {
	region    string
	newClient func(ctx context.Context) (ec2Client, error)
}

func newAWSSweeper(region string) *awsSweeper {
	return &awsSweeper{
		region: region,
		newClient: func(ctx context.Context) (ec2Client, error) {
			opts := []func(*awsconfig.LoadOptions) error{
				awsconfig.WithRegion(region),
			}
			// Explicit keys beat the default chain, so the sweep can
			// never delete instances through a CI host's instance role.
			if access := os.Getenv("AWS_ACCESS_KEY_ID"); access != "" {
				opts = append(opts, awsconfig.WithCredentialsProvider(
					credentials.NewStaticCredentialsProvider(
						access, os.Getenv("AWS_SECRET_ACCESS_KEY"), "")))
			}
			cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
			if err != nil {
				return nil, errors.Trace(err)
			}
			return ec2.NewFromConfig(cfg), nil
		},
	}
}

// EnsureCleanup is part of the Sweeper interface.
func (s *awsSweeper) EnsureCleanup(ctx context.Context, details ResourceDetails) []CleanupError {
	if details.Empty() {
		return nil
	}
	client, err := s.newClient(ctx)
	if err != nil {
		return []CleanupError{{
			Resource: "ec2 session",
			Failures: []Failure{{ID: s.region, Reason: err.Error()}},
		}}
	}
	var cleanupErrors []CleanupError
	if failures := s.terminateInstances(ctx, client, details); len(failures) > 0 {
		cleanupErrors = append(cleanupErrors, CleanupError{Resource: "instances", Failures: failures})
	}
	if failures := s.deleteSecurityGroups(ctx, client, details); len(failures) > 0 {
		cleanupErrors = append(cleanupErrors, CleanupError{Resource: "security groups", Failures: failures})
	}
	return cleanupErrors
}

// surviving returns the ids of the run's instances still alive. Lookup
// goes through filters rather than instance ids so that instances the
// controller already removed cannot fail the whole call.
func (s *awsSweeper) surviving(ctx context.Context, client ec2Client, details ResourceDetails) ([]string, error) {
	stateFilter := types.Filter{
		Name:   aws.String("instance-state-name"),
		Values: []string{"pending", "running"},
	}
	var filters []types.Filter
	if details.ControllerUUID != "" {
		filters = []types.Filter{{
			Name:   aws.String("tag:" + controllerTag),
			Values: []string{details.ControllerUUID},
		}, stateFilter}
	} else {
		ids := make([]string, len(details.Instances))
		for i, inst := range details.Instances {
			ids[i] = inst.ID
		}
		filters = []types.Filter{{
			Name:   aws.String("instance-id"),
			Values: ids,
		}, stateFilter}
	}
	out, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{Filters: filters})
	if err != nil {
		return nil, errors.Trace(err)
	}
	var ids []string
	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			ids = append(ids, aws.ToString(instance.InstanceId))
		}
	}
	return ids, nil
}

func (s *awsSweeper) terminateInstances(ctx context.Context, client ec2Client, details ResourceDetails) []Failure {
	ids, err := s.surviving(ctx, client, details)
	if err != nil {
		return []Failure{{ID: "describe-instances", Reason: err.Error()}}
	}
	if len(ids) == 0 {
		return nil
	}
	logger.Infof("terminating leaked instances %v", ids)
	if _, err := client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids}); err != nil {
		failures := make([]Failure, len(ids))
		for i, id := range ids {
			failures[i] = Failure{ID: id, Reason: err.Error()}
		}
		return failures
	}
	return nil
}

func (s *awsSweeper) deleteSecurityGroups(ctx context.Context, client ec2Client, details ResourceDetails) []Failure {
	filters := []types.Filter{{
		Name:   aws.String("description"),
		Values: []string{jujuGroupDescription},
	}}
	if details.ControllerUUID != "" {
		filters = append(filters, types.Filter{
			Name:   aws.String("tag:" + controllerTag),
			Values: []string{details.ControllerUUID},
		})
	}
	out, err := client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{Filters: filters})
	if err != nil {
		return []Failure{{ID: "describe-security-groups", Reason: err.Error()}}
	}
	var failures []Failure
	for _, group := range out.SecurityGroups {
		id := aws.ToString(group.GroupId)
		logger.Infof("deleting leaked security group %s (%s)", id, aws.ToString(group.GroupName))
		if _, err := client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(id)}); err != nil {
			failures = append(failures, Failure{ID: id, Reason: err.Error()})
		}
	}
	return failures
}
