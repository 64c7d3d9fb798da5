package awstest

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQS records sent messages.
type SQS struct {
	mu       sync.Mutex
	Messages []*sqs.SendMessageInput
	Err      error
}

func (q *SQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return nil, q.Err
	}
	q.Messages = append(q.Messages, params)
	return &sqs.SendMessageOutput{}, nil
}

// Sent returns a snapshot of the sent messages.
func (q *SQS) Sent() []*sqs.SendMessageInput {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*sqs.SendMessageInput(nil), q.Messages...)
}

// CloudWatch records published metric data.
type CloudWatch struct {
	mu     sync.Mutex
	Inputs []*cloudwatch.PutMetricDataInput
	Err    error
}

func (c *CloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	c.Inputs = append(c.Inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// Total sums the values published for a metric name.
func (c *CloudWatch) Total(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum float64
	for _, in := range c.Inputs {
		for _, d := range in.MetricData {
			if d.MetricName != nil && *d.MetricName == name && d.Value != nil {
				sum += *d.Value
			}
		}
	}
	return sum
}
