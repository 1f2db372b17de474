package sns

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type mockClient struct {
	input *sns.PublishInput
	err   error
}

func (m *mockClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestPublisher_Publish(t *testing.T) {
	mock := &mockClient{}
	p := &Publisher{client: mock, topicARN: "arn:aws:sns:us-east-1:123456789012:push"}

	msg := Message{
		NotificationID: "notif-123",
		UserID:         "user-456",
		Category:       "applicationUpdates",
		Severity:       "success",
		Title:          "Approved",
		Body:           "Your application was approved",
	}

	id, err := p.Publish(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "msg-1" {
		t.Errorf("expected message id msg-1, got %s", id)
	}

	if aws.ToString(mock.input.TopicArn) != p.topicARN {
		t.Errorf("wrong topic: %s", aws.ToString(mock.input.TopicArn))
	}
	if got := aws.ToString(mock.input.MessageAttributes["user_id"].StringValue); got != "user-456" {
		t.Errorf("user_id attribute = %s", got)
	}
	if got := aws.ToString(mock.input.MessageAttributes["category"].StringValue); got != "applicationUpdates" {
		t.Errorf("category attribute = %s", got)
	}

	var decoded Message
	if err := json.Unmarshal([]byte(aws.ToString(mock.input.Message)), &decoded); err != nil {
		t.Fatalf("message body is not JSON: %v", err)
	}
	if decoded.Title != msg.Title || decoded.NotificationID != msg.NotificationID {
		t.Errorf("payload mismatch: %+v", decoded)
	}
}

func TestPublisher_PublishError(t *testing.T) {
	p := &Publisher{client: &mockClient{err: errors.New("throttled")}, topicARN: "arn"}

	if _, err := p.Publish(context.Background(), Message{UserID: "u"}); err == nil {
		t.Error("expected publish error")
	}
}

func TestMessage_OmitsZeroBadge(t *testing.T) {
	data, err := json.Marshal(Message{NotificationID: "n", Title: "t"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["badge"]; ok {
		t.Error("badge should be omitted when zero")
	}
}

func TestNewPublisher_RequiresTopic(t *testing.T) {
	if _, err := NewPublisher(context.Background(), ""); err == nil {
		t.Error("expected error for empty topic ARN")
	}
}
