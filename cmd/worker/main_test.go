package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"smartflow-backend/internal/queue"
	"smartflow-backend/internal/sessions"
	"smartflow-backend/internal/shared/metrics"
)

type fakeSQS struct {
	deleted []string
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	_ = ctx
	_ = params
	_ = optFns
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	_ = ctx
	_ = optFns
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type fakeReconciler struct {
	status sessions.SessionStatus
	err    error
	calls  int
}

func (f *fakeReconciler) Reconcile(ctx context.Context, sessionID string) (sessions.SessionStatus, error) {
	_ = ctx
	_ = sessionID
	f.calls++
	return f.status, f.err
}

func sqsMessage(t *testing.T, msg queue.Message) sqstypes.Message {
	t.Helper()
	body, err := queue.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	return sqstypes.Message{
		MessageId:     aws.String("m1"),
		ReceiptHandle: aws.String("r1"),
		Body:          aws.String(string(body)),
		Attributes:    map[string]string{"ApproximateReceiveCount": "1"},
	}
}

func TestWorkerDeletesMessageOnTerminalStatus(t *testing.T) {
	client := &fakeSQS{}
	orch := &fakeReconciler{status: sessions.StatusCompleted}

	handleMessage(context.Background(), orch, client, "queue", sqsMessage(t, queue.Message{SessionID: "sess-1", CorrelationID: "corr-1"}))

	if orch.calls != 1 {
		t.Fatalf("expected one reconcile call, got %d", orch.calls)
	}
	if len(client.deleted) != 1 {
		t.Fatalf("expected delete, got %d", len(client.deleted))
	}
}

func TestWorkerKeepsMessageWhilePending(t *testing.T) {
	client := &fakeSQS{}
	orch := &fakeReconciler{status: sessions.StatusProcessing}

	pendingBefore := metrics.ReconcileJobsPending()
	failedBefore := metrics.ReconcileJobsFailed()

	handleMessage(context.Background(), orch, client, "queue", sqsMessage(t, queue.Message{SessionID: "sess-1"}))

	if len(client.deleted) != 0 {
		t.Fatalf("expected no delete while pending, got %d", len(client.deleted))
	}
	if got := metrics.ReconcileJobsPending(); got != pendingBefore+1 {
		t.Fatalf("expected pending counter to advance, got %d (was %d)", got, pendingBefore)
	}
	if got := metrics.ReconcileJobsFailed(); got != failedBefore {
		t.Fatalf("pending requeue counted as a failure: %d (was %d)", got, failedBefore)
	}
}

func TestWorkerKeepsMessageOnTransientError(t *testing.T) {
	client := &fakeSQS{}
	orch := &fakeReconciler{err: errors.New("agent timeout")}

	handleMessage(context.Background(), orch, client, "queue", sqsMessage(t, queue.Message{SessionID: "sess-1"}))

	if len(client.deleted) != 0 {
		t.Fatalf("expected no delete on error, got %d", len(client.deleted))
	}
}

func TestWorkerDeletesUnknownSession(t *testing.T) {
	client := &fakeSQS{}
	orch := &fakeReconciler{err: sessions.ErrNotFound}

	handleMessage(context.Background(), orch, client, "queue", sqsMessage(t, queue.Message{SessionID: "sess-gone"}))

	if len(client.deleted) != 1 {
		t.Fatalf("expected delete for missing session, got %d", len(client.deleted))
	}
}

func TestWorkerDeletesMalformedBody(t *testing.T) {
	client := &fakeSQS{}
	orch := &fakeReconciler{}

	msg := sqstypes.Message{
		MessageId:     aws.String("m1"),
		ReceiptHandle: aws.String("r1"),
		Body:          aws.String("{not json"),
	}
	handleMessage(context.Background(), orch, client, "queue", msg)

	if orch.calls != 0 {
		t.Fatalf("expected no reconcile call, got %d", orch.calls)
	}
	if len(client.deleted) != 1 {
		t.Fatalf("expected delete for malformed body, got %d", len(client.deleted))
	}
}
