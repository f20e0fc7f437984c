package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"smartflow-backend/internal/bootstrap"
	"smartflow-backend/internal/queue"
	"smartflow-backend/internal/sessions"
	"smartflow-backend/internal/shared/config"
	"smartflow-backend/internal/shared/correlation"
	"smartflow-backend/internal/shared/metrics"
	"smartflow-backend/internal/shared/telemetry"
)

const (
	defaultSQSRegion          = "us-east-1"
	defaultVisibilitySeconds  = 300
	defaultWorkerConcurrency  = 4
	defaultShutdownTimeoutSec = 30
)

func main() {
	cfg := config.Load()

	queueURL := strings.TrimSpace(os.Getenv("SF_SQS_QUEUE_URL"))
	if queueURL == "" {
		log.Fatal("SF_SQS_QUEUE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	visibilitySeconds := envInt("SF_SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)
	concurrency := envInt("SF_WORKER_CONCURRENCY", defaultWorkerConcurrency)
	shutdownTimeout := time.Duration(envInt("SF_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second

	region := strings.TrimSpace(os.Getenv("AWS_REGION"))
	if region == "" {
		region = defaultSQSRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	var sqsClient sqsAPI = sqs.NewFromConfig(awsCfg)

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}

	sem := make(chan struct{}, max(1, concurrency))
	var wg sync.WaitGroup

	log.Printf("worker started queue=%s concurrency=%d visibility=%ds", queueURL, concurrency, visibilitySeconds)

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibilitySeconds),
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			log.Printf("receive message: %v", err)
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			metrics.IncReconcileJobsReceived()
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				handleMessage(ctx, app.Orchestrator, sqsClient, queueURL, m)
			}(msg)
		}
	}

	log.Printf("shutdown requested, waiting up to %s for in-flight jobs", shutdownTimeout)
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		log.Printf("shutdown timeout reached; exiting with in-flight jobs")
	}
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// reconciler is the part of the orchestrator the worker drives.
type reconciler interface {
	Reconcile(ctx context.Context, sessionID string) (sessions.SessionStatus, error)
}

func handleMessage(ctx context.Context, orch reconciler, client sqsAPI, queueURL string, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)
	if strings.TrimSpace(body) == "" {
		fields := baseFields(msg, "", "")
		fields["body_len"] = 0
		telemetry.Error("worker.reconcile.empty_body", fields)
		if deleteMessage(ctx, client, queueURL, msg, "", "") {
			metrics.IncReconcileJobsUnrecoverable()
		}
		return
	}

	decoded, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		fields := baseFields(msg, "", "")
		fields["body_len"] = len(body)
		fields["error"] = err.Error()
		telemetry.Error("worker.reconcile.decode_failed", fields)
		if deleteMessage(ctx, client, queueURL, msg, "", "") {
			metrics.IncReconcileJobsUnrecoverable()
		}
		return
	}
	if strings.TrimSpace(decoded.SessionID) == "" {
		fields := baseFields(msg, "", decoded.CorrelationID)
		fields["body_len"] = len(body)
		telemetry.Error("worker.reconcile.missing_session_id", fields)
		if deleteMessage(ctx, client, queueURL, msg, "", decoded.CorrelationID) {
			metrics.IncReconcileJobsUnrecoverable()
		}
		return
	}

	telemetry.Info("worker.reconcile.received", baseFields(msg, decoded.SessionID, decoded.CorrelationID))

	jobCtx := ctx
	if decoded.CorrelationID != "" {
		jobCtx = correlation.WithID(ctx, decoded.CorrelationID)
	}

	status, err := orch.Reconcile(jobCtx, decoded.SessionID)
	if err != nil {
		var tErr *sessions.TransitionError
		switch {
		case errors.Is(err, sessions.ErrNotFound):
			// Session deleted while the message was in flight.
			if deleteMessage(ctx, client, queueURL, msg, decoded.SessionID, decoded.CorrelationID) {
				metrics.IncReconcileJobsUnrecoverable()
			}
			return
		case errors.As(err, &tErr):
			// Cancellation or an out-of-band transition made the message moot.
			if deleteMessage(ctx, client, queueURL, msg, decoded.SessionID, decoded.CorrelationID) {
				metrics.IncReconcileJobsCompleted()
			}
			return
		default:
			fields := baseFields(msg, decoded.SessionID, decoded.CorrelationID)
			fields["error"] = err.Error()
			telemetry.Error("worker.reconcile.failed", fields)
			metrics.IncReconcileJobsFailed()
			return
		}
	}

	if !status.IsTerminal() {
		// Still pending on the agent side; let the message come back
		// after the visibility timeout.
		fields := baseFields(msg, decoded.SessionID, decoded.CorrelationID)
		fields["status"] = string(status)
		telemetry.Info("worker.reconcile.pending", fields)
		metrics.IncReconcileJobsPending()
		return
	}

	if deleteMessage(ctx, client, queueURL, msg, decoded.SessionID, decoded.CorrelationID) {
		fields := baseFields(msg, decoded.SessionID, decoded.CorrelationID)
		fields["status"] = string(status)
		telemetry.Info("worker.reconcile.completed", fields)
		metrics.IncReconcileJobsCompleted()
	}
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message, sessionID, correlationID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, sessionID, correlationID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.reconcile.delete_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, sessionID, correlationID)
		fields["error"] = err.Error()
		telemetry.Error("worker.reconcile.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, sessionID, correlationID string) map[string]any {
	fields := map[string]any{
		"session_id":     sessionID,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(correlationID) != "" {
		fields["correlation_id"] = correlationID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
