package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/zaikakitchen/loyalty-orderflow/internal/aws"
)

func main() {
	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zlog.Sync()
	logger := zlog.Sugar()

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.Fatalw("failed to init aws clients", "error", err)
	}

	metrics := aws.NewMetrics(clients.CloudWatch, metricsNamespace())

	p := NewProcessor(clients.DynamoDB, metrics, logger, ProcessorConfig{
		OrdersTable:    os.Getenv("ORDERS_TABLE"),
		CustomersTable: os.Getenv("CUSTOMERS_TABLE"),
		OpsTable:       os.Getenv("LOYALTY_OPS_TABLE"),
		TTLWindow:      48 * time.Hour,
	})

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if os.Getenv("RUN_LOCAL") == "true" {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"order_id":"local-order-1","target_status":"CONFIRMED"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{Body: testBody},
			},
		}
		if err := p.Handle(context.Background(), event); err != nil {
			logger.Fatalw("local handler error", "error", err)
		}
		return
	}

	lambda.Start(p.Handle)
}

func metricsNamespace() string {
	if ns := os.Getenv("METRICS_NAMESPACE"); ns != "" {
		return ns
	}
	return "LoyaltyOrderflow"
}
