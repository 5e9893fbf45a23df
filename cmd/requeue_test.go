package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/midnight-artisan/artisan"
	"github.com/midnight-artisan/artisan/config"
)

func TestPrintRequeueResult(t *testing.T) {
	var out bytes.Buffer
	printRequeueResult(&out, artisan.RequeueResult{
		Found:  2,
		Queued: 1,
		Entries: []artisan.RequeueEntry{
			{OrderID: "ord_1", TaskID: "task_1"},
			{OrderID: "ord_2", Error: "task queue unavailable"},
		},
	})

	want := "Found 2 orders without invoices sent\n" +
		"  ✓ Order ord_1 queued (task: task_1)\n" +
		"  ✗ Order ord_2 failed: task queue unavailable\n" +
		"\nQueued: 1/2\n"
	assert.Equal(t, want, out.String())
}

func TestRedact(t *testing.T) {
	cfg := config.Configuration{}
	cfg.Server.SecretKey = "s3cret"
	cfg.Mail.SMTP.Password = "hunter2"

	out := redact(cfg)
	assert.Equal(t, redacted, out.Server.SecretKey)
	assert.Equal(t, redacted, out.Mail.SMTP.Password)
	assert.Equal(t, "s3cret", cfg.Server.SecretKey)
}

func TestInitializeQueues(t *testing.T) {
	cfg := &config.Configuration{Queue: config.QueueConfig{InvoiceQueue: "invoice:dispatch", WebhookQueue: "webhook:events"}}
	queues := initializeQueues(cfg)
	assert.Equal(t, 3, queues["invoice:dispatch"])
	assert.Equal(t, 1, queues["webhook:events"])
}
