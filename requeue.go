/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package artisan

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/midnight-artisan/artisan/config"
)

// DefaultRequeueLimit is the number of orders RequeueUninvoiced looks at when no limit is given.
const DefaultRequeueLimit = 100

// RequeueEntry is the result for one order. Error is set when the order could not be queued.
type RequeueEntry struct {
	OrderID string `json:"order_id"`
	TaskID  string `json:"task_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type RequeueResult struct {
	Found   int            `json:"found"`
	Queued  int            `json:"queued"`
	Entries []RequeueEntry `json:"entries"`
}

// RequeueUninvoiced queues an invoice task for up to limit orders whose invoice was never
// sent, oldest first. Per-order failures are recorded and do not stop the run.
func (a *Artisan) RequeueUninvoiced(ctx context.Context, limit int) (RequeueResult, error) {
	return a.requeueCreatedBefore(ctx, time.Now().UTC(), limit)
}

func (a *Artisan) requeueCreatedBefore(ctx context.Context, cutoff time.Time, limit int) (RequeueResult, error) {
	if limit <= 0 {
		limit = DefaultRequeueLimit
	}

	orders, err := a.datasource.GetUninvoicedOrders(ctx, cutoff, limit)
	if err != nil {
		return RequeueResult{}, err
	}

	orderIDs := make([]string, 0, len(orders))
	for _, order := range orders {
		orderIDs = append(orderIDs, order.OrderID)
	}

	dispatched := a.dispatcher.DispatchBulk(ctx, orderIDs)
	taskIDs := make(map[string]string, len(dispatched.QueuedTasks))
	for _, queued := range dispatched.QueuedTasks {
		taskIDs[queued.OrderID] = queued.TaskID
	}
	failures := make(map[string]string, len(dispatched.Failed))
	for _, failed := range dispatched.Failed {
		failures[failed.OrderID] = failed.Error
	}

	result := RequeueResult{Found: len(orders), Queued: len(dispatched.QueuedTasks), Entries: make([]RequeueEntry, 0, len(orders))}
	for _, orderID := range orderIDs {
		result.Entries = append(result.Entries, RequeueEntry{OrderID: orderID, TaskID: taskIDs[orderID], Error: failures[orderID]})
	}

	a.log.WithFields(logrus.Fields{"found": result.Found, "queued": result.Queued}).Info("uninvoiced orders requeued")
	return result, nil
}

// InvoiceRecoveryProcessor periodically requeues orders that stayed uninvoiced for longer
// than the stuck threshold.
type InvoiceRecoveryProcessor struct {
	artisan        *Artisan
	batchSize      int
	pollInterval   time.Duration
	stuckThreshold time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

func NewInvoiceRecoveryProcessor(a *Artisan, cfg config.InvoiceConfig) *InvoiceRecoveryProcessor {
	p := &InvoiceRecoveryProcessor{
		artisan:        a,
		batchSize:      cfg.RequeueLimit,
		pollInterval:   time.Duration(cfg.RecoveryIntervalSec) * time.Second,
		stuckThreshold: time.Duration(cfg.StuckThresholdSec) * time.Second,
		stopCh:         make(chan struct{}),
	}
	if p.batchSize <= 0 {
		p.batchSize = DefaultRequeueLimit
	}
	if p.pollInterval <= 0 {
		p.pollInterval = 5 * time.Minute
	}
	if p.stuckThreshold <= 0 {
		p.stuckThreshold = time.Hour
	}
	return p
}

func (p *InvoiceRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Invoice recovery processor started")
}

func (p *InvoiceRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Invoice recovery processor stopped")
}

func (p *InvoiceRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *InvoiceRecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Invoice recovery processor context cancelled")
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.processBatch(ctx)
		}
	}
}

func (p *InvoiceRecoveryProcessor) processBatch(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-p.stuckThreshold)
	result, err := p.artisan.requeueCreatedBefore(ctx, cutoff, p.batchSize)
	if err != nil {
		logrus.Errorf("failed to recover uninvoiced orders: %v", err)
		return 0
	}
	return result.Queued
}
