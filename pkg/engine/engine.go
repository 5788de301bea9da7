// Package engine runs a crawl: it schedules requests on a priority queue,
// fetches them under global and per-host limits, hands responses to the
// spider callback and routes the callback outputs to item pipelines or
// back onto the queue. It knows nothing about page objects.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/poet-crawler/pkg/config"
	"github.com/Sriram-PR/poet-crawler/pkg/fetch"
	"github.com/Sriram-PR/poet-crawler/pkg/models"
	"github.com/Sriram-PR/poet-crawler/pkg/queue"
	"github.com/Sriram-PR/poet-crawler/pkg/stats"
	"github.com/Sriram-PR/poet-crawler/pkg/storage"
	"github.com/Sriram-PR/poet-crawler/pkg/utils"
)

const (
	progressInterval = 30 * time.Second
	gcInterval       = 10 * time.Minute
	evictionInterval = 5 * time.Minute
)

// ErrDropItem is returned by a pipeline to discard an item without logging a failure
var ErrDropItem = errors.New("item dropped by pipeline")

// Downloader fetches a request
type Downloader interface {
	Fetch(ctx context.Context, req *models.Request, userAgent string) (*models.Response, error)
}

// RobotsChecker reports whether a URL may be fetched
type RobotsChecker interface {
	Allowed(ctx context.Context, target *url.URL, userAgent string) bool
}

// ItemPipeline processes a delivered item. Returning a nil item or
// ErrDropItem stops the item; other errors are logged and stop it too.
type ItemPipeline interface {
	ProcessItem(ctx context.Context, item any) (any, error)
}

// Spider is what the engine crawls: the start requests and the callback
// for responses whose request has none of its own.
type Spider struct {
	Name          string
	StartRequests []*models.Request
	Callback      models.Callback
	UserAgent     string
	DelayPerHost  time.Duration
}

// SpiderFromConfig builds a spider from a configured spider entry
func SpiderFromConfig(name string, spiderCfg config.SpiderConfig, appCfg config.AppConfig, cb models.Callback) Spider {
	reqs := make([]*models.Request, 0, len(spiderCfg.StartURLs))
	for _, u := range spiderCfg.StartURLs {
		reqs = append(reqs, models.NewRequest(u))
	}
	return Spider{
		Name:          name,
		StartRequests: reqs,
		Callback:      cb,
		UserAgent:     config.GetEffectiveUserAgent(spiderCfg, appCfg),
		DelayPerHost:  config.GetEffectiveDelayPerHost(spiderCfg, appCfg),
	}
}

// Options carries the collaborators of an Engine
type Options struct {
	Store       storage.VisitedStore // Required
	Fetcher     Downloader           // Required
	Robots      RobotsChecker        // Nil disables robots.txt checks
	Stats       *stats.Recorder      // Nil creates a recorder for the run
	RateLimiter *fetch.RateLimiter   // Nil creates one from the spider delay
	Pipelines   []ItemPipeline
}

// Engine orchestrates one crawl run of a spider
type Engine struct {
	log    *logrus.Entry
	appCfg *config.AppConfig
	spider Spider
	runID  string

	store       storage.VisitedStore
	pq          *queue.RequestQueue
	fetcher     Downloader
	robots      RobotsChecker
	rateLimiter *fetch.RateLimiter
	pipelines   []ItemPipeline
	stats       *stats.Recorder

	globalSemaphore *semaphore.Weighted
	hostSemPool     *fetch.HostSemaphorePool

	wg               sync.WaitGroup // Scheduled requests not yet finished
	processedCounter atomic.Int64
	crawlCtx         context.Context
}

// New creates an engine for spider
func New(appCfg *config.AppConfig, spider Spider, opts Options, log *logrus.Entry) (*Engine, error) {
	if opts.Store == nil || opts.Fetcher == nil {
		return nil, fmt.Errorf("%w: engine needs a store and a fetcher", utils.ErrConfigValidation)
	}
	if spider.Callback == nil {
		return nil, fmt.Errorf("%w: spider '%s' has no callback", utils.ErrConfigValidation, spider.Name)
	}
	runID := uuid.NewString()
	engineLog := log.WithFields(logrus.Fields{"spider": spider.Name, "run_id": runID})

	rec := opts.Stats
	if rec == nil {
		rec = stats.NewRecorder()
	}
	rateLimiter := opts.RateLimiter
	if rateLimiter == nil {
		rateLimiter = fetch.NewRateLimiter(spider.DelayPerHost, engineLog)
	}
	return &Engine{
		log:             engineLog,
		appCfg:          appCfg,
		spider:          spider,
		runID:           runID,
		store:           opts.Store,
		pq:              queue.NewRequestQueue(engineLog),
		fetcher:         opts.Fetcher,
		robots:          opts.Robots,
		rateLimiter:     rateLimiter,
		pipelines:       opts.Pipelines,
		stats:           rec,
		globalSemaphore: semaphore.NewWeighted(int64(appCfg.MaxRequests)),
		hostSemPool:     fetch.NewHostSemaphorePool(appCfg.MaxRequestsPerHost, appCfg.SemaphoreAcquireTimeout, engineLog),
	}, nil
}

// RunID identifies this crawl run in logs and the summary
func (e *Engine) RunID() string {
	return e.runID
}

// Stats returns the recorder of this run
func (e *Engine) Stats() *stats.Recorder {
	return e.stats
}

// Run crawls until no scheduled request is left or ctx is done.
// With resume, incomplete lineages from the store are requeued first.
// The returned error is the crawl context error (nil on normal completion).
func (e *Engine) Run(ctx context.Context, resume bool) (*models.CrawlSummary, error) {
	crawlStart := time.Now()
	runLog := e.log.WithField("resume", resume)
	runLog.Infof("Crawl starting with %d worker(s)...", e.appCfg.NumWorkers)

	var crawlCtx context.Context
	var cancel context.CancelFunc
	if e.appCfg.GlobalCrawlTimeout > 0 {
		crawlCtx, cancel = context.WithTimeout(ctx, e.appCfg.GlobalCrawlTimeout)
	} else {
		crawlCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	e.crawlCtx = crawlCtx

	startRequests := e.validStartRequests(runLog)
	if len(startRequests) == 0 && !resume {
		return nil, fmt.Errorf("%w: no valid start requests for spider '%s'", utils.ErrConfigValidation, e.spider.Name)
	}

	// --- Requeue incomplete lineages (resume) ---
	requeued := 0
	if resume {
		runLog.Info("Resume mode: scanning database for incomplete requests...")
		requeueChan := make(chan *models.Request, 100)
		var requeueWg sync.WaitGroup
		requeueWg.Add(1)
		go func() {
			defer requeueWg.Done()
			for req := range requeueChan {
				if e.schedule(req, runLog) {
					requeued++
				}
			}
		}()
		_, _, scanErr := e.store.RequeueIncomplete(crawlCtx, requeueChan)
		close(requeueChan)
		requeueWg.Wait()
		if scanErr != nil && !errors.Is(scanErr, context.Canceled) && !errors.Is(scanErr, context.DeadlineExceeded) {
			runLog.Errorf("Error during DB requeue scan: %v", scanErr)
		}
		if crawlCtx.Err() != nil {
			runLog.Warnf("Crawl context cancelled during resume scan: %v", crawlCtx.Err())
			return nil, crawlCtx.Err()
		}
		runLog.Infof("DB requeue scan complete. Requeued %d requests.", requeued)
	}

	// --- Background maintenance ---
	go e.store.RunGC(crawlCtx, gcInterval)
	go e.hostSemPool.RunEviction(crawlCtx, evictionInterval)

	// --- Workers ---
	var workersWg sync.WaitGroup
	for i := 1; i <= e.appCfg.NumWorkers; i++ {
		workersWg.Add(1)
		workerLog := e.log.WithField("worker_id", i)
		go func() {
			defer workersWg.Done()
			e.worker(workerLog)
		}()
	}

	// --- Seed ---
	seeded := 0
	for _, req := range startRequests {
		if e.schedule(req, runLog) {
			seeded++
		}
	}
	if seeded == 0 && requeued == 0 {
		runLog.Warn("No requests scheduled (all start requests filtered and nothing to resume).")
	} else {
		runLog.Infof("Seeded %d start request(s), %d resumed.", seeded, requeued)
	}

	// --- Waiter ---
	progTicker := time.NewTicker(progressInterval)
	defer progTicker.Stop()
	waitTasksDone := make(chan struct{})
	go func() { e.wg.Wait(); close(waitTasksDone) }()
waitLoop:
	for {
		select {
		case <-waitTasksDone:
			runLog.Info("All scheduled requests finished.")
			break waitLoop
		case <-crawlCtx.Done():
			runLog.Warnf("Crawl context done (%v) while requests were pending. Shutting down.", crawlCtx.Err())
			break waitLoop
		case <-progTicker.C:
			visited, _ := e.store.GetVisitedCount()
			runLog.WithFields(logrus.Fields{
				"visited_db":      visited,
				"queue_len":       e.pq.Len(),
				"processed_tasks": e.processedCounter.Load(),
				"requests":        e.stats.Value(stats.RequestCount),
				"items":           e.stats.Value(stats.ItemScrapedCount),
			}).Info("Crawl Progress")
		}
	}
	e.pq.Close()
	workersWg.Wait()

	summary := &models.CrawlSummary{
		RunID:          e.runID,
		SpiderName:     e.spider.Name,
		CrawlStartTime: crawlStart,
		CrawlEndTime:   time.Now(),
		ItemsScraped:   e.stats.Value(stats.ItemScrapedCount),
		Stats:          e.stats.Snapshot(),
	}

	// --- Final summary ---
	visited, countErr := e.store.GetVisitedCount()
	if countErr != nil {
		runLog.Warnf("Could not get final visited count from DB: %v", countErr)
		visited = -1
	}
	runLog.Info("========================================================================")
	runLog.Info("CRAWL FINISHED")
	runLog.Infof("Duration:         %v", summary.CrawlEndTime.Sub(crawlStart))
	runLog.Infof("Final Stats: Visited (DB Est): %d, Processed Tasks: %d, Requests: %d, Items: %d, Retries: %d",
		visited, e.processedCounter.Load(), e.stats.Value(stats.RequestCount),
		summary.ItemsScraped, e.stats.Value(stats.RetryCount))
	runLog.Info("========================================================================")

	return summary, crawlCtx.Err()
}

// validStartRequests drops duplicate and unparsable start requests
func (e *Engine) validStartRequests(runLog *logrus.Entry) []*models.Request {
	var valid []*models.Request
	seen := make(map[string]bool, len(e.spider.StartRequests))
	for i, req := range e.spider.StartRequests {
		if req == nil {
			continue
		}
		startLog := runLog.WithFields(logrus.Fields{"index": i, "url": req.URL})
		if _, err := url.ParseRequestURI(req.URL); err != nil {
			startLog.Warnf("Invalid start URL: %v. Skipping.", err)
			continue
		}
		fp := req.Fingerprint()
		if seen[fp] {
			startLog.Warn("Duplicate start request. Skipping.")
			continue
		}
		seen[fp] = true
		valid = append(valid, req)
	}
	return valid
}

// schedule puts req on the queue unless the duplicate filter rejects it.
// Requests with DontFilter bypass the filter; this is how retries of a
// lineage get through.
func (e *Engine) schedule(req *models.Request, log *logrus.Entry) bool {
	if !req.DontFilter {
		fp := req.Fingerprint()
		added, err := e.store.MarkRequestSeen(fp, &models.RequestDBEntry{
			URL:         req.URL,
			Method:      req.EffectiveMethod(),
			Body:        req.Body,
			Header:      req.Header,
			Meta:        models.StorableMeta(req.Meta),
			Status:      models.RequestStatusPending,
			LastAttempt: time.Now(),
			Priority:    req.Priority,
		})
		if err != nil {
			log.WithField("url", req.URL).Errorf("DB error marking request seen, scheduling anyway: %v", err)
		} else if !added {
			e.stats.Inc(stats.DupeFiltered)
			log.WithField("url", req.URL).Debug("Filtered duplicate request")
			return false
		}
	}
	e.wg.Add(1)
	if !e.pq.Add(req) {
		e.wg.Done()
		log.WithField("url", req.URL).Debug("Queue closed, request not scheduled")
		return false
	}
	return true
}

// worker pops requests until the queue is closed and drained or the crawl is done
func (e *Engine) worker(workerLog *logrus.Entry) {
	workerLog.Debug("Worker starting")
	defer workerLog.Debug("Worker finished")

	for {
		select {
		case <-e.crawlCtx.Done():
			workerLog.Debugf("Worker shutting down: %v", e.crawlCtx.Err())
			return
		default:
		}

		req, ok := e.pq.Pop()
		if !ok {
			return
		}
		e.processRequest(req, workerLog)
	}
}

// processRequest fetches req, runs its callback, records the lineage
// status and dispatches the outputs.
func (e *Engine) processRequest(req *models.Request, workerLog *logrus.Entry) {
	fingerprint := req.Fingerprint()
	taskLog := workerLog.WithFields(logrus.Fields{"url": req.URL, "retry_count": req.RetryCount})
	startTime := time.Now()

	taskCtx := e.crawlCtx
	if e.appCfg.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(e.crawlCtx, e.appCfg.PerRequestTimeout)
		defer cancel()
	}

	var taskErr error
	recorded := false

	defer func() {
		panicked := false
		if r := recover(); r != nil {
			panicked = true
			taskErr = fmt.Errorf("panic: %v", r)
			taskLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"duration":    time.Since(startTime).String(),
				"stage":       "PanicRecovery",
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in processRequest")
		}

		if taskErr != nil {
			category := utils.CategorizeError(taskErr)
			e.stats.Inc(stats.RequestFailedPrefix + category)
			logFields := logrus.Fields{"duration": time.Since(startTime).String(), "category": category}
			if errors.Is(taskErr, utils.ErrMalformedOutcome) {
				taskLog.WithFields(logFields).Errorf("Malformed extraction outcome: %v", taskErr)
			} else if !panicked {
				taskLog.WithFields(logFields).Warnf("Task failed: %v", taskErr)
			}
			if !recorded {
				e.record(fingerprint, req, models.RequestStatusFailure, category, req.RetryCount, "", taskLog)
			}
		}

		e.processedCounter.Add(1)
		e.wg.Done()
	}()

	outputs, err := e.fetchAndHandle(taskCtx, req, taskLog)
	if err != nil {
		taskErr = err
		return
	}
	if e.crawlCtx.Err() != nil {
		taskErr = fmt.Errorf("discarding callback outputs for %s: %w", req.URL, e.crawlCtx.Err())
		return
	}

	status, retryCount, reason := lineageStatus(req, fingerprint, outputs)
	e.record(fingerprint, req, status, "None", retryCount, reason, taskLog)
	recorded = true

	e.dispatch(taskCtx, outputs, taskLog)
	taskLog.WithFields(logrus.Fields{
		"duration": time.Since(startTime).String(),
		"status":   status.String(),
		"outputs":  len(outputs),
	}).Debug("Task completed")
}

// fetchAndHandle runs the policy, resource, fetch and callback stages
func (e *Engine) fetchAndHandle(ctx context.Context, req *models.Request, taskLog *logrus.Entry) ([]models.Output, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing URL '%s': %w", utils.ErrParsing, req.URL, err)
	}
	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: URL '%s' missing host", utils.ErrParsing, req.URL)
	}

	if e.robots != nil && !e.robots.Allowed(ctx, parsed, e.spider.UserAgent) {
		return nil, fmt.Errorf("%w: URL '%s' disallowed for agent '%s'", utils.ErrRobotsDisallowed, parsed.RequestURI(), e.spider.UserAgent)
	}

	resp, err := e.download(ctx, req, host, taskLog)
	if err != nil {
		return nil, err
	}

	e.stats.Inc(stats.ResponseCount)
	callback := req.Callback
	if callback == nil {
		callback = e.spider.Callback
	}
	return callback(ctx, resp)
}

// download fetches req while holding the host and global permits
func (e *Engine) download(ctx context.Context, req *models.Request, host string, taskLog *logrus.Entry) (*models.Response, error) {
	release, err := e.acquireResources(ctx, host, taskLog)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.rateLimiter.Wait(ctx, host, e.spider.DelayPerHost); err != nil {
		return nil, err
	}
	e.stats.Inc(stats.RequestCount)
	resp, err := e.fetcher.Fetch(ctx, req, e.spider.UserAgent)
	e.rateLimiter.Touch(host)
	return resp, err
}

// acquireResources takes a host permit then a global permit
func (e *Engine) acquireResources(ctx context.Context, host string, taskLog *logrus.Entry) (func(), error) {
	releaseHost, err := e.hostSemPool.Acquire(ctx, host)
	if err != nil {
		return nil, err
	}

	globalCtx, cancelGlobal := context.WithTimeout(ctx, e.appCfg.SemaphoreAcquireTimeout)
	defer cancelGlobal()
	if err := e.globalSemaphore.Acquire(globalCtx, 1); err != nil {
		releaseHost()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: acquire global semaphore: %w", utils.ErrSemaphoreTimeout, err)
	}
	taskLog.Trace("Acquired host and global semaphores")

	return func() {
		e.globalSemaphore.Release(1)
		releaseHost()
	}, nil
}

// lineageStatus derives the stored status of req's lineage from its outputs:
// a re-issue of the same fingerprint means retrying, a drop means dropped.
func lineageStatus(req *models.Request, fingerprint string, outputs []models.Output) (models.RequestStatus, int, string) {
	dropReason := ""
	for _, out := range outputs {
		if out.Request != nil && out.Request.RetryCount > req.RetryCount && out.Request.Fingerprint() == fingerprint {
			reason, _ := out.Request.Meta[models.MetaRetryReason].(string)
			return models.RequestStatusRetrying, out.Request.RetryCount, reason
		}
		if dropReason == "" && out.DropReason != "" {
			dropReason = out.DropReason
		}
	}
	if dropReason != "" {
		return models.RequestStatusDropped, req.RetryCount, dropReason
	}
	return models.RequestStatusSuccess, req.RetryCount, ""
}

// record stores the lineage status of req
func (e *Engine) record(fingerprint string, req *models.Request, status models.RequestStatus, errorType string, retryCount int, reason string, taskLog *logrus.Entry) {
	now := time.Now()
	entry := &models.RequestDBEntry{
		URL:         req.URL,
		Method:      req.EffectiveMethod(),
		Body:        req.Body,
		Header:      req.Header,
		Meta:        models.StorableMeta(req.Meta),
		Status:      status,
		ErrorType:   errorType,
		RetryCount:  retryCount,
		RetryReason: reason,
		LastAttempt: now,
		Priority:    req.Priority,
	}
	if status == models.RequestStatusSuccess {
		entry.ProcessedAt = now
	}
	if err := e.store.UpdateRequestStatus(fingerprint, entry); err != nil {
		taskLog.Errorf("Failed to update DB status to '%s': %v", status, err)
	}
}

// dispatch routes callback outputs: items to the pipelines, requests to the queue
func (e *Engine) dispatch(ctx context.Context, outputs []models.Output, taskLog *logrus.Entry) {
	for _, out := range outputs {
		switch {
		case out.Item != nil:
			e.processItem(ctx, out.Item, taskLog)
		case out.Request != nil:
			e.schedule(out.Request, taskLog)
		case out.DropReason != "":
			taskLog.WithField("reason", out.DropReason).Debug("Request dropped")
		}
	}
}

// processItem runs item through the pipelines in order
func (e *Engine) processItem(ctx context.Context, item any, taskLog *logrus.Entry) {
	var err error
	for _, p := range e.pipelines {
		item, err = p.ProcessItem(ctx, item)
		if err != nil && !errors.Is(err, ErrDropItem) {
			taskLog.Warnf("Item pipeline %T failed: %v", p, err)
		}
		if err != nil || item == nil {
			e.stats.Inc(stats.ItemDroppedCount)
			return
		}
	}
	e.stats.Inc(stats.ItemScrapedCount)
}
