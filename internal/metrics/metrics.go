package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the ingest/queue/pipeline/
// rotation surface. Intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	ingestTotal = make(map[ingestKey]int64)

	queueClaimedTotal   int64
	queueReleasedTotal  = make(map[string]int64)
	queueCompletedTotal = make(map[string]int64)

	pipelineRunsTotal = make(map[pipelineKey]int64)

	rotationPicksTotal int64
	sourceOutcomeTotal = make(map[sourceOutcomeKey]int64)
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type ingestKey struct {
	Source string
	Result string
	Reason string
}

type pipelineKey struct {
	Kind    string
	Outcome string
}

type sourceOutcomeKey struct {
	Kind    string
	Outcome string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordIngest increments the ingest outcome counter by source label,
// result (queued/skipped), and reason (empty for queued).
func RecordIngest(source, result, reason string) {
	mu.Lock()
	defer mu.Unlock()
	ingestTotal[ingestKey{Source: source, Result: result, Reason: reason}]++
}

// RecordQueueClaim adds n claimed items to the running total.
func RecordQueueClaim(n int) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	queueClaimedTotal += int64(n)
}

// RecordQueueRelease increments the release counter by error kind.
func RecordQueueRelease(kind string) {
	mu.Lock()
	defer mu.Unlock()
	queueReleasedTotal[kind]++
}

// RecordQueueComplete increments the terminal-status counter.
func RecordQueueComplete(status string) {
	mu.Lock()
	defer mu.Unlock()
	queueCompletedTotal[status]++
}

// RecordPipelineRun increments the per-item pipeline outcome counter
// by item type and outcome kind.
func RecordPipelineRun(itemType, outcome string) {
	mu.Lock()
	defer mu.Unlock()
	pipelineRunsTotal[pipelineKey{Kind: itemType, Outcome: outcome}]++
}

// RecordRotationPick adds n sources picked by the rotation scheduler.
func RecordRotationPick(n int) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	rotationPicksTotal += int64(n)
}

// RecordSourceOutcome increments the source registry's scrape outcome
// counters by source kind and outcome (success/failure).
func RecordSourceOutcome(kind, outcome string) {
	mu.Lock()
	defer mu.Unlock()
	sourceOutcomeTotal[sourceOutcomeKey{Kind: kind, Outcome: outcome}]++
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP jobfinder_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE jobfinder_http_requests_total counter\n")

	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})
	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "jobfinder_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP jobfinder_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE jobfinder_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP jobfinder_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE jobfinder_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})
	for _, k := range latKeys {
		fmt.Fprintf(&b, "jobfinder_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "jobfinder_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP jobfinder_ingest_total Total ingest outcomes by source, result, and reason\n")
	b.WriteString("# TYPE jobfinder_ingest_total counter\n")

	var ingestKeys []ingestKey
	for k := range ingestTotal {
		ingestKeys = append(ingestKeys, k)
	}
	sort.Slice(ingestKeys, func(i, j int) bool {
		if ingestKeys[i].Source != ingestKeys[j].Source {
			return ingestKeys[i].Source < ingestKeys[j].Source
		}
		if ingestKeys[i].Result != ingestKeys[j].Result {
			return ingestKeys[i].Result < ingestKeys[j].Result
		}
		return ingestKeys[i].Reason < ingestKeys[j].Reason
	})
	for _, k := range ingestKeys {
		fmt.Fprintf(&b, "jobfinder_ingest_total{source=\"%s\",result=\"%s\",reason=\"%s\"} %d\n",
			k.Source, k.Result, k.Reason, ingestTotal[k])
	}

	b.WriteString("# HELP jobfinder_queue_claimed_total Total queue items claimed\n")
	b.WriteString("# TYPE jobfinder_queue_claimed_total counter\n")
	fmt.Fprintf(&b, "jobfinder_queue_claimed_total %d\n", queueClaimedTotal)

	b.WriteString("# HELP jobfinder_queue_released_total Total queue items released by error kind\n")
	b.WriteString("# TYPE jobfinder_queue_released_total counter\n")
	var releaseKinds []string
	for k := range queueReleasedTotal {
		releaseKinds = append(releaseKinds, k)
	}
	sort.Strings(releaseKinds)
	for _, k := range releaseKinds {
		fmt.Fprintf(&b, "jobfinder_queue_released_total{kind=\"%s\"} %d\n", k, queueReleasedTotal[k])
	}

	b.WriteString("# HELP jobfinder_queue_completed_total Total queue items completed by terminal status\n")
	b.WriteString("# TYPE jobfinder_queue_completed_total counter\n")
	var completedStatuses []string
	for k := range queueCompletedTotal {
		completedStatuses = append(completedStatuses, k)
	}
	sort.Strings(completedStatuses)
	for _, k := range completedStatuses {
		fmt.Fprintf(&b, "jobfinder_queue_completed_total{status=\"%s\"} %d\n", k, queueCompletedTotal[k])
	}

	b.WriteString("# HELP jobfinder_pipeline_runs_total Total per-item pipeline runs by item type and outcome\n")
	b.WriteString("# TYPE jobfinder_pipeline_runs_total counter\n")
	var pipelineKeys []pipelineKey
	for k := range pipelineRunsTotal {
		pipelineKeys = append(pipelineKeys, k)
	}
	sort.Slice(pipelineKeys, func(i, j int) bool {
		if pipelineKeys[i].Kind != pipelineKeys[j].Kind {
			return pipelineKeys[i].Kind < pipelineKeys[j].Kind
		}
		return pipelineKeys[i].Outcome < pipelineKeys[j].Outcome
	})
	for _, k := range pipelineKeys {
		fmt.Fprintf(&b, "jobfinder_pipeline_runs_total{kind=\"%s\",outcome=\"%s\"} %d\n", k.Kind, k.Outcome, pipelineRunsTotal[k])
	}

	b.WriteString("# HELP jobfinder_rotation_picks_total Total sources picked by the rotation scheduler\n")
	b.WriteString("# TYPE jobfinder_rotation_picks_total counter\n")
	fmt.Fprintf(&b, "jobfinder_rotation_picks_total %d\n", rotationPicksTotal)

	b.WriteString("# HELP jobfinder_source_outcomes_total Total scrape attempts by source kind and outcome\n")
	b.WriteString("# TYPE jobfinder_source_outcomes_total counter\n")
	var sourceKeys []sourceOutcomeKey
	for k := range sourceOutcomeTotal {
		sourceKeys = append(sourceKeys, k)
	}
	sort.Slice(sourceKeys, func(i, j int) bool {
		if sourceKeys[i].Kind != sourceKeys[j].Kind {
			return sourceKeys[i].Kind < sourceKeys[j].Kind
		}
		return sourceKeys[i].Outcome < sourceKeys[j].Outcome
	})
	for _, k := range sourceKeys {
		fmt.Fprintf(&b, "jobfinder_source_outcomes_total{kind=\"%s\",outcome=\"%s\"} %d\n", k.Kind, k.Outcome, sourceOutcomeTotal[k])
	}

	return b.String()
}
