// Package main is the harvester entrypoint.
//
// Architecture overview:
//   - Catalog: the configured season range and categories are enumerated into jobs. Each job resolves to a
//     source URL, an extraction rule (CSS or XPath) and a deterministic artifact name.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by crawler.queue_depth and are
//     fanned out to a fixed worker pool sized by crawler.concurrency. Navigation jobs discover the per-season
//     stat subtypes and feed them back into the same run.
//   - Fetch pipeline: every attempt opens a fresh session (Colly for static pages, chromedp for rendered ones,
//     or both chained in auto mode) behind a per-host rate limiter. Transient failures are retried with linear
//     backoff up to retry.max_retries attempts.
//   - Persistence & fanout: fragments are written to the configured BlobStore (memory/local/GCS). An artifact
//     row is optionally written to Postgres and a Pub/Sub notification published when a topic is configured.
//
// Commands:
//   - harvester plan prints the jobs of the configured plan without touching the network.
//   - harvester run executes one run to completion and exits non-zero when any job failed.
//   - harvester serve exposes /v1/runs, health probes and /metrics and drains runs on SIGTERM.
package main

import "github.com/JakeFAU/hoops-harvester/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
