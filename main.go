// Command ratingharvest collects review scores and review counts for a list
// of URLs.
//
// Architecture overview:
//   - Input: internal/input reads a CSV with a URL column (or a .txt list).
//     internal/dedup drops URLs already present in durable output and
//     duplicates within the input.
//   - Queue & pool: remaining URLs go into a bounded in-memory queue
//     (internal/queue/memory) followed by one stop sentinel per worker. The
//     dispatcher runs a fixed pool of workers; each exits on its sentinel.
//   - Attempts: internal/retry wraps the colly extractor with a randomized
//     pre-attempt delay and retries rate-limited responses on a fixed backoff
//     schedule. Every other failure is final for that URL.
//   - Persistence: workers append results to a shared buffer. The checkpoint
//     writer swaps and flushes it on an interval and once more on exit, to
//     CSV, Postgres, Redis or Google Cloud Storage.
//   - Shutdown: SIGINT/SIGTERM flips a running flag. Workers finish the item
//     in hand and stop taking new ones; the final flush still runs, so a
//     re-run resumes where this one stopped.
//   - Observability: zap logs carry the run ID; Prometheus collectors and a
//     JSON progress snapshot are served by the optional status server.
package main

import (
	"github.com/JakeFAU/ratingharvest/cmd"
)

func main() {
	cmd.Execute()
}
