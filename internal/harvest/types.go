package harvest

import "strconv"

// WorkItem is one URL queued for extraction. The zero value with stop set is
// the sentinel that tells a worker to exit.
type WorkItem struct {
	URL  string
	stop bool
}

// Item wraps a URL as a real work item.
func Item(url string) WorkItem {
	return WorkItem{URL: url}
}

// Stop returns the sentinel work item.
func Stop() WorkItem {
	return WorkItem{stop: true}
}

// IsStop reports whether the item is the sentinel.
func (w WorkItem) IsStop() bool {
	return w.stop
}

// Rating is the payload an Extractor returns on success.
type Rating struct {
	Score       *string
	ReviewCount *int
}

// Result is produced exactly once per completed work item, whether it
// succeeded or exhausted its attempts. Failed results carry nil fields and are
// persisted like successful ones.
type Result struct {
	URL         string
	Score       *string
	ReviewCount *int
	Success     bool
	Attempts    int
	Err         string
}

// Succeeded builds a successful Result from a Rating.
func Succeeded(url string, rating Rating, attempts int) Result {
	return Result{
		URL:         url,
		Score:       rating.Score,
		ReviewCount: rating.ReviewCount,
		Success:     true,
		Attempts:    attempts,
	}
}

// Failed builds a failed Result. The score and review count stay nil.
func Failed(url string, attempts int, err error) Result {
	res := Result{URL: url, Attempts: attempts}
	if err != nil {
		res.Err = err.Error()
	}
	return res
}

// ScoreText renders the score as stored in tabular output; absent is empty.
func (r Result) ScoreText() string {
	if r.Score == nil {
		return ""
	}
	return *r.Score
}

// ReviewCountText renders the review count as stored in tabular output.
func (r Result) ReviewCountText() string {
	if r.ReviewCount == nil {
		return ""
	}
	return strconv.Itoa(*r.ReviewCount)
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
