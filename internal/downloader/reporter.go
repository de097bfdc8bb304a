package downloader

import "sync"

// pageReporter publishes "page N of M" from concurrent page fetchers.
// Completions are counted and reported under one lock so observers see N
// increase by one each time.
type pageReporter struct {
	mu     sync.Mutex
	done   int
	total  int
	report func(ChapterPhase) error
}

func newPageReporter(total int, report func(ChapterPhase) error) *pageReporter {
	return &pageReporter{total: total, report: report}
}

func (r *pageReporter) pageDone() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
	return r.report(ChapterPhase{Step: ChapterPage, Page: r.done, Pages: r.total})
}
