package browser

import (
	"sync"

	cdpbrowser "github.com/chromedp/cdproto/browser"
)

type downloadResult struct {
	guid      string
	suggested string
	completed bool
}

// downloadTracker turns browser download events into completions.
// A browser serves one worker, so at most one download is awaited at a time.
type downloadTracker struct {
	mu        sync.Mutex
	suggested map[string]string
	done      chan downloadResult
}

func newDownloadTracker() *downloadTracker {
	return &downloadTracker{
		suggested: make(map[string]string),
		done:      make(chan downloadResult, 8),
	}
}

func (t *downloadTracker) handle(ev interface{}) {
	switch ev := ev.(type) {
	case *cdpbrowser.EventDownloadWillBegin:
		t.mu.Lock()
		t.suggested[ev.GUID] = ev.SuggestedFilename
		t.mu.Unlock()
	case *cdpbrowser.EventDownloadProgress:
		if ev.State != cdpbrowser.DownloadProgressStateCompleted && ev.State != cdpbrowser.DownloadProgressStateCanceled {
			return
		}
		t.mu.Lock()
		suggested := t.suggested[ev.GUID]
		delete(t.suggested, ev.GUID)
		t.mu.Unlock()

		select {
		case t.done <- downloadResult{guid: ev.GUID, suggested: suggested, completed: ev.State == cdpbrowser.DownloadProgressStateCompleted}:
		default:
		}
	}
}

// drain discards completions left over from earlier downloads
func (t *downloadTracker) drain() {
	for {
		select {
		case <-t.done:
		default:
			return
		}
	}
}
