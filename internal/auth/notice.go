package auth

import "sync"

// NoticeKind identifies why a notice was raised.
type NoticeKind string

const (
	NoticeInactivity   NoticeKind = "inactivity"
	NoticeSignedOut    NoticeKind = "signed_out"
	NoticeSignInFailed NoticeKind = "sign_in_failed"
	NoticeRenewal      NoticeKind = "renewal_failed"
	// NoticeMessage is a plain page notification such as "record saved".
	NoticeMessage NoticeKind = "message"
)

// Notice is a user-facing notification queued for the next rendered page.
type Notice struct {
	Kind     NoticeKind `json:"kind"`
	Severity Severity   `json:"-"`
	Level    string     `json:"level"`
	Message  string     `json:"message"`
}

// Notifier observes notices as they are raised.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

const maxQueuedNotices = 20

// noticeQueue is a bounded FIFO of notices waiting to be displayed.
type noticeQueue struct {
	mu    sync.Mutex
	items []Notice
}

func (q *noticeQueue) push(n Notice) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == maxQueuedNotices {
		q.items = q.items[1:]
	}
	q.items = append(q.items, n)
}

func (q *noticeQueue) drain() []Notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
