package models

import "time"

// NotificationKind tags requester-facing progress messages
type NotificationKind string

const (
	NotifyQueued           NotificationKind = "queued"
	NotifyProcessing       NotificationKind = "processing"
	NotifyUploading        NotificationKind = "uploading"
	NotifyRemoteProcessing NotificationKind = "processing_remote"
	NotifyVerified         NotificationKind = "verified"
	NotifyReportReady      NotificationKind = "report_ready"
	NotifyAIScore          NotificationKind = "ai_score"
	NotifyReportsReady     NotificationKind = "reports_ready"
	NotifyNotFound         NotificationKind = "not_found"
	NotifyNotReady         NotificationKind = "not_ready"
	NotifyError            NotificationKind = "error"
	NotifyFile             NotificationKind = "file"
)

// Notification is one progress message for a requester
type Notification struct {
	Kind      NotificationKind  `json:"kind"`
	OwnerID   int64             `json:"owner_id"`
	ItemID    string            `json:"item_id,omitempty"`
	Text      string            `json:"text"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ShareLink is an externally hosted copy of an artifact
type ShareLink struct {
	Name        string `json:"name"`
	ViewURL     string `json:"view_url"`
	DownloadURL string `json:"download_url"`
}
