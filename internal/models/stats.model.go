package models

// Stats is the server-computed aggregate snapshot. The server owns these
// counters; the client only holds the most recent successful fetch.
type Stats struct {
	TotalProducts  int64 `json:"total_products"`
	RecentUploads  int   `json:"recent_uploads"`
	ActiveWebhooks int   `json:"active_webhooks"`
}
