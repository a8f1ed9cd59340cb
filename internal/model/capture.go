package model

const (
	CaptureSuccess = "success"
	CaptureError   = "error"
)

// CaptureResult is returned by on-demand captures.
type CaptureResult struct {
	Status   string `json:"status"`
	ImageURL string `json:"image_url,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ImageRecord is one archived image as listed by /analytics.
type ImageRecord struct {
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"` // "2006-01-02 15:04:05" or "Unknown timestamp"
}
