package models

// Metadata describes a job submission (both URL and file paths).
type Metadata struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
}

// CaptureOptions are only meaningful for URL submissions that point at a
// live source.
type CaptureOptions struct {
	Live            bool `json:"live"`
	MaxDurationSecs int  `json:"max_duration_secs,omitempty"`
}

// PresignedUpload is a one-time, pre-authorized blob destination issued by
// the server. It is valid for a single upload attempt; a retry starts over
// with a fresh presign.
type PresignedUpload struct {
	UploadID      string            `json:"upload_id"`
	URL           string            `json:"url"`
	Headers       map[string]string `json:"headers,omitempty"`
	ContentLength int64             `json:"content_length"`
}
