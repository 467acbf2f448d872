package types

// TranscribeResponse is the body of a successful transcription.
type TranscribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`

	// Remaining is the remaining quota in minutes after this request.
	Remaining *float64 `json:"remaining,omitempty"`

	Error string `json:"error,omitempty"`

	// OverQuota is set when the transcript was delivered but its duration
	// could not be charged because the window was used up meanwhile.
	OverQuota bool `json:"overQuota"`

	// Warning is set when usage could not be recorded.
	Warning string `json:"warning,omitempty"`

	Usage *UsageResponse `json:"usage,omitempty"`
}
