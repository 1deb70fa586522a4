package models

// CallJob identifies one agent session. An empty PhoneNumber means an inbound or web call.
type CallJob struct {
	JobID       string
	PhoneNumber string
	RoomName    string
}

// Outbound reports whether the session has to place the SIP leg itself.
func (j CallJob) Outbound() bool {
	return j.PhoneNumber != ""
}

// SIPIdentity is the participant identity given to the outbound SIP leg, empty for
// inbound calls.
func (j CallJob) SIPIdentity() string {
	if !j.Outbound() {
		return ""
	}
	return "sip_" + j.PhoneNumber
}

// DispatchMetadata is the JSON document attached to a dispatched job.
type DispatchMetadata struct {
	PhoneNumber string `json:"phone_number"`
}

// DispatchResult is returned to HTTP callers for every dispatch attempt.
type DispatchResult struct {
	Success     bool   `json:"success"`
	DispatchID  string `json:"dispatch_id,omitempty"`
	RoomName    string `json:"room_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Status      string `json:"status,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RecordingInfo describes a WAV artifact on disk.
type RecordingInfo struct {
	Filename  string `json:"filename"`
	Filepath  string `json:"filepath"`
	JobID     string `json:"job_id"`
	Timestamp string `json:"timestamp"`
	SizeBytes int64  `json:"size_bytes"`
}
