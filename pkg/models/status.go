package models

// RequestStatus represents the processing status of a request lineage in the database
type RequestStatus string

const (
	RequestStatusUnset    RequestStatus = ""          // Zero value = unset/unknown
	RequestStatusPending  RequestStatus = "pending"   // Queued but not processed
	RequestStatusSuccess  RequestStatus = "success"   // Callback finished without error
	RequestStatusFailure  RequestStatus = "failure"   // Fetch or callback failed
	RequestStatusRetrying RequestStatus = "retrying"  // Re-issued after an extraction retry signal
	RequestStatusDropped  RequestStatus = "dropped"   // Extraction retry budget exhausted
	RequestStatusNotFound RequestStatus = "not_found" // Not in database
	RequestStatusDBError  RequestStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s RequestStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestStatusPending, RequestStatusSuccess, RequestStatusFailure, RequestStatusRetrying, RequestStatusDropped:
		return true
	}
	return false
}

// IsTerminal reports whether a lineage in this status must not be requeued on resume
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusSuccess || s == RequestStatusDropped
}
