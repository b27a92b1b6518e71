package squadcalv1

import (
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// ErrorDomain is the ErrorInfo domain of service-specific failures.
	ErrorDomain = "squadcal.v1"
	// ReasonConcurrentModification marks a mutation based on stale text.
	ReasonConcurrentModification = "CONCURRENT_MODIFICATION"
	// MetadataServerText holds the current server text in the ErrorInfo.
	MetadataServerText = "server_text"
)

// ConcurrentModificationStatus builds the FailedPrecondition status for a stale baseline.
func ConcurrentModificationStatus(serverText string) *status.Status {
	st := status.New(codes.FailedPrecondition, "concurrent modification")
	withInfo, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   ReasonConcurrentModification,
		Domain:   ErrorDomain,
		Metadata: map[string]string{MetadataServerText: serverText},
	})
	if err != nil {
		return st
	}
	return withInfo
}

// ConcurrentModification reports whether err carries the stale-baseline
// detail and returns the server text from it.
func ConcurrentModification(err error) (serverText string, ok bool) {
	if err == nil {
		return "", false
	}
	var se interface{ GRPCStatus() *status.Status }
	if !errors.As(err, &se) {
		return "", false
	}
	st := se.GRPCStatus()
	if st.Code() != codes.FailedPrecondition {
		return "", false
	}
	for _, d := range st.Details() {
		if info, isInfo := d.(*errdetails.ErrorInfo); isInfo && info.GetReason() == ReasonConcurrentModification {
			return info.GetMetadata()[MetadataServerText], true
		}
	}
	return "", false
}
