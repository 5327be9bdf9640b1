package entity

// RemoteEntry represents one anchor parsed from an HTTP directory listing.
type RemoteEntry struct {
	Name  string // href text, relative to the listing URL
	IsDir bool   // true when the href ends with "/"
}

// TransferTarget identifies a single file to fetch.
type TransferTarget struct {
	SourceURL       string
	DestinationPath string
}

// Credentials for HTTP basic auth. Applied only when both fields are set.
type Credentials struct {
	Username string
	Password string
}

// IsSet reports whether the credentials should be attached to a request.
func (c Credentials) IsSet() bool {
	return c.Username != "" && c.Password != ""
}

// TransferStatus is the terminal state of one file transfer attempt.
type TransferStatus string

const (
	TransferPending         TransferStatus = "Pending"
	TransferStreaming       TransferStatus = "Streaming"
	TransferCompleted       TransferStatus = "Completed"
	TransferSkipped         TransferStatus = "Skipped"
	TransferFailedPermanent TransferStatus = "FailedPermanent"
	TransferFailedRetrying  TransferStatus = "FailedRetrying"
	TransferCanceled        TransferStatus = "Canceled"
)

func (s TransferStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the transfer reached a final state.
func (s TransferStatus) IsTerminal() bool {
	switch s {
	case TransferCompleted, TransferSkipped, TransferFailedPermanent, TransferCanceled:
		return true
	}

	return false
}
