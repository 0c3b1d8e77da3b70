package dto

import "github.com/ahmetcoskunkizilkaya/clinic-roster/internal/clinic"

type RosterListResponse struct {
	Entries []clinic.Entry `json:"entries"`
	Total   int            `json:"total"`
}

// EntryResponse carries a stored entry. Warning is set when the entry was
// saved but the global patient record could not be updated.
type EntryResponse struct {
	Entry   clinic.Entry `json:"entry"`
	Warning string       `json:"warning,omitempty"`
}

type AttachmentResponse struct {
	URL string `json:"url"`
}

type ListToggleResponse struct {
	ListOpen bool `json:"listOpen"`
}
