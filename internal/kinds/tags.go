package kinds

// Well-known tag names and values.
const (
	ETag      = "e"
	PTag      = "p"
	ClientTag = "client"

	// ClientTagValue is the attribution this client stamps on its own
	// posts and the value the client-only display filter matches.
	ClientTagValue = "flowgazer"
)
