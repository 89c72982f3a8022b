package httpclient

import "time"

// RequestType tags a logical request so the client can pick the right
// timeout profile. Selecting a type is the caller's responsibility.
type RequestType string

const (
	// TypeHealth is for fast liveness probes of sibling services.
	TypeHealth RequestType = "health"
	// TypeQuery is for retrieval/search calls.
	TypeQuery RequestType = "query"
	// TypeManagement is for project/task management calls.
	TypeManagement RequestType = "management"
	// TypeDocument is for bulk document storage and uploads.
	TypeDocument RequestType = "document"
	// TypeCrawl is for long-running crawl operations.
	TypeCrawl RequestType = "crawl"
)

// TimeoutProfile bounds one attempt of a request.
type TimeoutProfile struct {
	Connect time.Duration
	Read    time.Duration
	Total   time.Duration
}

// profiles maps request types to their timeout tuples. Health checks get
// the shortest budget, crawling and document storage the longest.
var profiles = map[RequestType]TimeoutProfile{
	TypeHealth:     {Connect: 2 * time.Second, Read: 3 * time.Second, Total: 5 * time.Second},
	TypeQuery:      {Connect: 5 * time.Second, Read: 25 * time.Second, Total: 30 * time.Second},
	TypeManagement: {Connect: 5 * time.Second, Read: 25 * time.Second, Total: 30 * time.Second},
	TypeDocument:   {Connect: 10 * time.Second, Read: 110 * time.Second, Total: 2 * time.Minute},
	TypeCrawl:      {Connect: 10 * time.Second, Read: 280 * time.Second, Total: 5 * time.Minute},
}

// ProfileFor returns the timeout profile for a request type.
// Unknown types get the query profile.
func ProfileFor(rt RequestType) TimeoutProfile {
	if p, ok := profiles[rt]; ok {
		return p
	}
	return profiles[TypeQuery]
}
