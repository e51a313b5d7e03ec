package event

import (
	"sync"
)

var (
	requestPool = sync.Pool{
		New: func() any { return &Request{} },
	}
	responsePool = sync.Pool{
		New: func() any { return &Response{} },
	}
)

// AcquireRequest gets a zeroed Request from the pool.
func AcquireRequest() *Request {
	return requestPool.Get().(*Request)
}

// ReleaseRequest resets the request and returns it to the pool.
func ReleaseRequest(r *Request) {
	*r = Request{}
	requestPool.Put(r)
}

// AcquireResponse gets a zeroed Response from the pool.
func AcquireResponse() *Response {
	return responsePool.Get().(*Response)
}

// ReleaseResponse resets the response and returns it to the pool.
// Slices are dropped rather than reused so released payloads cannot
// leak into the next response.
func ReleaseResponse(r *Response) {
	*r = Response{}
	responsePool.Put(r)
}

// Warmup pre-populates the pools so the hot path does not allocate
// during the first burst after startup.
func Warmup() {
	const n = 1024
	requests := make([]*Request, n)
	responses := make([]*Response, n)
	for i := 0; i < n; i++ {
		requests[i] = AcquireRequest()
		responses[i] = AcquireResponse()
	}
	for i := 0; i < n; i++ {
		ReleaseRequest(requests[i])
		ReleaseResponse(responses[i])
	}
}
