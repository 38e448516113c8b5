package kv

// Simple JSON protocol for the cache daemon over a Unix domain socket.
// Requests and responses are newline-delimited JSON values; a connection may
// carry any number of request/response pairs.

const (
	OpGet    = "get"
	OpPut    = "put"
	OpDelete = "delete"
	OpScan   = "scan"
	OpFlush  = "flush"
)

type Request struct {
	Op         string `json:"op"`
	Key        string `json:"key,omitempty"`
	Value      []byte `json:"value,omitempty"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
	Pattern    string `json:"pattern,omitempty"`
}

type Response struct {
	OK    bool     `json:"ok"`
	Value []byte   `json:"value,omitempty"`
	Keys  []string `json:"keys,omitempty"`
	// Code carries the platform error code so the client can rebuild
	// sentinel errors such as ErrNotFound.
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}
