package server

import (
	"time"
)

// logAccess writes one line per served connection. req is nil when the
// request line was malformed.
func logAccess(connID, ip string, req *Request, resp Response, bytes int, duration time.Duration) {
	fields := map[string]interface{}{
		"conn_id": connID,
		"status":  resp.Status,
		"ms":      duration.Milliseconds(),
		"bytes":   bytes,
		"ip":      ip,
	}
	if req != nil {
		fields["method"] = req.Method
		fields["path"] = req.Path
		if ua := req.Header("User-Agent"); ua != "" {
			fields["ua"] = ua
		}
	}

	switch {
	case resp.Status >= 500:
		Warn("request", fields)
	default:
		Info("request", fields)
	}
}
