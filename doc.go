// Package quip provides a client for a document-collaboration REST API
// (threads, folders, users, attachments and exports) that copes with the
// API's rate limiting.
//
// Every call is a GET with a bearer token. Responses are returned either as
// decoded JSON or as a raw Blob. When the server answers 429 or 503 the
// client waits and retries:
//   - the wait starts at one second and grows by 10% for every rate-limit
//     response the same path has seen during the client's lifetime
//   - up to 100ms of jitter is added
//   - an x-ratelimit-reset header in the future replaces the computed wait
//   - after 100 rate-limit responses on a path, calls to it give up with
//     ErrRateLimitExhausted
//
// Other failures are not retried. A non-success status comes back as a
// *StatusError and a transport fault as a wrapped error; in every case the
// returned value is nil. Failures are also logged through the Logger, which
// defaults to hclog and can be replaced with SetLogger.
//
// Configuration uses the functional options pattern:
//
//	client, err := quip.New("https://platform.quip.com/1", token,
//	    quip.WithRateLimit(5.0, 2),
//	    quip.WithTimeout(30*time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	thread, err := client.GetThread(ctx, "AVN9AAeqq5w")
//	pdf, err := client.GetPDF(ctx, "AVN9AAeqq5w")
package quip
