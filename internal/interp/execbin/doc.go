// Package execbin runs scripts through external interpreter binaries.
//
// Each file extension maps to a binary (".sh" to /bin/sh, ".py" to
// python3). The script runs as its own process group so that cancelling the
// run signals every child it spawned: SIGTERM first, SIGKILL after the
// grace period.
//
// The process sees its run through environment variables:
//
//	GRAYLOGIC_DEVICE_ID     device the run is bound to, 0 for none
//	GRAYLOGIC_LISTENER_ID   event listener name of the run
//	GRAYLOGIC_CLI           "1" for command-line runs
//
// Web requests additionally get CGI-style REQUEST_METHOD, REQUEST_URI,
// QUERY_STRING, CONTENT_TYPE and HTTP_COOKIE, with the request body on
// stdin. Stdout is the run's output; stderr is logged line by line.
//
// Sessions are not available to external scripts.
package execbin
