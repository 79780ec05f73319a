// Package lua runs scripts on an embedded gopher-lua interpreter.
//
// Every interpreter context owns one sandboxed LState. Only the base, table,
// string and math libraries are opened; dofile, loadfile, load, loadstring
// and require are removed. Scripts reach the outside world through these
// globals:
//
//	arg                  argv table, arg[0] is the script name
//	DEVICE_ID            device the run is bound to, 0 for none
//	print(...)           write a line to the run's output
//	echo(...)            write without separators or newline
//	exit(code)           stop the script with an exit status
//	log.info/warn/error  structured log lines tagged with the script name
//	events.*             subscribe, unsubscribe, poll and drain device events
//	devices.exists(id)   device catalog lookup
//	session.*            start and destroy the web session (_SESSION)
//	http.*               request inspection and response headers
//
// A chunk that returns a number sets the exit status. Globals survive between
// requests served by the same context, so a keep-alive script can keep state
// from one iteration to the next.
package lua
