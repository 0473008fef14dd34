/*
Package script runs JavaScript in the kiosk page and manages the lifetime
of long-running scripts.

# One-shot

Executor.Execute evaluates source once and returns its value. A bare
expression is returned as is; a statement body runs inside an async
function so await and return work.

# Continuous

Executor.ExecuteContinuous reserves a script id, installs the page-side
interceptor and launches the source inside a scope whose setTimeout,
setInterval, MutationObserver and sendResult are tracked per id. Event
listeners added while the script runs are tracked too, and their callbacks
report through window.sendResult to the script that added them. Everything
the script sends arrives on a Channel in order. The script ends when:

  - it has no pending timers, observers, listeners or promises left (completed)
  - the consumer closes the channel or calls StopScript (stopped, disconnected)
  - the page navigates away or closes (page_lost)
  - the server shuts down (shutdown)

Closing a channel stops the script synchronously: the registry entry is
removed and the interceptor clears every timer, observer and listener the
script owned before Close returns.

# Registry

Registry tracks running scripts by id. Stop is idempotent and cleanup runs
at most once per script. Ids are ULIDs with a "script_" prefix.
*/
package script
