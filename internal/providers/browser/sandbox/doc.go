/*
Package sandbox provides an in-process page for running kiosk scripts
without a browser.

# Overview

A Runtime is one goja VM owned by an event loop goroutine. Callers submit
tasks (evaluations, bindings, navigations) and the loop runs them one at a
time, followed by the promise job queue, so page code sees the same
single-threaded ordering it would in a browser tab.

The global environment carries:

  - setTimeout, setInterval and their clears, backed by Go timers
  - Promise, async functions and queueMicrotask
  - MutationObserver with microtask delivery
  - a small DOM: document, elements, text nodes, events, querySelector
  - console capture (see Runtime.Console)

require, process, module and exports are removed.

# Driver

Page wraps a Runtime as a browser.Driver. Goto replaces the document and
emits browser.PageNavigated; Close emits browser.PageClosed. Screenshot is
unsupported.

A data:text/html URL is parsed with goquery and becomes the new document.
Its script elements run in order once the tree is built. Any other URL
yields an empty document.

# Limits

Every task is interrupted after Config.Timeout, so a runaway loop fails
that task instead of wedging the page. Values cross the Go boundary as
JSON.

# Usage Example

	page := sandbox.NewPage(sandbox.DefaultConfig(), logger)
	if err := page.Init(ctx); err != nil {
		return err
	}
	defer page.Close()

	v, err := page.Evaluate(ctx, "function (n) { return n * 2; }", 21)
*/
package sandbox
