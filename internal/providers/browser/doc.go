/*
Package browser controls the kiosk browser window.

# Overview

Driver is the page-control surface used by the HTTP API and the script
executor: navigation, input, screenshots, window visibility, lifecycle and
the two primitives scripts need (Evaluate and ExposeBinding).

Manager implements Driver with playwright. It either launches Chromium on
a persistent profile in kiosk mode or, when BROWSER_CDP_URL is set,
attaches to a browser that is already running.

# Lifecycle

  - Init launches once at startup.
  - EnsureReady relaunches when the page is gone, retrying behind a
    circuit breaker so a broken browser install does not spin.
  - Restart and Close tear the window down explicitly.

Stale Singleton* lock files left in the profile by a crashed browser are
removed before each launch.

# Page Events

Listeners registered with OnPageEvent receive PageNavigated when the main
frame commits a navigation, PageClosed when the page goes away and
BrowserDisconnected when the browser process does. Events from a previous
launch are never delivered.

Evaluate and ExposeBinding never relaunch: code bound to a page fails fast
once that page is gone.

# Window Control

Show and Hide use the DevTools Browser.setWindowBounds command and fall
back to the page Fullscreen API when DevTools is unavailable.
*/
package browser
