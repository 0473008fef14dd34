/*
Package resilience guards the kiosk browser against launch storms.

A Breaker wraps browser (re)launches: after repeated failures it opens and
rejects further attempts with ErrCircuitOpen until its timeout passes, then
admits a trial launch. Retry runs a bounded number of attempts with a fixed
delay and gives up early when the breaker is open.

	breaker := resilience.New("browser", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})

	err := resilience.Retry(ctx, resilience.RetryPolicy{Attempts: 3, Delay: time.Second},
		func(ctx context.Context, attempt int) error {
			return breaker.Do(ctx, launch)
		})

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure] -> Open
*/
package resilience
