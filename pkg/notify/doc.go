/*
Package notify delivers billing events to HTTP endpoints.

Notifier implements billing.Notifier. Each event is serialized once and
posted to every active endpoint subscribed to its type:

	POST <endpoint url>
	Content-Type: application/json
	X-BMS-Event: invoice.paid
	X-BMS-Event-ID: <event id>
	X-BMS-Delivery: <delivery id>
	X-BMS-Timestamp: <unix seconds>
	X-BMS-Signature: sha256=<hex hmac of body>

Receivers verify the body with VerifySignature and the endpoint secret.

Deliveries run on an async.WorkerPool. Network errors, 5xx, 408 and 429
responses are retried with exponential backoff (1s doubling up to 5m,
five attempts); other 4xx responses fail immediately. Each endpoint is
rate limited with a token bucket. Delivery history is kept in memory and
exposed through Deliveries and Stats.
*/
package notify
