// Package barrel routes JSON messages to listeners by pattern, calls named
// services and fires messages on cron schedules.
//
// A message is any JSON value. Listeners register a pattern and run for
// every message that pattern matches. Every matching listener runs, each in
// its own goroutine, and a failing listener never affects the others.
//
// # Patterns
//
// Patterns live in the match package and come in three kinds:
//
//   - Literal: a key that must appear anywhere in the message
//   - Path: a JSONPath expression; expressions not starting with "$" are
//     searched at any depth
//   - Shape: a partial object compared against every object in the message
//
// A shape value can be a scalar compared by equality, match.Any for any
// present value, a *regexp.Regexp tested against the value's text, or a
// nested shape.
//
//	e := barrel.New()
//
//	e.OnFunc(match.Literal("ping"), func(ctx context.Context, ev *barrel.Event) error {
//	    return ev.Respond(ctx, map[string]string{"pong": "ok"})
//	})
//
//	e.OnFunc(match.MustObject(match.Shape{"type": "order", "total": match.Any}),
//	    func(ctx context.Context, ev *barrel.Event) error {
//	        order, _ := ev.Value()
//	        ...
//	    })
//
// Registering a pattern twice is a no-op: patterns are deduplicated by a
// case-insensitive key and the first listener wins.
//
// # Responses
//
// A transport that expects an answer passes a Responder. It receives
// exactly one response per message: the first Event.Respond, a failure,
// ErrNoListener when nothing matched, or an empty object once every
// listener returned without responding. Listener errors reach the
// responder only as ErrHandlerFailed; the cause goes to the error handler.
//
// # Sources
//
// Process accepts raw bytes from a transport. With no sources registered
// every valid JSON document is routed as is. Sources unwrap envelopes
// (EventBridge detail, queue bodies, RPC requests) and are selected by a
// cheap Discriminator before parsing:
//
//	e.AddSource(barrel.EnvelopeSource("eventbridge",
//	    barrel.HasFields("detail-type", "detail"), "detail"))
//
// The source that matched last is tried first on the next message.
//
// # Services
//
// A Service groups local actions and outbound HTTP requests under a name.
// Call resolves "service.name" to the action, or to the request when there
// is no action of that name:
//
//	e.Register(barrel.Service{
//	    Name:   "github",
//	    Bearer: token,
//	    Requests: map[string]barrel.RequestFunc{
//	        "issue": func(args ...any) (barrel.RequestSpec, error) {
//	            return barrel.RequestSpec{URL: "https://api.github.com/repos/o/r/issues/" + cast.ToString(args[0])}, nil
//	        },
//	    },
//	})
//
//	issue, err := e.Call(ctx, "github.issue", 42)
//
// # Schedules
//
// Schedule binds a pattern to a cron expression. When it is due, the
// pattern's message is dispatched as if it had arrived from a transport.
// In ModeSystem the engine ticks itself once a second; in ModePolled an
// external caller drives it with Tick.
//
//	e.Schedule(match.Literal("nightly-report"), "0 0 2 * * *")
//	e.Start(ctx)
//
// # Hooks
//
// Options such as WithOnDispatch, WithOnSuccess and WithOnFailure observe
// listeners for logging and metrics. Sources can implement OnParseHook,
// OnSuccessHook and OnFailureHook for source-specific behavior.
package barrel
