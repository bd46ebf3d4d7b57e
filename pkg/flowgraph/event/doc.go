// Package event provides the lifecycle event bus that connects workflow
// services to notification and activity consumers.
//
// # Overview
//
// Services publish an Event when something a user cares about happens: a
// background project starts or finishes, an execution fails or is
// cancelled, an approval is requested or decided. Subscribers receive
// events on their own goroutine, so a slow consumer never stalls the
// publisher beyond its buffer.
//
//	bus := event.NewBus(event.DefaultBusConfig)
//	defer bus.Close()
//
//	sub, err := bus.Subscribe([]event.Type{event.ApprovalRequested}, func(ctx context.Context, evt event.Event) error {
//	    log.Printf("approval %s needs review", evt.SubjectID)
//	    return nil
//	})
//	defer sub.Unsubscribe()
//
//	bus.Publish(ctx, event.New(event.ApprovalRequested, "approval", userID, requestID,
//	    event.WithTitle("Review needed"),
//	    event.WithCorrelationID(threadID)))
//
// # Correlation
//
// CorrelationID groups events that belong to one workflow thread or
// execution. It defaults to the subject ID.
//
// # Delivery
//
// Each subscription delivers in publish order on its own goroutine. Publish
// blocks while a matching subscriber's buffer is full, so events are never
// dropped while the bus is open. Handler errors and panics go to OnError
// and never reach the publisher.
package event
