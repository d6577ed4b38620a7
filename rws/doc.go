// Package rws implements the control plane of the robot client: HTTP
// request/response against the controller's web services interface plus
// event subscriptions delivered over a persistent websocket connection.
//
// The Client owns authentication state and the subscription multiplexer.
// Typed helpers cover the common controller operations (RAPID execution,
// I/O signals, RAPID variables, event log, motion system queries, file
// service, IPC queues); Request is the escape hatch for everything else.
//
// Transports are consumed through interfaces. Transport and StreamDialer
// have default adapters over net/http and gorilla/websocket; tests inject
// fakes.
//
//	client, err := rws.NewClient(rws.ClientDeps{Config: cfg})
//	if err != nil {
//	    return err
//	}
//	if err := client.Login(ctx); err != nil {
//	    return err
//	}
//	defer client.Logout(ctx)
//
//	sub, err := client.OpenSubscription(ctx, []rws.Resource{
//	    rws.SignalResource("Local", "DRV_1", "DO_GRIP"),
//	    rws.ExecutionStateResource(),
//	}, rws.ModeGroup)
//	if err != nil {
//	    return err
//	}
//	for ev := range sub.Events() {
//	    handle(ev)
//	}
package rws
