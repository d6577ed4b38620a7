// Package egm implements the real-time streaming plane of the robot client:
// a fixed-cadence frame exchange with the controller's externally guided
// motion interface over a connectionless UDP-style transport.
//
// The package has three parts:
//
//   - Codec: a stateless fixed-layout binary codec for sensor frames
//     (robot -> client) and command frames (client -> robot).
//   - Tracker: sequence-number classification (fresh, duplicate, reordered,
//     reset) with automatic re-baselining after controller restarts.
//   - Session: the streaming state machine bound to a net.PacketConn. The
//     receive loop keeps only the newest robot state in a one-slot mailbox;
//     Next and Send enforce the one-in-one-out cycle discipline, and a run
//     of missed cycles terminates the session.
//
// A typical correction loop:
//
//	sess := egm.NewSession(egm.SessionDeps{Config: cfg})
//	if err := sess.Start(ctx); err != nil {
//	    return err
//	}
//	defer sess.Stop(5 * time.Second)
//
//	for {
//	    state, err := sess.Next(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    cmd := computeCorrection(state.Frame)
//	    if err := sess.Send(cmd); err != nil {
//	        return err
//	    }
//	}
package egm
