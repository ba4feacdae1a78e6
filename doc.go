// Package visitguard implements increment-once visit counting for public
// memorial profiles. A Guard makes sure a resource is counted at most once per
// client (browser profile, CLI state file, rendering process), and a Visit binds
// that guarantee to one mounted view and one remote increment call.
//
// Components:
//   - Guard: per-key state machine Idle -> InFlight -> Completed, with a
//     durable mirror (mirror.Mirror) remembering Completed across reloads.
//   - Mirror: where Completed markers live. Local (in-process) by default,
//     Record (one structured record in a store.Store) or Redis hashes.
//   - Channel: optional cross-tab notification (broadcast.Channel).
//   - Visit: view controller exposing count/loading/error state.
//   - Incrementer: the remote endpoint, see package client.
//
// Keys:
//
//	Key{Kind: KindFamily, ID: "garcia-lopez"} // kind -> id, never string-prefixed
//
// Flow:
//
//	g, _ := visitguard.NewGuard(visitguard.GuardOptions{Mirror: m})
//	v := visitguard.NewVisit(g, client, visitguard.Key{Kind: visitguard.KindProfile, ID: slug})
//	v.Mount(ctx)
//	st := v.State() // Count, Loading, Err
package visitguard
