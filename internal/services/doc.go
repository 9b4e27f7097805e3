// Package services holds the data model shared by the service installer and
// runner.
//
// # Core Concepts
//
// Definition: immutable catalog metadata for one installable service
// version, e.g. "php-8.3" in category "PHP".
//
// Instance: a service installed below <base>/bin/<category>/<name>. It owns
// the lifecycle Status and, while Running or Stopping, the handle of the
// process it was started as.
//
// Registry: discovers installed instances on disk and resolves their launch
// commands from configured templates.
//
// # Status Machine
//
// Every status change goes through CanTransition. The only edges are:
//
//	Stopped  -> Starting
//	Starting -> Running | Stopped
//	Running  -> Stopping | Stopped (process exited on its own)
//	Stopping -> Stopped
//
// Changes are made with compare-and-swap semantics under the instance lock,
// so two concurrent Start requests cannot both leave Stopped.
//
// # State Change Notifications
//
// An Instance calls its StateChangeCallback after each successful change,
// outside of its lock and in transition order:
//
//	inst.SetStateChangeCallback(func(name string, old, new services.Status, err error) {
//	    fmt.Printf("%s: %s -> %s\n", name, old, new)
//	})
package services
