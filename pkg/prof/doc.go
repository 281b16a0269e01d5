// Package prof records runtime profiles of a driver process.
//
// A Session is started once at program start and stopped on exit:
//
//	s, err := prof.Start(prof.Config{CPU: "cpu.prof", Mutex: "mutex.prof"})
//	if err != nil {
//		return err
//	}
//	defer s.Stop()
//
// The CPU profile streams while the session runs. Heap, block and mutex
// profiles are snapshots written by Stop. Block and mutex sampling is
// enabled only for the profiles that were requested, which makes them
// useful for finding contention on channel and interface locks.
//
// Only one session may run at a time.
package prof
