// Package devices detects removable storage volumes and owns the live
// volume set.
//
// A Watcher combines a poll loop with udev netlink and fsnotify triggers,
// assigns stable identifiers to mounted partitions, publishes attach and
// removal events through an events.Bus, and performs safe ejects after
// checking the shared handle Registry and other processes' open files.
// Guard lets filesystem code fail fast on paths that belong to a card that
// has been pulled.
package devices
