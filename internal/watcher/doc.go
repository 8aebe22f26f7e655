// Package watcher observes an evidence inbox directory and reports
// settled change batches to the ingest pipeline.
//
// Two strategies back the watcher:
//   - fsnotify, the default, for local filesystems
//   - snapshot polling, for network shares and container mounts where
//     kernel notification never fires
//
// Raw events are filtered (hidden directories, staging files such as
// partial copies and editor swap files) and debounced per path, so a
// multi-gigabyte exhibit copied into the inbox surfaces as exactly one
// CREATE once the copy finishes.
//
// Usage:
//
//	w, err := watcher.NewInboxWatcher(watcher.DefaultOptions(), logger)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	go w.Start(ctx, inboxDir)
//
//	for batch := range w.Events() {
//	    // feed the batch to the ingest pipeline
//	}
package watcher
