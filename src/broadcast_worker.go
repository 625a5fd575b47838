package main

import (
	"context"

	"github.com/ryansname/chargectl/src/controller"
)

// broadcastWorker receives snapshots and fans out to multiple downstream workers
func broadcastWorker(ctx context.Context, inputChan <-chan controller.Snapshot, outputChans []chan<- controller.Snapshot) {
	for {
		select {
		case snapshot := <-inputChan:
			for i, ch := range outputChans {
				select {
				case ch <- snapshot:
				case <-ctx.Done():
					return
				default:
					logger.Warnf("Downstream worker %d channel full, dropping update", i)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}
