// Package async provides a panic-safe worker pool.
//
// WorkerPool runs queued tasks on a fixed set of goroutines and is used for
// webhook delivery. Panics are recovered, turned into errors and reported
// through logrus.
package async
