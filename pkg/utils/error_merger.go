// Package utils holds small concurrency helpers shared by the gateway's long-running components.
package utils //nolint:revive // var-naming: utils is an acceptable package name for shared utilities

import "sync"

// MergeErrorChans fans several error channels into one. The result closes
// once every input has closed.
func MergeErrorChans(channels ...<-chan error) <-chan error {
	out := make(chan error, len(channels))
	var wg sync.WaitGroup

	wg.Add(len(channels))
	for _, ch := range channels {
		go func(c <-chan error) {
			defer wg.Done()
			for err := range c {
				out <- err
			}
		}(ch)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// FirstError blocks until errs yields a non-nil error or closes.
func FirstError(errs <-chan error) error {
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
