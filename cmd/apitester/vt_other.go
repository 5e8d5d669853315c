//go:build !windows

package main

func enableVTProcessing() (restore func(), err error) {
	return func() {}, nil
}
