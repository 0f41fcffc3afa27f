//go:build !unix

package fs

import "os"

// Without flock the in-process mutex is the only exclusion.
func tryLockFile(*os.File) (bool, error) { return true, nil }

func unlockFile(*os.File) error { return nil }
