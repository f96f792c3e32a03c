//go:build windows

package flock

import (
	"math"
	"os"
	"syscall"
	"unsafe"
)

var (
	modkernel32    = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx = modkernel32.NewProc("LockFileEx")
)

const (
	lockfileFailImmediately = 1
	lockfileExclusiveLock   = 2
)

// Lock takes a non-blocking exclusive lock via LockFileEx over the
// whole file, passing a zeroed OVERLAPPED structure (offset 0).
func Lock(f *os.File) error {
	var ol syscall.Overlapped
	return lockFileEx(syscall.Handle(f.Fd()), lockfileExclusiveLock|lockfileFailImmediately, &ol)
}

func Unlock(*os.File) error {
	// Released implicitly when the file handle is closed.
	return nil
}

func lockFileEx(h syscall.Handle, flags uint32, ol *syscall.Overlapped) error {
	r1, _, e1 := syscall.SyscallN(
		procLockFileEx.Addr(),
		uintptr(h),
		uintptr(flags),
		0,
		math.MaxUint32,
		0,
		uintptr(unsafe.Pointer(ol)),
	)
	if r1 == 0 {
		if e1 != 0 {
			return e1
		}
		return syscall.EINVAL
	}
	return nil
}
