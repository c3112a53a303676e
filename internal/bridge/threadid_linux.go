//go:build linux

package bridge

import "golang.org/x/sys/unix"

func currentThreadID() ThreadID { return ThreadID(unix.Gettid()) }
